package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.App.Name != "milestep" {
		t.Errorf("app.name = %q", cfg.App.Name)
	}
	if cfg.Remote.URL != "" || cfg.Remote.Timeout() != 10*time.Second {
		t.Errorf("remote = %+v", cfg.Remote)
	}
	if cfg.Relay.Port != 8787 {
		t.Errorf("relay.port = %d", cfg.Relay.Port)
	}
	if cfg.Tracker.DefaultStepsPerUnit != 2000 {
		t.Errorf("tracker.default_steps_per_unit = %d", cfg.Tracker.DefaultStepsPerUnit)
	}
	if filepath.Base(cfg.Storage.DBPath) != "milestep.db" || filepath.Base(cfg.Inbox.Dir) != "inbox" {
		t.Errorf("paths = %q, %q", cfg.Storage.DBPath, cfg.Inbox.Dir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  db_path: ` + filepath.Join(dir, "data.db") + `
remote:
  url: ws://example.test/ws
relay:
  port: 9001
tracker:
  default_steps_per_unit: 2400
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MST_REMOTE_TIMEOUT_SEC", "3")
	t.Setenv("MST_INBOX_DIR", filepath.Join(dir, "drop"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Storage.DBPath != filepath.Join(dir, "data.db") {
		t.Errorf("storage.db_path = %q", cfg.Storage.DBPath)
	}
	if cfg.Remote.URL != "ws://example.test/ws" || cfg.Remote.TimeoutSec != 3 {
		t.Errorf("remote = %+v", cfg.Remote)
	}
	if cfg.Relay.Port != 9001 {
		t.Errorf("relay.port = %d", cfg.Relay.Port)
	}
	if cfg.Inbox.Dir != filepath.Join(dir, "drop") {
		t.Errorf("inbox.dir = %q", cfg.Inbox.Dir)
	}
	if cfg.Tracker.DefaultStepsPerUnit != 2400 {
		t.Errorf("tracker.default_steps_per_unit = %d", cfg.Tracker.DefaultStepsPerUnit)
	}
	// Untouched keys keep their defaults.
	if cfg.App.Name != "milestep" {
		t.Errorf("app.name = %q", cfg.App.Name)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":     "relay: [",
		"bad port":     "relay:\n  port: 70000\n",
		"zero steps":   "tracker:\n  default_steps_per_unit: 0\n",
		"zero timeout": "remote:\n  timeout_sec: 0\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() should fail")
			}
		})
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Remote.URL = "ws://relay.test/ws"
	cfg.Relay.Port = 9100

	if err := WriteFile(path, cfg, false); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if err := WriteFile(path, cfg, false); err == nil {
		t.Error("second WriteFile without overwrite should fail")
	}
	if err := WriteFile(path, cfg, true); err != nil {
		t.Errorf("WriteFile with overwrite failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "default_steps_per_unit: 2000") {
		t.Errorf("written config missing tracker key:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Remote.URL != cfg.Remote.URL || loaded.Relay.Port != 9100 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	t.Setenv("MST_TEST_DIR", "/srv/mst")

	tests := map[string]string{
		"":                    "",
		"~":                   home,
		"~/x/y.db":            filepath.Join(home, "x/y.db"),
		"$MST_TEST_DIR/a.db":  "/srv/mst/a.db",
		"/abs/path.db":        "/abs/path.db",
		"relative/not~/tilde": "relative/not~/tilde",
	}
	for in, want := range tests {
		if got := ExpandPath(in); got != want {
			t.Errorf("ExpandPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSetupLogging(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mst.log")
	logging, err := SetupLogging(AppConfig{LogPath: path}, true)
	if err != nil {
		t.Fatalf("SetupLogging() failed: %v", err)
	}

	logging.Logger("tracker").Printf("hello %d", 42)
	if err := logging.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "[tracker] ") || !strings.Contains(string(data), "hello 42") {
		t.Errorf("log file = %q", data)
	}
}

func TestSetupLogging_QuietWithoutFile(t *testing.T) {
	logging, err := SetupLogging(AppConfig{}, true)
	if err != nil {
		t.Fatalf("SetupLogging() failed: %v", err)
	}
	defer logging.Close()
	logging.Logger("x").Print("dropped")
}
