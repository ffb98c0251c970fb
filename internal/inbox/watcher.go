// Package inbox watches a directory for exported activity files and merges
// them into a running tracker session.
//
// A file is any *.json document directly inside the inbox directory holding a
// JSON array of activity records. Once handled it is moved to processed/ (or
// rejected/ when it is not an array), so the inbox only ever holds files that
// have not been looked at yet.
package inbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/milestep/milestep/internal/activity"
	"github.com/milestep/milestep/internal/eventbus"
)

// Subdirectories of the inbox that handled files are moved to.
const (
	ProcessedDir = "processed"
	RejectedDir  = "rejected"
)

// Importer merges records. *tracker.Session implements it.
type Importer interface {
	Import(ctx context.Context, records []activity.Record) (int, error)
}

// Config holds configuration for the watcher.
type Config struct {
	// Dir is the inbox directory. It is created if missing.
	Dir string

	// DebounceInterval is how long a file must stay quiet before it is read.
	// Editors and copy tools write in several steps.
	DebounceInterval time.Duration

	// Hub receives an inbox.imported event per merged file (optional).
	Hub *eventbus.Hub

	// Logger for watcher activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for dir.
func DefaultConfig(dir string) *Config {
	return &Config{
		Dir:              dir,
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[inbox] ", log.LstdFlags),
	}
}

// Result describes one handled file.
type Result struct {
	File     string
	Merged   int
	Skipped  int
	Rejected bool
}

// Watcher feeds inbox files into an Importer.
type Watcher struct {
	importer Importer
	config   *Config

	watcher *fsnotify.Watcher
	pending map[string]time.Time // path -> last event
	mu      sync.Mutex
}

// New creates a watcher. Use Run to start it.
func New(importer Importer, config *Config) (*Watcher, error) {
	if importer == nil {
		return nil, fmt.Errorf("importer cannot be nil")
	}
	if config == nil || config.Dir == "" {
		return nil, fmt.Errorf("inbox dir cannot be empty")
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 200 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[inbox] ", log.LstdFlags)
	}

	for _, dir := range []string{config.Dir, filepath.Join(config.Dir, ProcessedDir), filepath.Join(config.Dir, RejectedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create inbox directory: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		importer: importer,
		config:   config,
		watcher:  watcher,
		pending:  make(map[string]time.Time),
	}, nil
}

// Run imports files already in the inbox, then watches for new ones until
// ctx is cancelled. The underlying fsnotify watcher is closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	if err := w.watcher.Add(w.config.Dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory %s: %w", w.config.Dir, err)
	}
	w.config.Logger.Printf("Watching: %s", w.config.Dir)

	if _, err := w.ScanContext(ctx); err != nil {
		w.config.Logger.Printf("Initial scan failed: %v", err)
	}

	ticker := time.NewTicker(w.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.isInboxFile(event.Name) {
				continue
			}
			w.queue(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.config.Logger.Printf("Watcher error: %v", err)

		case <-ticker.C:
			for _, path := range w.ready(time.Now()) {
				if _, err := w.ProcessFileContext(ctx, path); err != nil {
					w.config.Logger.Printf("Error importing %s: %v", path, err)
				}
			}
		}
	}
}

// Close releases the file system watch. Run calls it on return; it is only
// needed for a watcher that was never run.
func (w *Watcher) Close() error {
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Scan imports every file currently in the inbox, oldest name first.
func (w *Watcher) Scan() ([]Result, error) {
	return w.ScanContext(context.Background())
}

// ScanContext imports every file currently in the inbox with context support.
func (w *Watcher) ScanContext(ctx context.Context) ([]Result, error) {
	entries, err := os.ReadDir(w.config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	var paths []string
	for _, e := range entries {
		path := filepath.Join(w.config.Dir, e.Name())
		if !e.IsDir() && w.isInboxFile(path) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	var results []Result
	for _, path := range paths {
		res, err := w.ProcessFileContext(ctx, path)
		if err != nil {
			w.config.Logger.Printf("Error importing %s: %v", path, err)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// ProcessFile imports a single inbox file and moves it out of the inbox.
func (w *Watcher) ProcessFile(path string) (Result, error) {
	return w.ProcessFileContext(context.Background(), path)
}

// ProcessFileContext imports a single inbox file with context support.
func (w *Watcher) ProcessFileContext(ctx context.Context, path string) (Result, error) {
	res := Result{File: filepath.Base(path)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// Already moved by an earlier pass.
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to read inbox file: %w", err)
	}

	records, skipped, decodeErr := activity.DecodeRecords(data)
	res.Skipped = skipped
	if decodeErr != nil {
		w.config.Logger.Printf("Rejecting %s: %v", res.File, decodeErr)
		res.Rejected = true
		return res, w.move(path, RejectedDir)
	}

	merged, err := w.importer.Import(ctx, records)
	if err != nil {
		// Leave the file in place so the next scan retries it.
		return res, fmt.Errorf("failed to import %s: %w", res.File, err)
	}
	res.Merged = merged
	w.config.Logger.Printf("Imported %s: %d merged, %d skipped", res.File, merged, skipped)

	w.config.Hub.Publish(eventbus.Imported(res.File, merged))

	return res, w.move(path, ProcessedDir)
}

// move renames path into the given inbox subdirectory. An existing file of
// the same name is replaced.
func (w *Watcher) move(path, subdir string) error {
	dst := filepath.Join(w.config.Dir, subdir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", filepath.Base(path), subdir, err)
	}
	return nil
}

// queue records a change to path for debouncing.
func (w *Watcher) queue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = time.Now()
}

// ready removes and returns the queued paths that have been quiet for at
// least the debounce interval.
func (w *Watcher) ready(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var paths []string
	for path, queuedAt := range w.pending {
		if now.Sub(queuedAt) < w.config.DebounceInterval {
			continue
		}
		paths = append(paths, path)
		delete(w.pending, path)
	}
	sort.Strings(paths)
	return paths
}

// isInboxFile reports whether path is a *.json file directly in the inbox.
func (w *Watcher) isInboxFile(path string) bool {
	if filepath.Ext(path) != ".json" {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(w.config.Dir)
	if err != nil {
		return false
	}
	return filepath.Dir(absPath) == absDir
}
