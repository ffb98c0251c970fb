package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the log file.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
	logMaxAgeDays = 28
)

// Logging hands out component loggers that share one destination: stderr,
// the rotated log file, both, or nothing.
type Logging struct {
	out  io.Writer
	file *lumberjack.Logger
}

// SetupLogging builds the log destination for app. With quiet set, stderr is
// dropped; the log file (if any) still receives everything.
func SetupLogging(app AppConfig, quiet bool) (*Logging, error) {
	var writers []io.Writer
	if !quiet {
		writers = append(writers, os.Stderr)
	}

	l := &Logging{}
	if app.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(app.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   app.LogPath,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, l.file)
	}

	switch len(writers) {
	case 0:
		l.out = io.Discard
	case 1:
		l.out = writers[0]
	default:
		l.out = io.MultiWriter(writers...)
	}
	return l, nil
}

// Logger returns a logger prefixed with "[component] ".
func (l *Logging) Logger(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Close flushes and closes the log file, if one is open.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
