package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/milestep/milestep/internal/activity"
)

// Keys used by the local cache.
const (
	KeyActivities = "activities"
	KeySettings   = "settings"
	KeySyncCode   = "sync-code"
)

// Cache is the typed view of the local store used by a tracker session.
//
// Loads never fail on bad data: a missing or malformed value yields the
// empty default and a log line, so a corrupted cache cannot keep the
// tracker from starting.
type Cache struct {
	db       *DB
	logger   *log.Logger
	defaults activity.Settings
}

// NewCache wraps db. A nil logger means log.Default().
func NewCache(db *DB, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{db: db, logger: logger, defaults: activity.DefaultSettings()}
}

// SetDefaultSettings changes what LoadSettings returns when nothing valid is
// stored. Invalid settings are ignored.
func (c *Cache) SetDefaultSettings(s activity.Settings) {
	if s.Validate() == nil {
		c.defaults = s
	}
}

// DB exposes the underlying store.
func (c *Cache) DB() *DB {
	return c.db
}

// LoadRecords reads the persisted record set.
func (c *Cache) LoadRecords(ctx context.Context) ([]activity.Record, error) {
	data, err := c.db.GetContext(ctx, KeyActivities)
	if errors.Is(err, ErrNotFound) {
		return []activity.Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	records, skipped, err := activity.DecodeRecords(data)
	if err != nil {
		c.logger.Printf("Ignoring stored activities: %v", err)
		return []activity.Record{}, nil
	}
	if skipped > 0 {
		c.logger.Printf("Skipped %d invalid stored record(s)", skipped)
	}
	return records, nil
}

// SaveRecords persists the full record set.
func (c *Cache) SaveRecords(ctx context.Context, records []activity.Record) error {
	data, err := activity.EncodeRecords(records)
	if err != nil {
		return err
	}
	if err := c.db.PutContext(ctx, KeyActivities, data); err != nil {
		return fmt.Errorf("failed to save activities: %w", err)
	}
	return nil
}

// LoadSettings reads the persisted settings, or the cache defaults.
func (c *Cache) LoadSettings(ctx context.Context) (activity.Settings, error) {
	data, err := c.db.GetContext(ctx, KeySettings)
	if errors.Is(err, ErrNotFound) {
		return c.defaults, nil
	}
	if err != nil {
		return activity.Settings{}, err
	}
	s, ok := activity.DecodeSettings(data)
	if !ok {
		c.logger.Printf("Ignoring stored settings %q", data)
		return c.defaults, nil
	}
	return s, nil
}

// SaveSettings persists settings.
func (c *Cache) SaveSettings(ctx context.Context, s activity.Settings) error {
	data, err := activity.EncodeSettings(s)
	if err != nil {
		return err
	}
	if err := c.db.PutContext(ctx, KeySettings, data); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// LoadSyncCode returns the persisted sync code, or "" if none was saved.
func (c *Cache) LoadSyncCode(ctx context.Context) (string, error) {
	data, err := c.db.GetContext(ctx, KeySyncCode)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveSyncCode persists the sync code.
func (c *Cache) SaveSyncCode(ctx context.Context, code string) error {
	if err := c.db.PutContext(ctx, KeySyncCode, []byte(code)); err != nil {
		return fmt.Errorf("failed to save sync code: %w", err)
	}
	return nil
}
