// Package export writes and reads whole activity data sets as files.
//
// JSON is a bare array of records, the same shape the remote store and the
// local cache hold, so an exported file can be dropped straight into the
// inbox. YAML and TOML wrap the records in a document together with the
// settings.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/milestep/milestep/internal/activity"
	"github.com/milestep/milestep/internal/ledger"
)

// Format is an export file format.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
	TOML Format = "toml"
)

// Formats lists the supported formats.
var Formats = []Format{JSON, YAML, TOML}

// ParseFormat parses a format name, case-insensitively. "yml" is accepted.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	case "toml":
		return TOML, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json, yaml or toml)", s)
	}
}

// FormatFromPath picks the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return JSON
	}
	return f
}

// Document is the YAML and TOML file layout.
type Document struct {
	Settings   activity.Settings `yaml:"settings" toml:"settings"`
	Activities []activity.Record `yaml:"activities" toml:"activities"`
}

// Write encodes records (sorted most recent first) in format f.
func Write(w io.Writer, f Format, records []activity.Record, settings activity.Settings) error {
	sorted := make([]activity.Record, len(records))
	copy(sorted, records)
	ledger.SortByDateDesc(sorted)

	switch f {
	case JSON:
		data, err := activity.EncodeRecords(sorted)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return fmt.Errorf("failed to indent json: %w", err)
		}
		buf.WriteByte('\n')
		_, err = w.Write(buf.Bytes())
		return err

	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(Document{Settings: settings, Activities: sorted}); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()

	case TOML:
		if err := toml.NewEncoder(w).Encode(Document{Settings: settings, Activities: sorted}); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

// Read decodes a file written by Write (or any JSON array of records).
// Records failing validation are dropped and counted in skipped; a record
// without an id gets its date as id. Settings are returned only for YAML and
// TOML documents that carry a valid value.
func Read(data []byte, f Format) (records []activity.Record, settings *activity.Settings, skipped int, err error) {
	if f == JSON {
		records, skipped, err = activity.DecodeRecords(data)
		return records, nil, skipped, err
	}

	var doc Document
	switch f {
	case YAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, nil, 0, fmt.Errorf("failed to decode yaml: %w", err)
		}
	case TOML:
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, nil, 0, fmt.Errorf("failed to decode toml: %w", err)
		}
	default:
		return nil, nil, 0, fmt.Errorf("unknown export format %q", f)
	}

	records = make([]activity.Record, 0, len(doc.Activities))
	for _, r := range doc.Activities {
		if r.ID == "" {
			r.ID = r.Date
		}
		if err := r.Validate(); err != nil {
			skipped++
			continue
		}
		records = append(records, r)
	}
	if doc.Settings.Validate() == nil {
		s := doc.Settings
		settings = &s
	}
	return records, settings, skipped, nil
}
