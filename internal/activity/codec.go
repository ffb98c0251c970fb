package activity

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeRecords serializes records as a JSON array. An empty set encodes as
// [] rather than null, and absent weights encode as an explicit null.
func EncodeRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal records: %w", err)
	}
	return data, nil
}

// DecodeRecords parses a persisted or remote activity payload.
//
// Anything that is not a JSON array (including null and empty input) yields
// an empty set. Elements that do not decode as a record or fail validation
// are dropped and counted in skipped; a record without an id gets its date
// as id, since the date is the dedup key anyway. The returned error is informational: the record slice
// is always usable.
func DecodeRecords(data []byte) (records []Record, skipped int, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []Record{}, 0, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return []Record{}, 0, fmt.Errorf("malformed activity payload: %w", err)
	}

	records = make([]Record, 0, len(raw))
	for _, elem := range raw {
		var r Record
		if err := json.Unmarshal(elem, &r); err != nil {
			skipped++
			continue
		}
		if r.ID == "" {
			r.ID = r.Date
		}
		if r.Weight != nil && *r.Weight == 0 {
			r.Weight = nil
		}
		if err := r.Validate(); err != nil {
			skipped++
			continue
		}
		records = append(records, r)
	}
	return records, skipped, nil
}

// EncodeSettings serializes settings as {"stepsPerUnit": n}.
func EncodeSettings(s Settings) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	return data, nil
}

// DecodeSettings parses a settings payload. ok is false when the payload is
// absent, null, malformed, or carries a non-positive conversion factor.
func DecodeSettings(data []byte) (s Settings, ok bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Settings{}, false
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, false
	}
	if s.Validate() != nil {
		return Settings{}, false
	}
	return s, true
}
