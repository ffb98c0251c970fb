// Package dateparse turns user-typed dates ("2025-03-17", "yesterday",
// "last monday") into calendar dates.
package dateparse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/milestep/milestep/internal/activity"
)

// ErrUnrecognized is returned when text holds no date.
var ErrUnrecognized = errors.New("unrecognized date")

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// Parse resolves text relative to now and returns it as YYYY-MM-DD.
//
// Canonical dates are accepted as-is. "today" and an empty string mean now.
// Anything else goes through natural-language parsing.
func Parse(text string, now time.Time) (string, error) {
	text = strings.TrimSpace(text)
	switch strings.ToLower(text) {
	case "", "today", "now":
		return activity.FormatDate(now), nil
	}

	if t, err := time.ParseInLocation(activity.DateLayout, text, now.Location()); err == nil {
		return activity.FormatDate(t), nil
	}

	r, err := parser.Parse(text, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse date %q: %w", text, err)
	}
	if r == nil {
		return "", fmt.Errorf("%w: %q", ErrUnrecognized, text)
	}
	return activity.FormatDate(r.Time), nil
}
