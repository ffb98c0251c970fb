// Package synccode generates and validates the six-character codes that
// identify a shared data set across devices.
package synccode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Length is the number of characters in a code.
const Length = 6

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrInvalidCode is returned for codes that are not six uppercase
// alphanumeric characters after normalisation.
var ErrInvalidCode = errors.New("invalid sync code")

// Generate returns a fresh random code.
func Generate() (string, error) {
	var b strings.Builder
	b.Grow(Length)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate sync code: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Normalize trims surrounding whitespace and upper-cases the code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Parse normalises code and validates it.
func Parse(code string) (string, error) {
	code = Normalize(code)
	if err := Validate(code); err != nil {
		return "", err
	}
	return code, nil
}

// Validate checks an already normalised code.
func Validate(code string) error {
	if len(code) != Length {
		return fmt.Errorf("%w: %q must be %d characters", ErrInvalidCode, code, Length)
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(alphabet, code[i]) < 0 {
			return fmt.Errorf("%w: %q may only contain A-Z and 0-9", ErrInvalidCode, code)
		}
	}
	return nil
}

// ActivitiesPath is the remote path holding the record array for code.
func ActivitiesPath(code string) string {
	return "activities/" + code
}

// SettingsPath is the remote path holding the settings object for code.
func SettingsPath(code string) string {
	return "settings/" + code
}
