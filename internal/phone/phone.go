// Package phone normalizes user-entered phone numbers into the digit form used
// for gateway calls and storage keys.
package phone

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxDigits is the number of trailing digits kept by Normalize
	MaxDigits = 12
	// MinDigits is the shortest normalized number accepted for login
	MinDigits = 10
)

// Normalize strips every non-digit and keeps at most the last MaxDigits digits.
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > MaxDigits {
		digits = digits[len(digits)-MaxDigits:]
	}
	return digits
}

// Valid reports whether the normalized form of s is long enough to request a code
func Valid(s string) bool {
	return len(Normalize(s)) >= MinDigits
}

// Mask masks a phone number for logging (e.g., 91********10)
func Mask(phone string) string {
	n := utf8.RuneCountInString(phone)
	if n <= 4 {
		return "****"
	}
	runes := []rune(phone)
	return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
}
