// Package hscode validates and detects hierarchical customs classification codes.
// Validators never pad or truncate: a code is accepted only at its exact width.
package hscode

import (
	"strings"

	"golang.org/x/text/width"
)

// Digits folds full-width digits to ASCII and drops every non-digit rune
func Digits(raw string) string {
	folded := width.Fold.String(raw)
	var b strings.Builder
	b.Grow(len(folded))
	for i := 0; i < len(folded); i++ {
		if c := folded[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Normalize2Strict returns the 2-digit chapter in raw
func Normalize2Strict(raw string) (string, bool) { return normalizeStrict(raw, 2) }

// Normalize4Strict returns the 4-digit heading in raw
func Normalize4Strict(raw string) (string, bool) { return normalizeStrict(raw, 4) }

// Normalize6Strict returns the 6-digit HS subheading in raw
func Normalize6Strict(raw string) (string, bool) { return normalizeStrict(raw, 6) }

// Normalize10Strict returns the 10-digit national code in raw
func Normalize10Strict(raw string) (string, bool) { return normalizeStrict(raw, 10) }

// HS6Prefix returns the validated 6-digit prefix of a 10-digit national code
func HS6Prefix(raw string) (string, bool) {
	code, ok := Normalize10Strict(raw)
	if !ok {
		return "", false
	}
	return Normalize6Strict(code[:6])
}

// ValidChapter reports whether the first two digits form a chapter in 01-99
func ValidChapter(digits string) bool {
	if len(digits) < 2 {
		return false
	}
	return digits[0] >= '0' && digits[0] <= '9' &&
		digits[1] >= '0' && digits[1] <= '9' &&
		digits[:2] != "00"
}

func normalizeStrict(raw string, n int) (string, bool) {
	d := Digits(raw)
	if len(d) != n || !ValidChapter(d) {
		return "", false
	}
	return d, true
}
