// Package normalize turns raw names, phone numbers and emails into the
// canonical forms that search indexes are computed from.
//
// The agent and every searching client must produce byte-identical output
// for identical input, otherwise index tokens stop matching. All functions
// are pure and locale-independent.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Func is a normalization function usable in a field configuration.
type Func func(string) string

// Names used in declarative field configurations.
const (
	NameSearchString = "search-string"
	NamePhone        = "phone"
	NameContact      = "contact"
)

var registry = map[string]Func{
	NameSearchString: SearchString,
	NamePhone:        PhoneForIndex,
	NameContact:      Contact,
}

// Lookup returns the normalizer registered under name.
func Lookup(name string) (Func, bool) {
	f, ok := registry[name]
	return f, ok
}

// stripMarks decomposes s (NFD) and removes every combining mark, so that
// "é" becomes "e" and "ñ" becomes "n".
func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.M)))
	out, _, err := transform.String(t, s)
	if err != nil {
		// transform only fails on invalid input state; fall back to the
		// decomposed form which is still deterministic.
		return norm.NFD.String(s)
	}
	return out
}

// SearchString strips diacritics, lowercases and drops every character
// outside [a-z0-9].
func SearchString(s string) string {
	s = strings.ToLower(stripMarks(s))

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// PhoneForIndex returns "+" followed by the digits of s, or "" when s has no
// digits. An empty result must never be indexed.
func PhoneForIndex(s string) string {
	d := digitsOnly(s)
	if d == "" {
		return ""
	}
	return "+" + d
}

// PhoneToE164 applies the E.164 heuristic: fewer than four digits is
// rejected, an explicit leading "+" keeps the digits as they are, eleven
// digits starting with 1 are taken as already carrying the US code, and
// anything else is assumed to be a US number.
func PhoneToE164(s string) (string, bool) {
	hasPlus := strings.HasPrefix(strings.TrimLeftFunc(s, unicode.IsSpace), "+")
	d := digitsOnly(s)
	if len(d) < 4 {
		return "", false
	}
	if hasPlus {
		return "+" + d, true
	}
	if strings.HasPrefix(d, "1") && len(d) == 11 {
		return "+" + d, true
	}
	return "+1" + d, true
}

// Contact normalizes a message handle: emails are lowercased and trimmed,
// anything else is treated as a phone number.
func Contact(s string) string {
	if strings.Contains(s, "@") {
		return strings.TrimSpace(strings.ToLower(s))
	}
	return PhoneForIndex(s)
}
