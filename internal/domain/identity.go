// Package domain defines the core persistence models for the application.
// This file implements canonical user identity handling: the same person can
// appear as bare digits, "+"-prefixed digits, or a transport JID with a
// "@c.us"/"@lid" suffix, and all variants must collapse to one identity
// before any matching happens.
package domain

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// bengaliZero is the first code point of the Bengali digit block. Users in
// the target market routinely type quantities and phone numbers in Bengali
// numerals.
const bengaliZero = '০'

// FoldDigits rewrites Bengali numerals to their ASCII equivalents, leaving
// every other rune untouched.
func FoldDigits(s string) string {
	if !strings.ContainsFunc(s, func(r rune) bool { return r >= bengaliZero && r <= bengaliZero+9 }) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= bengaliZero && r <= bengaliZero+9 {
			b.WriteRune('0' + (r - bengaliZero))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CanonicalUserID normalizes a raw transport identity to its canonical form:
// the bare digit string with any "+" prefix, JID suffix ("@c.us", "@lid",
// "@g.us"), and stray separators removed. It is applied at every ingestion
// boundary so internal comparisons are always canonical-to-canonical.
//
// Non-numeric identities (e.g. aliases) are lowercased and trimmed but
// otherwise passed through.
func CanonicalUserID(raw string) string {
	// NFKC first, so compatibility variants (full-width digits, presentation
	// forms) fold before the Bengali digit pass.
	s := strings.TrimSpace(FoldDigits(norm.NFKC.String(raw)))
	if s == "" {
		return ""
	}
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[:at]
	}
	s = strings.TrimPrefix(s, "+")

	digits := make([]byte, 0, len(s))
	numeric := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, c)
		case c == ' ' || c == '-':
			// separators inside phone numbers
		default:
			numeric = false
		}
		if !numeric {
			break
		}
	}
	if numeric && len(digits) > 0 {
		return string(digits)
	}
	return strings.ToLower(s)
}

// SameUser reports whether two raw identities refer to the same person.
// Besides canonical equality it accepts a shared 10-digit national suffix,
// which covers numbers stored with and without a country code.
func SameUser(a, b string) bool {
	ca, cb := CanonicalUserID(a), CanonicalUserID(b)
	if ca == "" || cb == "" {
		return false
	}
	if ca == cb {
		return true
	}
	const n = 10
	if len(ca) >= n && len(cb) >= n && isDigits(ca) && isDigits(cb) {
		return ca[len(ca)-n:] == cb[len(cb)-n:]
	}
	return false
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
