// Package redact scrubs personal data from strings before they reach logs
// or non-operator output.
//
// Text replaces identifiers wholesale ("[REDACTED:email]") and is used on
// free-form metadata such as HTTP query strings and header values. Email
// keeps enough of an address for an operator to recognise it ("a***@b.com")
// and is used where a masked value is still useful, e.g. log fields and the
// diagnostic sample.
package redact

import (
	"regexp"
	"strings"
)

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex runs from UUIDs never match.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// Text replaces UUIDs, email addresses and phone numbers in s with typed
// placeholders. UUIDs go first so the loose phone pattern cannot eat their
// digit groups.
func Text(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	s = phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
	return s
}

// Email masks the local part of an address, keeping its first rune:
// "alice@example.com" → "a***@example.com". Input without "@" is masked
// entirely.
func Email(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return "***"
	}
	first := []rune(s[:at])[0]
	return string(first) + "***" + s[at:]
}

// Emails applies Email to every address found in s.
func Emails(s string) string {
	return emailRE.ReplaceAllStringFunc(s, Email)
}
