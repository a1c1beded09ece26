package bot

import (
	"regexp"
	"strings"
)

// identityRE accepts a pragmatic email shape: one "@", no whitespace, and a
// dot in the domain part.
var identityRE = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// maxIdentityLen bounds accepted tokens (RFC 5321 path limit).
const maxIdentityLen = 254

// IsIdentityToken reports whether text, once trimmed, is a well-formed
// identity token (an email address).
func IsIdentityToken(text string) bool {
	t := strings.TrimSpace(text)
	return len(t) <= maxIdentityLen && identityRE.MatchString(t)
}
