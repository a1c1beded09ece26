package bot

import (
	"strings"
	"testing"
)

func TestIsIdentityToken(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"a@b.com", true},
		{"  A@B.COM ", true},
		{"first.last+tag@sub.example.org", true},
		{"юлия@почта.рф", true},
		{"", false},
		{"hello", false},
		{"a@b", false},
		{"a b@c.com", false},
		{"a@@b.com", false},
		{"@b.com", false},
		{strings.Repeat("x", 250) + "@b.com", false},
	}
	for _, tc := range cases {
		if got := IsIdentityToken(tc.in); got != tc.want {
			t.Errorf("IsIdentityToken(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
