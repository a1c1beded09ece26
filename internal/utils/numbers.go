// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault converts a trimmed string to an int. If the string is empty or
// cannot be parsed, it returns def.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0)  // 42
//	n = utils.AtoiDefault(" 7 ", 0)  // 7
//	n = utils.AtoiDefault("", 10)    // 10
//	n = utils.AtoiDefault("x", 5)    // 5
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds n to [lo, hi].
func Clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// FirstField returns the first whitespace-separated field of s, or "".
func FirstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
