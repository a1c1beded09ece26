package repo

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// Sheet is the narrow contract of a tabular store driver. Rows and columns
// are 1-based; row 1 is the header row.
//
// Find is the store's native search primitive and may over-match (substring
// or case-insensitive hits); callers must confirm candidates with Cell.
// Row may return fewer cells than the header has columns when trailing
// cells are empty.
type Sheet interface {
	Name() string
	Header(ctx context.Context) ([]string, error)
	Find(ctx context.Context, col int, value string) ([]int, error)
	Row(ctx context.Context, row int) ([]string, error)
	Cell(ctx context.Context, row, col int) (string, error)
	SetCell(ctx context.Context, row, col int, value string) error
}

// NormalizeKey trims surrounding whitespace and applies Unicode case folding
// so that identity tokens differing only in case or padding compare equal.
func NormalizeKey(s string) string {
	// cases.Caser is stateful; build one per call.
	return cases.Fold().String(strings.TrimSpace(s))
}

// columnLetter converts a 1-based column index to A1 letters (1 → A, 27 → AA).
func columnLetter(col int) string {
	if col < 1 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// cellA1 returns the A1 address of (row, col), e.g. (5, 3) → "C5".
func cellA1(row, col int) string {
	return columnLetter(col) + strconv.Itoa(row)
}

// quoteSheet quotes a sheet title for use in an A1 range.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
