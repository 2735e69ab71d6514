package types

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeScreen folds a screen name for comparison and cache keys:
// surrounding whitespace is dropped, inner runs of whitespace collapse to a
// single space, and the result is Unicode case-folded.
func NormalizeScreen(screen string) string {
	fields := strings.Fields(screen)
	if len(fields) == 0 {
		return ""
	}
	// cases.Caser is stateful, so a fresh one per call.
	return cases.Fold().String(strings.Join(fields, " "))
}

// SameScreen reports whether a and b name the same screen.
func SameScreen(a, b string) bool {
	return NormalizeScreen(a) == NormalizeScreen(b)
}
