package types

import (
	"strconv"
	"unicode/utf8"
)

// truncate clips s to at most n bytes, backing up to a rune boundary so the
// result stays valid UTF-8. History rows and stream events cap free-text
// fields so one oversized error string cannot bloat the stores.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Truncate is the exported form used by the history recorder.
func Truncate(s string, n int) string { return truncate(s, n) }

func formatMillis(ms float64) string {
	return strconv.FormatFloat(ms, 'f', 2, 64)
}
