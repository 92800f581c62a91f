package report

import (
	"fmt"
	"time"
	"unicode"
)

// Filename builds the deterministic output file name for a session:
// hostname, start timestamp, then the filter name, each sanitized to a
// restricted character set.
func Filename(hostname string, start time.Time, filterName string) string {
	return fmt.Sprintf("%s_%s_%s.csv",
		sanitize(hostname),
		start.Format("20060102-150405"),
		sanitize(filterName))
}

// sanitize replaces everything outside letters, digits, '.', '-' and '_'
// with an underscore.
func sanitize(s string) string {
	out := []rune(s)
	for i, r := range out {
		if !isAllowedFilenameRune(r) {
			out[i] = '_'
		}
	}
	return string(out)
}

func isAllowedFilenameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '.':
		return true
	default:
		return false
	}
}
