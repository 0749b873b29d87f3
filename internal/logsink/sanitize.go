package logsink

import (
	"fmt"
	"strings"
)

// SanitizeForLog escapes control characters so one message always stays on one line.
// Unicode text is kept as is; newlines, tabs, NUL, ESC and other control
// characters are replaced by escape sequences.
func SanitizeForLog(s string) string {
	if !strings.ContainsFunc(s, isControl) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 8)

	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if isControl(r) {
				fmt.Fprintf(&b, `\x%02x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}

	return b.String()
}

func isControl(r rune) bool {
	return r < 32 || r == 127
}
