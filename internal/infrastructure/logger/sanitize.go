package logger

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxFieldLen bounds a single logged value; sources sometimes return whole
// HTML pages as error text.
const maxFieldLen = 512

// SanitizeForLog escapes control characters so that client supplied values
// (usernames, captions, remote error bodies) cannot forge log lines, and
// truncates overly long values.
func SanitizeForLog(s string) string {
	truncated := false
	if len(s) > maxFieldLen {
		cut := maxFieldLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
		truncated = true
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
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\x%02x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}

	if truncated {
		b.WriteString("...(truncated)")
	}
	return b.String()
}
