package render

import (
	"strings"
	"unicode"
)

const filenameSuffix = "_enhanced.pdf"

// Filename derives the download name for a topic: spaces become
// underscores, anything outside letters, digits, '_', '-' and '.' is dropped.
func Filename(topic string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(topic) {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '-', r == '.':
			b.WriteRune(r)
		}
	}
	name := strings.TrimLeft(b.String(), ".")
	if name == "" {
		name = "presentation"
	}
	return name + filenameSuffix
}
