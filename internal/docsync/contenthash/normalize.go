package contenthash

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

func nfc(s string) string {
	return norm.NFC.String(s)
}

// NormalizeContent canonicalizes document text before hashing:
//   - NFC unicode normalization
//   - CRLF and lone CR become LF
//   - runs of spaces and tabs collapse to one space; trailing ones are dropped
//   - more than one consecutive blank line collapses to a single blank line
//   - leading and trailing blank space is trimmed
//
// Line structure is kept, since it is meaningful for Markdown bodies.
func NormalizeContent(s string) string {
	s = nfc(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = collapseSpaces(line)
		if line == "" {
			blank++
			continue
		}
		if blank > 0 && len(out) > 0 {
			out = append(out, "")
		}
		blank = 0
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// collapseSpaces folds runs of horizontal whitespace and trims both ends.
func collapseSpaces(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	pending := false
	for _, r := range line {
		if r == ' ' || r == '\t' || r == '\f' || r == '\v' || r == '\u00a0' {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pending = false
		b.WriteRune(r)
	}
	return b.String()
}
