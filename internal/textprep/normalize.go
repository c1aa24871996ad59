// Package textprep prepares item text for embedding and cache keying.
package textprep

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxChars bounds normalized output so provider payloads stay within the
// embedding model's context window. Truncation is rune-aligned.
const maxChars = 32000

const fenceMarker = "```"

// Normalize collapses whitespace runs to single spaces, drops non-printing
// control characters, replaces invalid UTF-8 with U+FFFD and truncates
// overlong input from the end. Text inside Markdown code fences is kept
// verbatim, including its indentation and blank lines. The function is pure:
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	// Truncate before collapsing: collapsing only shrinks text, so the
	// result stays within budget and a second pass is a no-op.
	clean := truncate(strings.ToValidUTF8(raw, string(utf8.RuneError)))

	segments := make([]string, 0, 4)
	var plain strings.Builder
	var fence strings.Builder

	flushPlain := func() {
		if c := collapse(plain.String()); c != "" {
			segments = append(segments, c)
		}
		plain.Reset()
	}

	inFence := false
	for _, line := range strings.Split(clean, "\n") {
		switch {
		case !inFence && isFenceDelimiter(line):
			flushPlain()
			inFence = true
			fence.Reset()
			fence.WriteString(line)
		case inFence:
			fence.WriteByte('\n')
			fence.WriteString(line)
			if isFenceDelimiter(line) {
				segments = append(segments, fence.String())
				inFence = false
			}
		default:
			if plain.Len() > 0 {
				plain.WriteByte('\n')
			}
			plain.WriteString(line)
		}
	}
	if inFence {
		// Unterminated fence: everything to the end stays verbatim.
		segments = append(segments, fence.String())
	} else {
		flushPlain()
	}

	return strings.Join(segments, "\n")
}

// collapse squeezes whitespace runs into single spaces and removes
// control characters that are not whitespace.
func collapse(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case unicode.IsControl(r):
		default:
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isFenceDelimiter reports whether a line opens or closes a code fence.
// Markdown allows leading indentation and an info string after the ticks.
func isFenceDelimiter(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), fenceMarker)
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars])
}
