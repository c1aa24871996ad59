package search

import "strings"

const snippetMaxChars = 220

// makeSnippet condenses body text into a short display fragment. The cut
// lands on a word boundary and never splits a multi-byte character.
func makeSnippet(body string) string {
	text := strings.Join(strings.Fields(body), " ")
	if text == "" {
		return ""
	}

	runes := []rune(text)
	if len(runes) <= snippetMaxChars {
		return text
	}

	cut := string(runes[:snippetMaxChars])
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}

	return cut + "..."
}
