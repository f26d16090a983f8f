package utils

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageLength    = 2000
	MaxEmbedDescription = 2048
)

// Pagify splits text into pages of at most limit bytes, cutting on line breaks when
// possible, then on spaces, then anywhere on a rune boundary.
func Pagify(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	var pages []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = strings.LastIndex(text[:limit], " ")
		}
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		pages = append(pages, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n ")
	}
	if text != "" {
		pages = append(pages, text)
	}
	return pages
}
