package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPagifyShortText(t *testing.T) {
	assert.Equal(t, []string{"hello"}, Pagify("hello", 10))
	assert.Empty(t, Pagify("", 10))
}

func TestPagifyPrefersLineBreaks(t *testing.T) {
	text := "first line\nsecond line\nthird"
	pages := Pagify(text, 15)
	assert.Equal(t, []string{"first line", "second line", "third"}, pages)
}

func TestPagifyFallsBackToSpacesAndRunes(t *testing.T) {
	assert.Equal(t, []string{"aaaa", "bbbb"}, Pagify("aaaa bbbb", 6))

	// "é" is two bytes and never split in half
	pages := Pagify(strings.Repeat("é", 5), 3)
	assert.Equal(t, []string{"é", "é", "é", "é", "é"}, pages)
	for _, page := range pages {
		assert.LessOrEqual(t, len(page), 3)
	}
}
