package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	normalized, domain, err := NormalizeURL("https://Example.com/path?utm_source=test&x=1")
	require.NoError(t, err)
	assert.Equal(t, "example.com", domain)
	assert.Equal(t, "https://example.com/path?x=1", normalized)
}

func TestNormalizeURLAddsScheme(t *testing.T) {
	normalized, _, err := NormalizeURL("  <example.org/a#frag>  ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/a", normalized)
}

func TestNormalizeURLKeepsPort(t *testing.T) {
	normalized, domain, err := NormalizeURL("http://user:pw@Localhost:8080/x?b=2&a=1")
	require.NoError(t, err)
	assert.Equal(t, "localhost", domain)
	assert.Equal(t, "http://localhost:8080/x?a=1&b=2", normalized)
}

func TestNormalizeURLPunycode(t *testing.T) {
	_, domain, err := NormalizeURL("https://bücher.example/")
	require.NoError(t, err)
	assert.Equal(t, "xn--bcher-kva.example", domain)
}

func TestNormalizeURLRejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "ftp://example.com", "https://"} {
		_, _, err := NormalizeURL(raw)
		assert.True(t, errors.Is(err, ErrInvalidURL), raw)
	}
}
