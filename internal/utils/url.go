package utils

import (
	"errors"
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var ErrInvalidURL = errors.New("invalid url")

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid"}

// NormalizeURL lowercases and punycodes the host, drops credentials, fragments and
// tracking parameters, and sorts the query. Scheme-less input is treated as https.
func NormalizeURL(raw string) (string, string, error) {
	raw = strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "<>"))
	if raw == "" {
		return "", "", ErrInvalidURL
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if strings.Contains(raw, "://") {
			return "", "", ErrInvalidURL
		}
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", errors.Join(ErrInvalidURL, err)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" || strings.ContainsAny(host, " \t") {
		return "", "", ErrInvalidURL
	}
	if asciiHost, err := idna.Lookup.ToASCII(host); err == nil {
		host = asciiHost
	} else if net.ParseIP(host) == nil {
		return "", "", errors.Join(ErrInvalidURL, err)
	}

	if port := parsed.Port(); port != "" {
		parsed.Host = net.JoinHostPort(host, port)
	} else {
		parsed.Host = host
	}
	parsed.Fragment = ""
	parsed.User = nil

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	parsed.RawQuery = normalizeQuery(query)

	return parsed.String(), host, nil
}

func normalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clean := url.Values{}
	for _, key := range keys {
		clean[key] = values[key]
	}
	return clean.Encode()
}
