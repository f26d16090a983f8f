package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidDuration = errors.New("invalid duration")

var durationPart = regexp.MustCompile(`(\d+)\s*([a-z]+)`)

var durationUnits = map[string]time.Duration{
	"w":       7 * 24 * time.Hour,
	"week":    7 * 24 * time.Hour,
	"weeks":   7 * 24 * time.Hour,
	"d":       24 * time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"h":       time.Hour,
	"hr":      time.Hour,
	"hrs":     time.Hour,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"m":       time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"s":       time.Second,
	"sec":     time.Second,
	"secs":    time.Second,
	"second":  time.Second,
	"seconds": time.Second,
}

// ParseDuration understands "1 hour", "1h", "1 hour 5 minutes", "2h30m10s" and
// comma or "and" separated forms of those.
func ParseDuration(value string) (time.Duration, error) {
	input := strings.ToLower(strings.TrimSpace(value))
	if input == "" {
		return 0, ErrInvalidDuration
	}

	matches := durationPart.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}

	var total time.Duration
	cursor := 0
	for _, m := range matches {
		if !isSeparator(input[cursor:m[0]]) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
		}
		amount, err := strconv.ParseInt(input[m[2]:m[3]], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
		}
		unit, ok := durationUnits[input[m[4]:m[5]]]
		if !ok {
			return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidDuration, input[m[4]:m[5]])
		}
		total += time.Duration(amount) * unit
		cursor = m[1]
	}
	if !isSeparator(input[cursor:]) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}
	return total, nil
}

func isSeparator(s string) bool {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", " "))
	return s == "" || s == "and"
}

// HumanizeDuration renders d as "1 hour, 5 minutes, 3 seconds".
func HumanizeDuration(d time.Duration) string {
	seconds := int64(d.Round(time.Second) / time.Second)
	if seconds <= 0 {
		return "0 seconds"
	}
	units := []struct {
		name   string
		length int64
	}{
		{"day", 86400},
		{"hour", 3600},
		{"minute", 60},
		{"second", 1},
	}
	var parts []string
	for _, unit := range units {
		if seconds < unit.length {
			continue
		}
		n := seconds / unit.length
		seconds %= unit.length
		name := unit.name
		if n != 1 {
			name += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, name))
	}
	return strings.Join(parts, ", ")
}
