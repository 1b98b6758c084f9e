// Package duration parses and formats compact human-readable durations.
// It extends time.ParseDuration with day and week units, which retention
// windows and cache TTLs are naturally written in ("7d", "2w").
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
)

// extendedUnit matches a leading day or week component, e.g. "7d", "1.5w".
var extendedUnit = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)(d|w)`)

// Parse parses a duration string. On top of the standard time.ParseDuration
// forms it accepts w (week) and d (day) components, written in front of the
// standard units: "1w2d12h", "7d", "90m".
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = s[1:]
	}

	var total time.Duration
	for {
		m := extendedUnit.FindStringSubmatch(s)
		if m == nil {
			break
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("duration %q: %w", s, err)
		}
		unit := Day
		if strings.EqualFold(m[2], "w") {
			unit = Week
		}
		total += time.Duration(value * float64(unit))
		s = s[len(m[0]):]
	}

	if s != "" {
		rest, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("duration: %w", err)
		}
		total += rest
	}

	if negative {
		total = -total
	}
	return total, nil
}

// formatUnits is the descending unit ladder Format walks.
var formatUnits = []struct {
	span   time.Duration
	suffix string
}{
	{Week, "w"},
	{Day, "d"},
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
	{time.Millisecond, "ms"},
	{time.Microsecond, "µs"},
}

// Format renders a duration with the largest fitting units, omitting zero
// components: 36h becomes "1d12h", 90s becomes "1m30s".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	negative := d < 0
	if negative {
		d = -d
	}

	var b strings.Builder
	for _, unit := range formatUnits {
		if n := d / unit.span; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, unit.suffix)
			d -= n * unit.span
		}
	}
	if d > 0 {
		fmt.Fprintf(&b, "%dns", int64(d))
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}
