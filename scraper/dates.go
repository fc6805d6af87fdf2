package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// dotNetDatePattern matches the /Date(1707753341000-0500)/ sentinel format.
// The embedded value is a millisecond epoch, possibly negative; the zone
// suffix is redundant and ignored.
var dotNetDatePattern = regexp.MustCompile(`^/Date\((-?\d+)`)

// isoLayouts are tried in order for ISO-8601-ish strings. The fractional
// second part varies between 0 and 7 digits in observed feed data.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseSourceDate parses the feed's creation timestamps. Records whose
// date cannot be parsed are skipped by the sync job, never stored.
func ParseSourceDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if m := dotNetDatePattern.FindStringSubmatch(value); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad epoch in date %q: %w", value, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}
