package timerange

import (
	"fmt"
	"time"
)

const (
	// PathLayout is how instants appear in request paths, wall clock without offset.
	PathLayout = "2006-01-02T15:04:05"
	dateLayout = "2006-01-02"
)

type TimeRange struct {
	From time.Time
	To   time.Time
}

func New(from, to time.Time) TimeRange {
	return TimeRange{From: from, To: to}
}

func (r TimeRange) Duration() time.Duration {
	return r.To.Sub(r.From)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%s/%s", FormatPath(r.From), FormatPath(r.To))
}

func FormatPath(t time.Time) string {
	return t.Format(PathLayout)
}

var naiveLayouts = []string{PathLayout, "2006-01-02T15:04", dateLayout}

// ParseInstant accepts RFC 3339, a naive "2006-01-02T15:04:05" (seconds may be
// omitted) or a plain date. Naive values are returned in loc.
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised instant %q", s)
}
