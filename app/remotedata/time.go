package remotedata

import (
	"fmt"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTime parses an ISO-8601 timestamp as used by the remote-data service.
// Timestamps without a zone are UTC.
func ParseTime(value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", value)
}

// ParseMillis parses an ISO-8601 timestamp into milliseconds since epoch.
func ParseMillis(value string) (int64, error) {
	t, err := ParseTime(value)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
