package printer

import (
	"fmt"
	"time"
)

// timeAgoUnits, largest first. Anything older than a day keeps rendering in
// days.
var timeAgoUnits = []struct {
	span time.Duration
	name string
}{
	{span: 24 * time.Hour, name: "day"},
	{span: time.Hour, name: "hour"},
	{span: time.Minute, name: "minute"},
	{span: time.Second, name: "second"},
}

// TimeAgo renders the elapsed time since t as a relative phrase, e.g.
// "2 minutes ago (UTC)".
func TimeAgo(t time.Time) string {
	diff := time.Now().UTC().Sub(t.UTC())
	if diff < 0 {
		return "in the future (UTC)"
	}

	for _, u := range timeAgoUnits {
		if diff < u.span {
			continue
		}
		n := int(diff / u.span)
		if n == 1 {
			return fmt.Sprintf("1 %s ago (UTC)", u.name)
		}
		return fmt.Sprintf("%d %ss ago (UTC)", n, u.name)
	}

	return "0 seconds ago (UTC)"
}

// FormatTimestamp renders t as an absolute UTC timestamp,
// "2006-01-02 15:04:05 UTC".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
