package printer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fincontrol/sheetsync/internal/printer"
)

func TestTimeAgo(t *testing.T) {
	now := time.Now().UTC()

	tests := map[string]struct {
		time     time.Time
		expected string
	}{
		"A just-written timestamp should render in seconds": {
			time:     now,
			expected: "0 seconds ago (UTC)",
		},
		"A single second should not pluralize": {
			time:     now.Add(-1 * time.Second),
			expected: "1 second ago (UTC)",
		},
		"Seconds should render until a full minute elapses": {
			time:     now.Add(-30 * time.Second),
			expected: "30 seconds ago (UTC)",
		},
		"Ninety seconds should round down to one minute": {
			time:     now.Add(-90 * time.Second),
			expected: "1 minute ago (UTC)",
		},
		"Minutes should render until a full hour elapses": {
			time:     now.Add(-45 * time.Minute),
			expected: "45 minutes ago (UTC)",
		},
		"Hours should render until a full day elapses": {
			time:     now.Add(-5 * time.Hour),
			expected: "5 hours ago (UTC)",
		},
		"A single day should not pluralize": {
			time:     now.Add(-24 * time.Hour),
			expected: "1 day ago (UTC)",
		},
		"Old timestamps should keep rendering in days": {
			time:     now.Add(-45 * 24 * time.Hour),
			expected: "45 days ago (UTC)",
		},
		"A future timestamp should say so": {
			time:     now.Add(5 * time.Minute),
			expected: "in the future (UTC)",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(test.expected, printer.TimeAgo(test.time))
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := map[string]struct {
		time     time.Time
		expected string
	}{
		"A UTC timestamp should render verbatim": {
			time:     time.Date(2026, 1, 30, 10, 15, 30, 0, time.UTC),
			expected: "2026-01-30 10:15:30 UTC",
		},
		"A zoned timestamp should be converted to UTC": {
			time:     time.Date(2026, 1, 30, 10, 15, 30, 0, time.FixedZone("EST", -5*3600)),
			expected: "2026-01-30 15:15:30 UTC",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(test.expected, printer.FormatTimestamp(test.time))
		})
	}
}
