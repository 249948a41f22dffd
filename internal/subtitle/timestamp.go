package subtitle

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrMalformedTimestamp is returned for text that is not HH:MM:SS,mmm.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// Hours may run past two digits for very long media. Six digits keep the
// offset well inside time.Duration.
var timestampPattern = regexp.MustCompile(`^(\d{2,6}):([0-5]\d):([0-5]\d),(\d{3})$`)

// ParseTimestamp converts "HH:MM:SS,mmm" into an offset.
func ParseTimestamp(s string) (time.Duration, error) {
	m := timestampPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTimestamp, s)
	}

	h, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTimestamp, s)
	}
	minutes, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	ms, _ := strconv.Atoi(m[4])

	return time.Duration(h)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

// FormatTimestamp renders an offset as "HH:MM:SS,mmm".
// Negative offsets clamp to zero; sub-millisecond precision is truncated.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := d.Milliseconds()
	ms := total % 1000
	total /= 1000
	sec := total % 60
	total /= 60
	minutes := total % 60
	hours := total / 60

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, sec, ms)
}
