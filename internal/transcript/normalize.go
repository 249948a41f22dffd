package transcript

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultMaxChars    = 55
	DefaultMinDuration = 300 * time.Millisecond
	DefaultGap         = 50 * time.Millisecond
)

// Policy bounds the shape of normalized segments. Lengths are in runes.
type Policy struct {
	MaxChars    int
	MinDuration time.Duration
	Gap         time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxChars:    DefaultMaxChars,
		MinDuration: DefaultMinDuration,
		Gap:         DefaultGap,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxChars <= 0 {
		p.MaxChars = DefaultMaxChars
	}
	if p.MinDuration < 0 {
		p.MinDuration = 0
	}
	if p.Gap < 0 {
		p.Gap = 0
	}
	return p
}

// Normalize orders segments by start, splits over-long texts on word
// boundaries and trims overlaps so every end is at or before the next start.
// The input slice is not modified.
func Normalize(segments []Segment, p Policy) []Segment {
	if len(segments) == 0 {
		return []Segment{}
	}
	p = p.withDefaults()

	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	for i := range sorted {
		if sorted[i].End < sorted[i].Start {
			sorted[i].End = sorted[i].Start
		}
	}
	sortByStart(sorted)

	split := make([]Segment, 0, len(sorted))
	for _, s := range sorted {
		split = append(split, Split(s, p.MaxChars)...)
	}
	// chunks of a long segment can start after a later segment does
	sortByStart(split)

	deOverlap(split, p)
	return split
}

func sortByStart(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})
}

// Split packs the words of s into chunks of at most maxChars runes and spreads
// the original time span over them by cumulative rune count. The last chunk
// always ends at s.End. Over-limit text has its whitespace runs collapsed to
// one space. A single word longer than maxChars stays whole.
func Split(s Segment, maxChars int) []Segment {
	total := utf8.RuneCountInString(s.Text)
	if total <= maxChars {
		return []Segment{s}
	}

	chunks := packWords(strings.Fields(s.Text), maxChars)
	switch len(chunks) {
	case 0:
		return []Segment{s}
	case 1:
		// padding whitespace pushed it over the limit
		s.Text = chunks[0]
		return []Segment{s}
	}

	span := s.End - s.Start
	out := make([]Segment, 0, len(chunks))
	consumed := 0
	for i, chunk := range chunks {
		start := s.Start + proportion(span, consumed, total)
		consumed += utf8.RuneCountInString(chunk)
		end := s.Start + proportion(span, consumed, total)
		if i == len(chunks)-1 {
			end = s.End
		}
		out = append(out, Segment{Start: start, End: end, Text: chunk})
	}
	return out
}

func packWords(words []string, maxChars int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0
	for _, w := range words {
		wl := utf8.RuneCountInString(w)
		if curLen > 0 && curLen+1+wl > maxChars {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(w)
		curLen += wl
	}
	if curLen > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// proportion returns span*part/total at millisecond precision.
func proportion(span time.Duration, part, total int) time.Duration {
	if total == 0 {
		return 0
	}
	ms := span.Milliseconds() * int64(part) / int64(total)
	return time.Duration(ms) * time.Millisecond
}

// deOverlap walks adjacent pairs left to right. An end past the next start is
// moved to max(start+MinDuration, nextStart-Gap), then capped at nextStart.
func deOverlap(segments []Segment, p Policy) {
	for i := 0; i+1 < len(segments); i++ {
		next := segments[i+1].Start
		if segments[i].End <= next {
			continue
		}
		end := segments[i].Start + p.MinDuration
		if floor := next - p.Gap; floor > end {
			end = floor
		}
		if end > next {
			end = next
		}
		segments[i].End = end
	}
}
