package transcript

import (
	"time"

	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

// RawSegment is the wire shape returned by a transcription endpoint.
type RawSegment struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Text  string `json:"text"`
}

// Segment is a parsed transcript cue.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

func (s Segment) Duration() time.Duration {
	return s.End - s.Start
}

// ParseSegments converts wire segments into parsed ones. Segments with an
// unparseable timestamp are skipped and counted; an end before its start is
// pulled up to the start.
func ParseSegments(raw []RawSegment) ([]Segment, int) {
	segments := make([]Segment, 0, len(raw))
	skipped := 0
	for i, r := range raw {
		start, err := subtitle.ParseTimestamp(r.Start)
		if err != nil {
			log.Warn("Skipping transcript segment %d: %v", i, err)
			skipped++
			continue
		}
		end, err := subtitle.ParseTimestamp(r.End)
		if err != nil {
			log.Warn("Skipping transcript segment %d: %v", i, err)
			skipped++
			continue
		}
		if end < start {
			end = start
		}
		segments = append(segments, Segment{Start: start, End: end, Text: r.Text})
	}
	return segments, skipped
}

// ToLines numbers segments from 1 as subtitle lines.
func ToLines(segments []Segment) []subtitle.Line {
	lines := make([]subtitle.Line, 0, len(segments))
	for i, s := range segments {
		lines = append(lines, subtitle.NewLine(i+1, s.Start, s.End, s.Text))
	}
	return lines
}
