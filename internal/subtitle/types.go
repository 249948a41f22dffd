package subtitle

import (
	"time"

	"golang.org/x/text/language"
)

// Reader reads a subtitle file
type Reader interface {
	Read() (*File, error)
}

// Writer writes a subtitle file to path
type Writer interface {
	Write(path string, subtitle *File) error
}

// Line is a single subtitle cue.
// ID is stable across translation passes and OriginalText is never rewritten;
// translation only replaces Text.
type Line struct {
	ID           int           `json:"id"`
	StartTime    time.Duration `json:"start_time"`
	EndTime      time.Duration `json:"end_time"`
	Text         string        `json:"text"`
	OriginalText string        `json:"original_text"`
}

// NewLine creates a line whose current and original text are the same.
func NewLine(id int, start, end time.Duration, text string) Line {
	return Line{
		ID:           id,
		StartTime:    start,
		EndTime:      end,
		Text:         text,
		OriginalText: text,
	}
}

// File represents subtitle file
type File struct {
	Lines    []Line
	Language language.Tag
	Format   string // e.g. SRT
	Path     string
}

// CloneLines returns a copy that shares nothing with lines.
func CloneLines(lines []Line) []Line {
	if lines == nil {
		return nil
	}
	return append([]Line(nil), lines...)
}

// Texts returns the current text of every line.
func Texts(lines []Line) []string {
	ret := make([]string, 0, len(lines))
	for _, line := range lines {
		ret = append(ret, line.Text)
	}
	return ret
}
