package subtitle

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultWriter writes SRT files
type DefaultWriter struct{}

func NewWriter() Writer {
	return &DefaultWriter{}
}

// Write writes the file atomically via a temp file in the same directory.
func (w *DefaultWriter) Write(path string, subtitle *File) error {
	if subtitle == nil {
		return fmt.Errorf("subtitle data is empty")
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, FormatSRT(subtitle.Lines), 0o644); err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// FormatSRT renders lines as SRT content.
func FormatSRT(lines []Line) []byte {
	var buf bytes.Buffer
	_ = WriteSRT(&buf, lines)
	return buf.Bytes()
}

// WriteSRT streams lines as SRT. Empty text falls back to the original.
func WriteSRT(dst io.Writer, lines []Line) error {
	writer := bufio.NewWriter(dst)

	for _, line := range lines {
		text := line.Text
		if text == "" {
			text = line.OriginalText
		}
		if _, err := fmt.Fprintf(writer, "%d\n%s --> %s\n%s\n\n",
			line.ID,
			FormatTimestamp(line.StartTime),
			FormatTimestamp(line.EndTime),
			text); err != nil {
			return err
		}
	}

	return writer.Flush()
}
