package subtitle

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// DefaultReader reads SRT files from disk
type DefaultReader struct {
	path string
}

func NewReader(path string) Reader {
	return &DefaultReader{
		path: path,
	}
}

func (r *DefaultReader) Read() (*File, error) {
	if !strings.HasSuffix(strings.ToLower(r.path), ".srt") {
		return nil, fmt.Errorf("only SRT format subtitle files are supported: %s", r.path)
	}

	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("subtitle file does not exist: %s", r.path)
		}
		return nil, fmt.Errorf("failed to open subtitle file: %w", err)
	}
	defer file.Close()

	return readSRT(file, r.path)
}

// ReadSRTBytes parses SRT content that is already in memory.
func ReadSRTBytes(data []byte, path string) (*File, error) {
	return readSRT(bytes.NewReader(data), path)
}

func readSRT(src io.Reader, path string) (*File, error) {
	var lines []Line
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	currentLine := Line{}
	state := "index" // index -> time -> text
	var textLines []string
	first := true

	flush := func() {
		if len(textLines) > 0 {
			text := strings.Join(textLines, "\n")
			lines = append(lines, NewLine(currentLine.ID, currentLine.StartTime, currentLine.EndTime, text))
		}
		currentLine = Line{}
		textLines = nil
	}

	for scanner.Scan() {
		raw := scanner.Text()
		if first {
			raw = strings.TrimPrefix(raw, "\ufeff")
			first = false
		}
		line := strings.TrimSpace(raw)

		switch state {
		case "index":
			if line == "" {
				continue
			}
			index, err := strconv.Atoi(line)
			if err != nil {
				continue // skip non-index lines
			}
			currentLine.ID = index
			state = "time"

		case "time":
			if line == "" {
				continue
			}
			startTime, endTime, err := parseSRTTime(line)
			if err != nil {
				return nil, fmt.Errorf("failed to parse time of cue %d: %w", currentLine.ID, err)
			}
			currentLine.StartTime = startTime
			currentLine.EndTime = endTime
			state = "text"
			textLines = nil

		case "text":
			if line == "" {
				flush()
				state = "index"
			} else {
				textLines = append(textLines, line)
			}
		}
	}

	if state == "text" {
		flush()
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtitle file: %w", err)
	}

	return &File{
		Lines:    lines,
		Language: DetectLanguage(Texts(lines)),
		Format:   "SRT",
		Path:     path,
	}, nil
}

// parseSRTTime parses "00:02:16,612 --> 00:02:19,376".
// A dot before the milliseconds is tolerated.
func parseSRTTime(s string) (time.Duration, time.Duration, error) {
	parts := strings.SplitN(s, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time format: %s", s)
	}

	start, err := ParseTimestamp(normalizeMillisSeparator(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseTimestamp(normalizeMillisSeparator(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func normalizeMillisSeparator(s string) string {
	s = strings.TrimSpace(s)
	// drop SRT position hints such as "X1:100"
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 && len(s)-i == 4 {
		s = s[:i] + "," + s[i+1:]
	}
	return s
}

// DetectLanguage returns the most frequent language among texts.
func DetectLanguage(texts []string) language.Tag {
	if len(texts) == 0 {
		return language.Und
	}

	counts := make(map[string]int)
	for _, text := range texts {
		code := whatlanggo.DetectLang(text).Iso6391()
		if code == "" {
			continue
		}
		counts[code]++
	}

	var topLang string
	var topCount int
	for lang, count := range counts {
		if count > topCount || (count == topCount && lang < topLang) {
			topLang = lang
			topCount = count
		}
	}
	if topLang == "" {
		return language.Und
	}

	tag, err := language.Parse(topLang)
	if err != nil {
		return language.Und
	}
	return tag
}
