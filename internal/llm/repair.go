package llm

import (
	"regexp"
	"strings"
)

var fenceMarker = regexp.MustCompile("```[A-Za-z]*")

// RepairJSONArray extracts a best-effort JSON array from a model reply that
// may carry code fences, commentary or a truncated tail. It keeps the text
// from the first '[' through the last '}' and closes it with ']'.
//
// The result is not guaranteed to parse. Nested arrays after the last object
// are cut off; callers must still unmarshal and treat failure as
// ErrInvalidResponseShape.
func RepairJSONArray(raw string) string {
	text := fenceMarker.ReplaceAllString(raw, "")

	open := strings.Index(text, "[")
	if open < 0 {
		return "[]"
	}

	closeObj := strings.LastIndex(text, "}")
	if closeObj < open {
		// no object after the bracket, e.g. an empty array
		tail := strings.TrimSpace(text[open:])
		if strings.HasSuffix(tail, "]") {
			return tail
		}
		return tail + "]"
	}

	return text[open:closeObj+1] + "]"
}
