package translator

import (
	"context"
	"strings"

	"github.com/MimeLyc/subtitle-pipeline/internal/glossary"
)

// AutoLanguage asks the endpoint to detect the source language itself.
const AutoLanguage = "auto"

const inlineBreakerPlaceholder = "%%inline_breaker%%"

// Item is one line sent for translation.
type Item struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Result is one translated line as returned by the endpoint. It is
// correlated back to its source line by ID only.
type Result struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// ModelConfig overrides the endpoint's defaults for one request. Zero values
// keep the defaults.
type ModelConfig struct {
	Name        string  `json:"name,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Request is one translation call covering a single batch.
type Request struct {
	SourceLanguage string
	TargetLanguage string
	Items          []Item
	// Glossary holds only the terms that occur in Items.
	Glossary glossary.Glossary
	// Credentials is passed through to the endpoint untouched.
	Credentials string
	Model       ModelConfig
}

// Endpoint sends a request and returns the model's raw reply text.
type Endpoint interface {
	Translate(ctx context.Context, req Request) (string, error)
}

// Admitter gates every remote call against the shared request budget.
type Admitter interface {
	Admit(ctx context.Context) error
}

// Line breaks inside a subtitle confuse line-oriented models, so they travel
// as a placeholder.
func encodeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", inlineBreakerPlaceholder)
}

func decodeText(s string) string {
	s = strings.ReplaceAll(s, inlineBreakerPlaceholder, "\n")
	return strings.TrimSpace(s)
}
