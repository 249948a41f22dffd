package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/subtitle-pipeline/internal/llm"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

const DefaultCallTimeout = 180 * time.Second

// Request is one transcription call.
type Request struct {
	Audio    []byte
	Filename string
	// Language is an optional ISO-639-1 hint.
	Language    string
	Credentials string
	Model       string
}

// Response is what an endpoint returns: segments when available, otherwise a
// flat transcript.
type Response struct {
	Text     string
	Language string
	Segments []RawSegment
}

// Endpoint performs the remote speech-to-text call.
type Endpoint interface {
	Transcribe(ctx context.Context, req Request) (*Response, error)
}

// Admitter gates every remote call against the shared request budget.
type Admitter interface {
	Admit(ctx context.Context) error
}

// Result is a normalized transcription.
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
	// Skipped counts segments dropped for malformed timestamps.
	Skipped int `json:"skipped"`
}

type Transcriber struct {
	endpoint    Endpoint
	admitter    Admitter
	policy      Policy
	callTimeout time.Duration
}

type Option func(*Transcriber)

func WithPolicy(p Policy) Option {
	return func(t *Transcriber) {
		t.policy = p
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(t *Transcriber) {
		if d > 0 {
			t.callTimeout = d
		}
	}
}

func NewTranscriber(endpoint Endpoint, admitter Admitter, opts ...Option) *Transcriber {
	t := &Transcriber{
		endpoint:    endpoint,
		admitter:    admitter,
		policy:      DefaultPolicy(),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transcribe sends audio to the endpoint and normalizes the returned
// segments. A flat transcript that embeds a JSON segment array is repaired
// and parsed; plain text comes back with no segments.
func (t *Transcriber) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}
	if t.admitter != nil {
		if err := t.admitter.Admit(ctx); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := t.endpoint.Transcribe(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("empty transcription response: %w", llm.ErrInvalidResponseShape)
	}

	raw := resp.Segments
	if len(raw) == 0 {
		raw = embeddedSegments(resp.Text)
	}

	segments, skipped := ParseSegments(raw)
	result := &Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Segments: Normalize(segments, t.policy),
		Skipped:  skipped,
	}
	log.Info("Transcribed %s in %v: %d segments, %d skipped",
		displayName(req.Filename), time.Since(start).Round(time.Millisecond), len(result.Segments), skipped)
	return result, nil
}

func embeddedSegments(text string) []RawSegment {
	if !strings.Contains(text, "[") {
		return nil
	}
	var raw []RawSegment
	if err := json.Unmarshal([]byte(llm.RepairJSONArray(text)), &raw); err != nil {
		log.Debug("Transcript text is not a segment array: %v", err)
		return nil
	}
	return raw
}

func displayName(name string) string {
	if name == "" {
		return "audio"
	}
	return name
}
