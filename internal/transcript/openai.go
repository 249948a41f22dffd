package transcript

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/MimeLyc/subtitle-pipeline/internal/llm"
	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
)

const DefaultModel = openai.Whisper1

// OpenAIEndpoint calls an OpenAI-compatible /audio/transcriptions endpoint
// and asks for verbose JSON so segment timings come back.
type OpenAIEndpoint struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

type EndpointConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds the HTTP client; per-call deadlines come from the context.
	Timeout time.Duration
}

func NewOpenAIEndpoint(cfg EndpointConfig) *OpenAIEndpoint {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIEndpoint{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (e *OpenAIEndpoint) client(credentials string) *openai.Client {
	key := e.apiKey
	if credentials != "" {
		key = credentials
	}
	config := openai.DefaultConfig(key)
	if e.baseURL != "" {
		config.BaseURL = e.baseURL
	}
	config.HTTPClient = e.httpClient
	return openai.NewClientWithConfig(config)
}

func (e *OpenAIEndpoint) Transcribe(ctx context.Context, req Request) (*Response, error) {
	model := e.model
	if req.Model != "" {
		model = req.Model
	}
	filename := req.Filename
	if filename == "" {
		// the API infers the container from the extension
		filename = "audio-" + uuid.NewString() + ".mp3"
	}

	resp, err := e.client(req.Credentials).CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: filename,
		Reader:   bytes.NewReader(req.Audio),
		Language: req.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", llm.ErrTransport, err)
	}

	out := &Response{
		Text:     resp.Text,
		Language: resp.Language,
		Segments: make([]RawSegment, 0, len(resp.Segments)),
	}
	for _, s := range resp.Segments {
		out.Segments = append(out.Segments, RawSegment{
			Start: subtitle.FormatTimestamp(seconds(s.Start)),
			End:   subtitle.FormatTimestamp(seconds(s.End)),
			Text:  strings.TrimSpace(s.Text),
		})
	}
	return out, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s*1000)) * time.Millisecond
}
