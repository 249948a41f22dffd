package llm

import (
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Message is a single chat turn.
type Message = openai.ChatCompletionMessage

const (
	RoleSystem = openai.ChatMessageRoleSystem
	RoleUser   = openai.ChatMessageRoleUser
)

// Reply is a chat completion response.
type Reply struct {
	openai.ChatCompletionResponse
}

// Content returns the first choice's message text.
func (r *Reply) Content() (string, error) {
	if r == nil || len(r.Choices) == 0 {
		return "", fmt.Errorf("no choices in response: %w", ErrInvalidResponseShape)
	}
	return r.Choices[0].Message.Content, nil
}

type callOptions struct {
	systemPrompt string
	maxTokens    int
	temperature  float64
	apiKey       string
	model        string
}

// CallOption overrides the client configuration for one request.
type CallOption func(*callOptions)

func WithSystemPrompt(prompt string) CallOption {
	return func(o *callOptions) { o.systemPrompt = prompt }
}

func WithMaxTokens(n int) CallOption {
	return func(o *callOptions) { o.maxTokens = n }
}

// WithTemperature is ignored outside [0, 2].
func WithTemperature(t float64) CallOption {
	return func(o *callOptions) { o.temperature = t }
}

// WithAPIKey sends the request with a caller-supplied key.
func WithAPIKey(key string) CallOption {
	return func(o *callOptions) { o.apiKey = key }
}

func WithModel(model string) CallOption {
	return func(o *callOptions) { o.model = model }
}
