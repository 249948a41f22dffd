package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Client sends chat completions to an OpenAI-compatible endpoint.
// Safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
}

func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	httpClient := &http.Client{Timeout: time.Duration(config.Timeout) * time.Second}
	if config.SiteURL != "" || config.AppName != "" {
		httpClient.Transport = attribution{
			siteURL: config.SiteURL,
			appName: config.AppName,
			next:    http.DefaultTransport,
		}
	}
	return &Client{config: config, httpClient: httpClient}, nil
}

// Model returns the configured default model.
func (c *Client) Model() string {
	return c.config.Model
}

// api returns a go-openai client bound to apiKey, or to the configured key
// when apiKey is empty.
func (c *Client) api(apiKey string) *openai.Client {
	if apiKey == "" {
		apiKey = c.config.APIKey
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = c.config.APIURL
	cfg.HTTPClient = c.httpClient
	return openai.NewClientWithConfig(cfg)
}

// ChatCompletion sends messages, prefixed by the system prompt when one is
// set. Failures wrap ErrTransport or ErrInvalidResponseShape.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, opts ...CallOption) (*Reply, error) {
	o := callOptions{temperature: -1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.systemPrompt != "" {
		messages = append([]Message{{Role: RoleSystem, Content: o.systemPrompt}}, messages...)
	}

	req := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: float32(c.config.Temperature),
	}
	if o.model != "" {
		req.Model = o.model
	}
	if o.maxTokens > 0 {
		req.MaxTokens = o.maxTokens
	}
	if o.temperature >= 0 && o.temperature <= 2 {
		req.Temperature = float32(o.temperature)
	}

	resp, err := c.api(o.apiKey).CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", classify(ctx, err))
	}
	return &Reply{ChatCompletionResponse: resp}, nil
}

// ListModels returns the ids of the models visible to apiKey, or to the
// configured key when apiKey is empty.
func (c *Client) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	list, err := c.api(apiKey).ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", classify(ctx, err))
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// attribution adds the OpenRouter app headers to every request.
type attribution struct {
	siteURL string
	appName string
	next    http.RoundTripper
}

func (a attribution) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if a.siteURL != "" {
		req.Header.Set("HTTP-Referer", a.siteURL)
	}
	if a.appName != "" {
		req.Header.Set("X-Title", a.appName)
	}
	return a.next.RoundTrip(req)
}
