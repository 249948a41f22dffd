package translator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subtitle-pipeline/internal/glossary"
	"github.com/MimeLyc/subtitle-pipeline/internal/llm"
	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
)

func newTestLLMClient(t *testing.T, handler http.HandlerFunc) *llm.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := llm.NewClient(&llm.Config{
		APIKey:      "server-key",
		APIURL:      server.URL,
		Model:       "default-model",
		MaxTokens:   1000,
		Temperature: 0.3,
		Timeout:     30,
	})
	require.NoError(t, err)
	return client
}

func chatReply(content string) string {
	data, _ := json.Marshal(map[string]any{
		"id": "r1",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(data)
}

func TestLLMEndpoint_EndToEndWithBatchTranslator(t *testing.T) {
	client := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var req openai.ChatCompletionRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "custom-model", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Contains(t, req.Messages[0].Content, "from Japanese to Chinese")
			assert.Contains(t, req.Messages[1].Content, `"id":1`)
			assert.Contains(t, req.Messages[1].Content, `"target_language":"zh"`)
		}

		_, _ = w.Write([]byte(chatReply("Here is the translation:\n```json\n[{\"id\":1,\"text\":\"早上好\"}]\n```")))
	})

	bt := NewBatchTranslator(NewLLMEndpoint(client), nil, WithBaseDelay(0))
	results, err := bt.Translate(context.Background(),
		[]subtitle.Line{subtitle.NewLine(1, 0, time.Second, "おはよう")},
		Options{SourceLanguage: "ja", TargetLanguage: "zh", Credentials: "user-key", Model: ModelConfig{Name: "custom-model"}})
	require.NoError(t, err)
	assert.Equal(t, []Result{{ID: 1, Text: "早上好"}}, results)
}

func TestLLMEndpoint_ServerErrorIsRetriedAsTransport(t *testing.T) {
	calls := 0
	client := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream unavailable`))
	})

	bt := NewBatchTranslator(NewLLMEndpoint(client), nil, WithBaseDelay(0))
	_, err := bt.Translate(context.Background(),
		[]subtitle.Line{subtitle.NewLine(1, 0, time.Second, "hello")},
		Options{TargetLanguage: "fr"})

	assert.ErrorIs(t, err, llm.ErrTransport)
	assert.Equal(t, DefaultMaxAttempts, calls)
}

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()

	prompt := buildSystemPrompt(AutoLanguage, "zh-Hant", false)
	assert.Contains(t, prompt, "from the detected source language to Traditional Chinese")
	assert.Contains(t, prompt, inlineBreakerPlaceholder)
	assert.Contains(t, prompt, "Return ONLY a JSON array")
	assert.NotContains(t, prompt, "glossary")

	prompt = buildSystemPrompt("en", "zh", true)
	assert.Contains(t, prompt, `"glossary" object`)
}

func TestBuildUserMessage(t *testing.T) {
	t.Parallel()

	payload, err := buildUserMessage(Request{
		SourceLanguage: "en",
		TargetLanguage: "es",
		Items:          []Item{{ID: 3, Text: "hi"}, {ID: 4, Text: ""}},
	})
	require.NoError(t, err)

	var decoded struct {
		SourceLanguage string `json:"source_language"`
		Items          []Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Equal(t, "en", decoded.SourceLanguage)
	assert.Equal(t, []Item{{ID: 3, Text: "hi"}, {ID: 4, Text: ""}}, decoded.Items)
	assert.NotContains(t, payload, "glossary")

	payload, err = buildUserMessage(Request{
		TargetLanguage: "zh",
		Items:          []Item{{ID: 1, Text: "Okarun runs"}},
		Glossary:       glossary.Glossary{"Okarun": "奥卡轮"},
	})
	require.NoError(t, err)
	assert.Contains(t, payload, `"glossary":{"Okarun":"奥卡轮"}`)
}

func TestLanguageName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Chinese", LanguageName("zh"))
	assert.Equal(t, "Japanese", LanguageName("ja"))
	assert.Equal(t, "not a tag!", LanguageName("not a tag!"))
}

func TestResolveSourceLanguage(t *testing.T) {
	t.Parallel()

	lines := []subtitle.Line{
		subtitle.NewLine(1, 0, time.Second, "これは日本語の字幕です。"),
		subtitle.NewLine(2, time.Second, 2*time.Second, "今日はとても良い天気ですね。"),
	}
	assert.Equal(t, "ja", ResolveSourceLanguage(lines, AutoLanguage))
	assert.Equal(t, "ja", ResolveSourceLanguage(lines, ""))
	assert.Equal(t, "en", ResolveSourceLanguage(lines, "en"))
	assert.Equal(t, AutoLanguage, ResolveSourceLanguage(nil, AutoLanguage))
}
