package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/MimeLyc/subtitle-pipeline/internal/config"
	"github.com/MimeLyc/subtitle-pipeline/internal/persistence"
	"github.com/MimeLyc/subtitle-pipeline/internal/ratelimit"
	"github.com/MimeLyc/subtitle-pipeline/internal/translator"
)

// fakeLLM answers chat completions by prefixing every item with "zh:". Items
// containing FAIL make the whole request fail with 502.
type fakeLLM struct {
	server *httptest.Server
	calls  atomic.Int32

	mu         sync.Mutex
	glossaries []map[string]string
}

func (f *fakeLLM) seenGlossaries() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.glossaries...)
}

func newFakeLLM(t *testing.T) *fakeLLM {
	t.Helper()
	f := &fakeLLM{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		var req openai.ChatCompletionRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload struct {
			Glossary map[string]string `json:"glossary"`
			Items    []translator.Item `json:"items"`
		}
		user := req.Messages[len(req.Messages)-1].Content
		assert.NoError(t, json.Unmarshal([]byte(user), &payload))
		f.mu.Lock()
		f.glossaries = append(f.glossaries, payload.Glossary)
		f.mu.Unlock()

		results := make([]translator.Result, 0, len(payload.Items))
		for _, item := range payload.Items {
			if strings.Contains(item.Text, "FAIL") {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte("upstream unavailable"))
				return
			}
			results = append(results, translator.Result{ID: item.ID, Text: "zh:" + item.Text})
		}
		content, _ := json.Marshal(results)
		reply, _ := json.Marshal(map[string]any{
			"id": "r1",
			"choices": []map[string]any{{
				"index":   0,
				"message": map[string]string{"role": "assistant", "content": string(content)},
			}},
		})
		_, _ = w.Write(reply)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func testConfig(llmURL string) config.Config {
	return config.Config{
		LLM: config.LLMConfig{
			APIKey:      "test-key",
			APIURL:      llmURL,
			Model:       "test-model",
			MaxTokens:   1000,
			Temperature: 0.3,
			Timeout:     10,
		},
		Transcribe: config.TranscribeConfig{
			APIKey: "test-key",
			APIURL: llmURL,
			Model:  "whisper-1",
		},
		Pipeline: config.PipelineConfig{
			RequestsPerMinute: ratelimit.Unlimited,
			BatchSize:         2,
			MaxRetries:        1,
			RetryBaseDelay:    0,
			CallTimeout:       5 * time.Second,
			SourceLanguage:    "en",
			TargetLanguage:    language.Chinese,
		},
		Segment: config.SegmentConfig{
			MaxChars:    55,
			MinDuration: 300 * time.Millisecond,
			Gap:         50 * time.Millisecond,
		},
		Schedule: config.ScheduleConfig{
			CronExpr:   "0 * * * *",
			ScanWindow: 24 * time.Hour,
		},
	}
}

func newTestStore(t *testing.T) *persistence.SQLiteStore {
	t.Helper()
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// writeSRT writes one cue per text, one second apart.
func writeSRT(t *testing.T, path string, texts ...string) {
	t.Helper()
	var sb strings.Builder
	for i, text := range texts {
		fmt.Fprintf(&sb, "%d\n00:00:%02d,000 --> 00:00:%02d,500\n%s\n\n", i+1, i, i, text)
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
}
