package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subtitle-pipeline/internal/ratelimit"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("DATA_DIR", "")
	t.Setenv("TRANSCRIBE_API_KEY", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ratelimit.Limit(20), cfg.Pipeline.RequestsPerMinute)
	assert.Equal(t, 10, cfg.Pipeline.BatchSize)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.RetryBaseDelay)
	assert.Equal(t, 180*time.Second, cfg.Pipeline.CallTimeout)
	assert.Equal(t, "auto", cfg.Pipeline.SourceLanguage)
	assert.Equal(t, "zh", cfg.Pipeline.TargetLanguage.String())

	policy := cfg.Segment.Policy()
	assert.Equal(t, 55, policy.MaxChars)
	assert.Equal(t, 300*time.Millisecond, policy.MinDuration)
	assert.Equal(t, 50*time.Millisecond, policy.Gap)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "test-key", cfg.Transcribe.APIKey, "falls back to the LLM key")
	assert.Equal(t, "whisper-1", cfg.Transcribe.Model)
	assert.Equal(t, 24*time.Hour, cfg.Schedule.ScanWindow)
	assert.Equal(t, filepath.Join("/app/data", "subtitle-pipeline.db"), cfg.DBPath())
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("REQUESTS_PER_MINUTE", "unlimited")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("RETRY_BASE_DELAY_MS", "500")
	t.Setenv("SEGMENT_MAX_CHARS", "42")
	t.Setenv("CORS_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("DATA_DIR", "/tmp/pipeline-data")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ratelimit.Unlimited, cfg.Pipeline.RequestsPerMinute)
	assert.Equal(t, 25, cfg.Pipeline.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.RetryBaseDelay)
	assert.Equal(t, 42, cfg.Segment.MaxChars)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, filepath.Join("/tmp/pipeline-data", "subtitle-pipeline.db"), cfg.DBPath())
}

func TestNewFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		msg  string
	}{
		{name: "missing key", env: map[string]string{"LLM_API_KEY": ""}, msg: "LLM_API_KEY"},
		{name: "zero rpm", env: map[string]string{"REQUESTS_PER_MINUTE": "0"}, msg: "REQUESTS_PER_MINUTE"},
		{name: "bad language", env: map[string]string{"TARGET_LANGUAGE": "??"}, msg: "TARGET_LANGUAGE"},
		{name: "zero batch", env: map[string]string{"BATCH_SIZE": "0"}, msg: "BATCH_SIZE"},
		{name: "zero retries", env: map[string]string{"MAX_RETRIES": "0"}, msg: "MAX_RETRIES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LLM_API_KEY", "test-key")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLLMConfig_ClientConfig(t *testing.T) {
	c := LLMConfig{APIKey: "k", APIURL: "u", Model: "m", MaxTokens: 1, Temperature: 0.5, Timeout: 9}
	got := c.ClientConfig()
	assert.Equal(t, "k", got.APIKey)
	assert.Equal(t, 9, got.Timeout)
	require.NoError(t, got.Validate())
}
