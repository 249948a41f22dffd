package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/subtitle-pipeline/internal/llm"
	"github.com/MimeLyc/subtitle-pipeline/internal/ratelimit"
	"github.com/MimeLyc/subtitle-pipeline/internal/transcript"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: Model name to use (default: openai/gpt-4o-mini)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 4000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
// - LLM_TIMEOUT: HTTP client timeout in seconds (default: 180)
// - LLM_SITE_URL / LLM_APP_NAME: optional attribution headers
//
// Transcription Configuration:
// - TRANSCRIBE_API_KEY: API key for the speech-to-text endpoint (default: LLM_API_KEY)
// - TRANSCRIBE_API_URL: endpoint URL (default: https://api.openai.com/v1)
// - TRANSCRIBE_MODEL: model (default: whisper-1)
//
// Pipeline Configuration:
// - REQUESTS_PER_MINUTE: positive integer or "unlimited" (default: 20)
// - BATCH_SIZE: lines per translation request (default: 10)
// - MAX_RETRIES: attempts per batch (default: 3)
// - RETRY_BASE_DELAY_MS: first backoff delay (default: 2000)
// - LLM_CALL_TIMEOUT: per-call deadline in seconds (default: 180)
// - SOURCE_LANGUAGE: source language or "auto" (default: auto)
// - TARGET_LANGUAGE: target language (default: zh)
//
// Segment Configuration:
// - SEGMENT_MAX_CHARS (default: 55)
// - SEGMENT_MIN_DURATION_MS (default: 300)
// - SEGMENT_GAP_MS (default: 50)
//
// System Configuration:
// - DATA_DIR: SQLite and checkpoint directory (default: /app/data)
// - LOG_LEVEL: debug, info, warn, error (default: info)
// - LOG_FILE: append logs to this file as well as stdout (optional)
// - HTTP_ADDR: API listen address (default: :8080)
// - CORS_ORIGINS: comma separated allowed origins (default: *)
// - WATCH_DIR: directory scanned for new .srt files (optional)
// - CRON_EXPR: scan schedule (default: 0 * * * *)
// - SCAN_WINDOW_HOURS: only files modified within this window are queued (default: 24)
type Config struct {
	LLM        LLMConfig        `json:"llm"`
	Transcribe TranscribeConfig `json:"transcribe"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Segment    SegmentConfig    `json:"segment"`
	HTTP       HTTPConfig       `json:"http"`
	Schedule   ScheduleConfig   `json:"schedule"`
	System     SystemConfig     `json:"system"`
}

// LLMConfig holds the configuration for LLM client
// Supports any OpenAI-compatible provider (OpenRouter, OpenAI, etc.)
type LLMConfig struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

func (c LLMConfig) ClientConfig() *llm.Config {
	return &llm.Config{
		APIKey:      c.APIKey,
		APIURL:      c.APIURL,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Timeout:     c.Timeout,
		SiteURL:     c.SiteURL,
		AppName:     c.AppName,
	}
}

type TranscribeConfig struct {
	APIKey string `json:"api_key"`
	APIURL string `json:"api_url"`
	Model  string `json:"model"`
}

type PipelineConfig struct {
	RequestsPerMinute ratelimit.Limit `json:"requests_per_minute"`
	BatchSize         int             `json:"batch_size"`
	MaxRetries        int             `json:"max_retries"`
	RetryBaseDelay    time.Duration   `json:"retry_base_delay"`
	CallTimeout       time.Duration   `json:"call_timeout"`
	SourceLanguage    string          `json:"source_language"`
	TargetLanguage    language.Tag    `json:"target_language"`
}

type SegmentConfig struct {
	MaxChars    int           `json:"max_chars"`
	MinDuration time.Duration `json:"min_duration"`
	Gap         time.Duration `json:"gap"`
}

func (c SegmentConfig) Policy() transcript.Policy {
	return transcript.Policy{
		MaxChars:    c.MaxChars,
		MinDuration: c.MinDuration,
		Gap:         c.Gap,
	}
}

type HTTPConfig struct {
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type ScheduleConfig struct {
	CronExpr   string        `json:"cron_expr"`
	WatchDir   string        `json:"watch_dir"`
	ScanWindow time.Duration `json:"scan_window"`
}

type SystemConfig struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	// LogFile also receives every log line when set.
	LogFile  string `json:"log_file"`
}

func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "subtitle-pipeline.db")
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	rpm, err := ratelimit.ParseLimit(getEnvString("REQUESTS_PER_MINUTE", "20"))
	if err != nil {
		return nil, fmt.Errorf("REQUESTS_PER_MINUTE: %w", err)
	}
	target, err := language.Parse(getEnvString("TARGET_LANGUAGE", "zh"))
	if err != nil {
		return nil, fmt.Errorf("TARGET_LANGUAGE: %w", err)
	}

	llmKey := getEnvString("LLM_API_KEY", "")
	config := &Config{
		LLM: LLMConfig{
			APIKey:      llmKey,
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 4000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvInt("LLM_TIMEOUT", 180),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", ""),
		},
		Transcribe: TranscribeConfig{
			APIKey: getEnvString("TRANSCRIBE_API_KEY", llmKey),
			APIURL: getEnvString("TRANSCRIBE_API_URL", "https://api.openai.com/v1"),
			Model:  getEnvString("TRANSCRIBE_MODEL", transcript.DefaultModel),
		},
		Pipeline: PipelineConfig{
			RequestsPerMinute: rpm,
			BatchSize:         getEnvInt("BATCH_SIZE", 10),
			MaxRetries:        getEnvInt("MAX_RETRIES", 3),
			RetryBaseDelay:    time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 2000)) * time.Millisecond,
			CallTimeout:       time.Duration(getEnvInt("LLM_CALL_TIMEOUT", 180)) * time.Second,
			SourceLanguage:    getEnvString("SOURCE_LANGUAGE", "auto"),
			TargetLanguage:    target,
		},
		Segment: SegmentConfig{
			MaxChars:    getEnvInt("SEGMENT_MAX_CHARS", transcript.DefaultMaxChars),
			MinDuration: time.Duration(getEnvInt("SEGMENT_MIN_DURATION_MS", 300)) * time.Millisecond,
			Gap:         time.Duration(getEnvInt("SEGMENT_GAP_MS", 50)) * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Addr:           getEnvString("HTTP_ADDR", ":8080"),
			AllowedOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
		},
		Schedule: ScheduleConfig{
			CronExpr:   getEnvString("CRON_EXPR", "0 * * * *"),
			WatchDir:   getEnvString("WATCH_DIR", ""),
			ScanWindow: time.Duration(getEnvInt("SCAN_WINDOW_HOURS", 24)) * time.Hour,
		},
		System: SystemConfig{
			DataDir:  getEnvString("DATA_DIR", "/app/data"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
			LogFile:  getEnvString("LOG_FILE", ""),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config: llm=%s model=%s rpm=%s batch=%d retries=%d target=%s",
		config.LLM.APIURL, config.LLM.Model, config.Pipeline.RequestsPerMinute,
		config.Pipeline.BatchSize, config.Pipeline.MaxRetries, config.Pipeline.TargetLanguage)

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.MaxRetries <= 0 {
		return fmt.Errorf("MAX_RETRIES must be positive, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.RetryBaseDelay < 0 {
		return fmt.Errorf("RETRY_BASE_DELAY_MS must not be negative")
	}
	if c.Pipeline.CallTimeout <= 0 {
		return fmt.Errorf("LLM_CALL_TIMEOUT must be positive")
	}
	if c.Segment.MaxChars <= 0 {
		return fmt.Errorf("SEGMENT_MAX_CHARS must be positive, got %d", c.Segment.MaxChars)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var ret []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	if len(ret) == 0 {
		return defaultValue
	}
	return ret
}
