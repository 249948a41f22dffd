package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/subtitle-pipeline/internal/ratelimit"
	"github.com/MimeLyc/subtitle-pipeline/internal/translator"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings are the values an operator may change while the service
// runs. They are persisted as JSON and override the environment on start.
type RuntimeSettings struct {
	LLMAPIURL         string `json:"llm_api_url"`
	LLMAPIKey         string `json:"llm_api_key"`
	LLMModel          string `json:"llm_model"`
	CronExpr          string `json:"cron_expr"`
	SourceLanguage    string `json:"source_language,omitempty"`
	TargetLanguage    string `json:"target_language"`
	RequestsPerMinute string `json:"requests_per_minute"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

// Validate reports every invalid field at once.
func (s RuntimeSettings) Validate() error {
	var errs []error
	required := func(name, value string) bool {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
			return false
		}
		return true
	}

	required("llm_api_url", s.LLMAPIURL)
	required("llm_api_key", s.LLMAPIKey)
	required("llm_model", s.LLMModel)
	if required("cron_expr", s.CronExpr) {
		if _, err := cron.ParseStandard(s.CronExpr); err != nil {
			errs = append(errs, fmt.Errorf("invalid cron_expr: %w", err))
		}
	}
	if src := strings.TrimSpace(s.SourceLanguage); src != "" && !strings.EqualFold(src, translator.AutoLanguage) {
		if _, err := language.Parse(src); err != nil {
			errs = append(errs, fmt.Errorf("invalid source_language: %w", err))
		}
	}
	if required("target_language", s.TargetLanguage) {
		if _, err := language.Parse(s.TargetLanguage); err != nil {
			errs = append(errs, fmt.Errorf("invalid target_language: %w", err))
		}
	}
	if _, err := ratelimit.ParseLimit(s.RequestsPerMinute); err != nil {
		errs = append(errs, fmt.Errorf("invalid requests_per_minute: %w", err))
	}
	return errors.Join(errs...)
}

// Limit returns the parsed request ceiling. Call Validate first.
func (s RuntimeSettings) Limit() ratelimit.Limit {
	limit, _ := ratelimit.ParseLimit(s.RequestsPerMinute)
	return limit
}

// Redacted hides the API key for display, keeping four characters at each
// end of keys long enough to still be recognisable.
func (s RuntimeSettings) Redacted() RuntimeSettings {
	key := s.LLMAPIKey
	switch n := len(key); {
	case n > 8:
		s.LLMAPIKey = key[:4] + strings.Repeat("*", n-8) + key[n-4:]
	case n > 0:
		s.LLMAPIKey = strings.Repeat("*", n)
	}
	return s
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMAPIURL:         c.LLM.APIURL,
		LLMAPIKey:         c.LLM.APIKey,
		LLMModel:          c.LLM.Model,
		CronExpr:          c.Schedule.CronExpr,
		SourceLanguage:    c.Pipeline.SourceLanguage,
		TargetLanguage:    c.Pipeline.TargetLanguage.String(),
		RequestsPerMinute: c.Pipeline.RequestsPerMinute.String(),
	}
}

// WithRuntimeSettings overlays the non-empty, parseable settings on the
// environment config.
func WithRuntimeSettings(settings RuntimeSettings) Option {
	overlay := func(dst *string, value string) {
		if v := strings.TrimSpace(value); v != "" {
			*dst = v
		}
	}
	return func(c *Config) {
		overlay(&c.LLM.APIURL, settings.LLMAPIURL)
		overlay(&c.LLM.APIKey, settings.LLMAPIKey)
		overlay(&c.LLM.Model, settings.LLMModel)
		overlay(&c.Schedule.CronExpr, settings.CronExpr)
		overlay(&c.Pipeline.SourceLanguage, settings.SourceLanguage)
		if tag, err := language.Parse(settings.TargetLanguage); err == nil {
			c.Pipeline.TargetLanguage = tag
		}
		if limit, err := ratelimit.ParseLimit(settings.RequestsPerMinute); err == nil {
			c.Pipeline.RequestsPerMinute = limit
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	return settings, nil
}

// WriteRuntimeSettingsFile validates settings and replaces the file
// atomically. The file holds the API key, so it is only readable by the owner.
func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create settings temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(content, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// RuntimeSettingsStore serves the current settings and writes every accepted
// update through to the settings file.
type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{path: path, current: initial}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// UpdateRuntimeSettings persists next and makes it current. Concurrent
// updates are serialised so the file always matches the in-memory value.
func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}
	s.current = next
	return next, nil
}
