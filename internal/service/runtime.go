package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MimeLyc/subtitle-pipeline/internal/config"
	"github.com/MimeLyc/subtitle-pipeline/internal/llm"
	"github.com/MimeLyc/subtitle-pipeline/internal/ratelimit"
	"github.com/MimeLyc/subtitle-pipeline/internal/transcript"
	"github.com/MimeLyc/subtitle-pipeline/internal/translator"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

// Runtime owns the configuration that may change while the process runs and
// the rate governor every AI call goes through. Clients are built from the
// current configuration on demand, so a settings update affects the next job.
type Runtime struct {
	governor *ratelimit.Governor

	mu  sync.RWMutex
	cfg config.Config
}

func NewRuntime(cfg config.Config, governor *ratelimit.Governor) *Runtime {
	if governor == nil {
		governor = ratelimit.New(cfg.Pipeline.RequestsPerMinute)
	}
	return &Runtime{
		governor: governor,
		cfg:      cfg,
	}
}

func (r *Runtime) Config() config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *Runtime) Governor() *ratelimit.Governor {
	return r.governor
}

// Apply validates and installs new runtime settings. The governor window is
// only reset when the requests-per-minute limit changes.
func (r *Runtime) Apply(settings config.RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return WrapError(err, ErrValidation, "invalid runtime settings")
	}
	r.mu.Lock()
	config.WithRuntimeSettings(settings)(&r.cfg)
	r.mu.Unlock()

	r.governor.SetLimit(settings.Limit())
	log.Info("Applied runtime settings: %+v", settings.Redacted())
	return nil
}

// NewBatchTranslator builds a translator against the current LLM settings.
func (r *Runtime) NewBatchTranslator() (*translator.BatchTranslator, error) {
	cfg := r.Config()
	client, err := llm.NewClient(cfg.LLM.ClientConfig())
	if err != nil {
		return nil, WrapError(err, ErrConfig, "failed to create LLM client")
	}
	return translator.NewBatchTranslator(
		translator.NewLLMEndpoint(client),
		r.governor,
		translator.WithMaxAttempts(cfg.Pipeline.MaxRetries),
		translator.WithBaseDelay(cfg.Pipeline.RetryBaseDelay),
		translator.WithCallTimeout(cfg.Pipeline.CallTimeout),
	), nil
}

// NewTranscriber builds a transcriber against the current speech-to-text settings.
func (r *Runtime) NewTranscriber() *transcript.Transcriber {
	cfg := r.Config()
	endpoint := transcript.NewOpenAIEndpoint(transcript.EndpointConfig{
		APIKey:  cfg.Transcribe.APIKey,
		BaseURL: cfg.Transcribe.APIURL,
		Model:   cfg.Transcribe.Model,
		Timeout: time.Duration(cfg.LLM.Timeout) * time.Second,
	})
	return transcript.NewTranscriber(
		endpoint,
		r.governor,
		transcript.WithPolicy(cfg.Segment.Policy()),
		transcript.WithCallTimeout(cfg.Pipeline.CallTimeout),
	)
}

// CredentialCheck is the outcome of probing an API key.
type CredentialCheck struct {
	Valid  bool   `json:"valid"`
	Models int    `json:"models"`
	Reason string `json:"reason,omitempty"`
}

// ValidateCredentials probes the models endpoint with apiKey, or with the
// configured key when apiKey is empty. The probe counts against the request
// budget like any other AI call.
func (r *Runtime) ValidateCredentials(ctx context.Context, apiKey string) (*CredentialCheck, error) {
	client, err := llm.NewClient(r.Config().LLM.ClientConfig())
	if err != nil {
		return nil, WrapError(err, ErrConfig, "failed to create LLM client")
	}
	if err := r.governor.Admit(ctx); err != nil {
		return nil, WrapError(err, ErrCanceled, "credential check canceled")
	}

	models, err := client.ListModels(ctx, apiKey)
	if err != nil {
		var statusErr *llm.StatusError
		if errors.As(err, &statusErr) &&
			(statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden) {
			return &CredentialCheck{Valid: false, Reason: statusErr.Error()}, nil
		}
		return nil, WrapError(err, Classify(err), "credential check failed")
	}
	return &CredentialCheck{Valid: true, Models: len(models)}, nil
}
