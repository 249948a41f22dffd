package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MimeLyc/subtitle-pipeline/internal/glossary"
	"github.com/MimeLyc/subtitle-pipeline/internal/llm"
	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultCallTimeout = 180 * time.Second

	backoffFactor = 1.5
)

// AttemptsExhaustedError reports a batch that failed on every attempt. It
// unwraps to the last attempt's error.
type AttemptsExhaustedError struct {
	FirstID  int
	LastID   int
	Attempts int
	Err      error
}

func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("lines %d-%d failed after %d attempts: %v", e.FirstID, e.LastID, e.Attempts, e.Err)
}

func (e *AttemptsExhaustedError) Unwrap() error {
	return e.Err
}

// Options describe the languages, credentials and model for a run.
type Options struct {
	SourceLanguage string
	TargetLanguage string
	Credentials    string
	Model          ModelConfig
	// Glossary is narrowed to the matching terms of each batch.
	Glossary glossary.Glossary
}

type Sleeper func(ctx context.Context, d time.Duration) error

// BatchTranslator sends one bounded batch per call, retrying with backoff.
type BatchTranslator struct {
	endpoint    Endpoint
	admitter    Admitter
	maxAttempts int
	baseDelay   time.Duration
	callTimeout time.Duration
	sleep       Sleeper
}

type Option func(*BatchTranslator)

func WithMaxAttempts(n int) Option {
	return func(t *BatchTranslator) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(t *BatchTranslator) {
		if d >= 0 {
			t.baseDelay = d
		}
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(t *BatchTranslator) {
		if d > 0 {
			t.callTimeout = d
		}
	}
}

// WithSleeper replaces the backoff wait, used by tests.
func WithSleeper(sleep Sleeper) Option {
	return func(t *BatchTranslator) {
		t.sleep = sleep
	}
}

func NewBatchTranslator(endpoint Endpoint, admitter Admitter, opts ...Option) *BatchTranslator {
	t := &BatchTranslator{
		endpoint:    endpoint,
		admitter:    admitter,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		callTimeout: DefaultCallTimeout,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate sends the current Text of every line in batch and returns the
// endpoint's results. Transport and shape failures are retried; after the
// last attempt the error is returned as *AttemptsExhaustedError. Context
// cancellation is returned as is.
func (t *BatchTranslator) Translate(ctx context.Context, batch []subtitle.Line, opts Options) ([]Result, error) {
	if len(batch) == 0 {
		return []Result{}, nil
	}

	req := Request{
		SourceLanguage: opts.SourceLanguage,
		TargetLanguage: opts.TargetLanguage,
		Items:          make([]Item, 0, len(batch)),
		Credentials:    opts.Credentials,
		Model:          opts.Model,
	}
	if req.SourceLanguage == "" {
		req.SourceLanguage = AutoLanguage
	}
	for _, line := range batch {
		req.Items = append(req.Items, Item{ID: line.ID, Text: encodeText(line.Text)})
	}
	req.Glossary = opts.Glossary.Match(subtitle.Texts(batch))
	firstID, lastID := batch[0].ID, batch[len(batch)-1].ID

	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := t.backoff(attempt - 1)
			log.Warn("Retrying lines %d-%d in %v (attempt %d/%d): %v",
				firstID, lastID, delay, attempt, t.maxAttempts, lastErr)
			if err := t.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		results, err := t.attempt(ctx, req)
		if err == nil {
			log.Debug("Translated lines %d-%d on attempt %d", firstID, lastID, attempt)
			return results, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
	}

	return nil, &AttemptsExhaustedError{
		FirstID:  firstID,
		LastID:   lastID,
		Attempts: t.maxAttempts,
		Err:      lastErr,
	}
}

func (t *BatchTranslator) attempt(ctx context.Context, req Request) ([]Result, error) {
	if t.admitter != nil {
		if err := t.admitter.Admit(ctx); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()

	raw, err := t.endpoint.Translate(callCtx, req)
	if err != nil {
		if errors.Is(err, llm.ErrTransport) || errors.Is(err, llm.ErrInvalidResponseShape) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", llm.ErrTransport, err)
	}
	return parseResults(raw)
}

// backoff returns baseDelay * 1.5^(retry-1).
func (t *BatchTranslator) backoff(retry int) time.Duration {
	return time.Duration(float64(t.baseDelay) * math.Pow(backoffFactor, float64(retry-1)))
}

func parseResults(raw string) ([]Result, error) {
	repaired := llm.RepairJSONArray(raw)

	var values []json.RawMessage
	if err := json.Unmarshal([]byte(repaired), &values); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrInvalidResponseShape, err)
	}

	results := make([]Result, 0, len(values))
	for i, v := range values {
		var r Result
		if err := json.Unmarshal(v, &r); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", llm.ErrInvalidResponseShape, i, err)
		}
		r.Text = decodeText(r.Text)
		results = append(results, r)
	}
	return results, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
