package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/MimeLyc/subtitle-pipeline/internal/persistence"
	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
	"github.com/MimeLyc/subtitle-pipeline/internal/transcript"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

type transcriptCache interface {
	GetTranscriptCache(ctx context.Context, cacheKey string, now time.Time) (persistence.TranscriptCacheEntry, bool, error)
	PutTranscriptCache(ctx context.Context, entry persistence.TranscriptCacheEntry) error
}

type audioTranscriber interface {
	Transcribe(ctx context.Context, req transcript.Request) (*transcript.Result, error)
}

// TranscribeRequest is one audio upload.
type TranscribeRequest struct {
	Audio       []byte
	Filename    string
	Language    string
	Credentials string
}

// TranscribeResult carries the normalized transcript and its SRT rendering.
type TranscribeResult struct {
	transcript.Result
	Lines  []subtitle.Line `json:"lines"`
	SRT    string          `json:"srt"`
	Cached bool            `json:"cached"`
}

// TranscribeService turns audio into normalized subtitle lines, reusing
// earlier transcriptions of identical audio.
type TranscribeService struct {
	runtime        *Runtime
	cache          transcriptCache
	newTranscriber func() audioTranscriber
	now            func() time.Time
}

func NewTranscribeService(runtime *Runtime, cache transcriptCache) *TranscribeService {
	return &TranscribeService{
		runtime:        runtime,
		cache:          cache,
		newTranscriber: func() audioTranscriber { return runtime.NewTranscriber() },
		now:            time.Now,
	}
}

func (s *TranscribeService) Transcribe(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error) {
	if len(req.Audio) == 0 {
		return nil, NewError(ErrValidation, "audio is empty")
	}

	key := s.cacheKey(req)
	if entry, ok := s.lookup(ctx, key); ok {
		log.Info("Transcript cache hit for %s", req.Filename)
		return newTranscribeResult(transcript.Result{
			Text:     entry.Text,
			Language: entry.Language,
			Segments: entry.Segments,
		}, true), nil
	}

	result, err := s.newTranscriber().Transcribe(ctx, transcript.Request{
		Audio:       req.Audio,
		Filename:    req.Filename,
		Language:    req.Language,
		Credentials: req.Credentials,
	})
	if err != nil {
		return nil, WrapError(err, Classify(err), "transcription failed")
	}

	if s.cache != nil {
		if err := s.cache.PutTranscriptCache(ctx, persistence.TranscriptCacheEntry{
			CacheKey:  key,
			Language:  result.Language,
			Text:      result.Text,
			Segments:  result.Segments,
			UpdatedAt: s.now(),
		}); err != nil {
			log.Warn("Failed to cache transcript: %v", err)
		}
	}
	return newTranscribeResult(*result, false), nil
}

func (s *TranscribeService) lookup(ctx context.Context, key string) (persistence.TranscriptCacheEntry, bool) {
	if s.cache == nil {
		return persistence.TranscriptCacheEntry{}, false
	}
	entry, ok, err := s.cache.GetTranscriptCache(ctx, key, s.now())
	if err != nil {
		log.Warn("Transcript cache lookup failed: %v", err)
		return persistence.TranscriptCacheEntry{}, false
	}
	return entry, ok
}

// cacheKey covers everything that changes the normalized output.
func (s *TranscribeService) cacheKey(req TranscribeRequest) string {
	cfg := s.runtime.Config()
	hash := sha256.Sum256(req.Audio)
	policy := cfg.Segment.Policy()
	return fmt.Sprintf("%x|%s|%s|%d/%d/%d", hash, cfg.Transcribe.Model, req.Language,
		policy.MaxChars, policy.MinDuration.Milliseconds(), policy.Gap.Milliseconds())
}

func newTranscribeResult(result transcript.Result, cached bool) *TranscribeResult {
	lines := transcript.ToLines(result.Segments)
	return &TranscribeResult{
		Result: result,
		Lines:  lines,
		SRT:    string(subtitle.FormatSRT(lines)),
		Cached: cached,
	}
}
