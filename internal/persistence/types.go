package persistence

import (
	"time"

	"github.com/MimeLyc/subtitle-pipeline/internal/transcript"
	"github.com/MimeLyc/subtitle-pipeline/internal/translator"
)

// BatchCheckpoint holds the parsed reply for one completed batch.
type BatchCheckpoint struct {
	JobID     string
	FirstID   int
	LastID    int
	Results   []translator.Result
	UpdatedAt time.Time
}

// TranscriptCacheEntry keeps a normalized transcription keyed by the audio
// digest, model and requested language.
type TranscriptCacheEntry struct {
	CacheKey  string
	Language  string
	Text      string
	Segments  []transcript.Segment
	ExpiresAt time.Time
	UpdatedAt time.Time
}
