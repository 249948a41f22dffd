package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
	"github.com/MimeLyc/subtitle-pipeline/internal/translator"
)

const DefaultBatchSize = 10

var ErrNotIdle = errors.New("orchestrator has already run")

type State int32

const (
	StateIdle State = iota
	StateTranslating
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTranslating:
		return "translating"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sink receives incremental results. Both callbacks run synchronously after
// every batch, in batch order. Either may be nil.
type Sink struct {
	OnProgress func(processed int)
	OnPartial  func(snapshot []subtitle.Line)
}

// Translator translates one batch.
type Translator interface {
	Translate(ctx context.Context, batch []subtitle.Line, opts translator.Options) ([]translator.Result, error)
}

// CheckpointStore keeps results of completed batches so a rerun of the same
// file can skip them.
type CheckpointStore interface {
	Load(firstID, lastID int) ([]translator.Result, bool)
	Save(ctx context.Context, firstID, lastID int, results []translator.Result) error
}

type Options struct {
	translator.Options
	Checkpoints CheckpointStore
}

// BatchExhaustedError aborts a run at the first batch that could not be
// translated. Lines before FirstID keep their merged translations.
type BatchExhaustedError struct {
	FirstID    int
	BatchIndex int
	Batches    int
	Err        error
}

func (e *BatchExhaustedError) Error() string {
	return fmt.Sprintf("translation failed at subtitle %d (batch %d of %d): %v",
		e.FirstID, e.BatchIndex+1, e.Batches, e.Err)
}

func (e *BatchExhaustedError) Unwrap() error {
	return e.Err
}

// FailedLineID reports the first subtitle id of the failed batch.
func (e *BatchExhaustedError) FailedLineID() int {
	return e.FirstID
}
