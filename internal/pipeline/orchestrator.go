package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
	"github.com/MimeLyc/subtitle-pipeline/internal/translator"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

// Orchestrator drives one file through the batch translator. It is single
// use: Run moves it from idle to translating and then to completed or failed.
type Orchestrator struct {
	translator Translator
	batchSize  int
	state      atomic.Int32
}

type Option func(*Orchestrator)

func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

func New(t Translator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		translator: t,
		batchSize:  DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Run translates lines batch by batch, strictly in order. Results are merged
// by line ID. After every batch sink.OnProgress gets the cumulative line
// count and sink.OnPartial a copy of the full result so far.
//
// The first batch that fails aborts the run with *BatchExhaustedError; the
// returned lines then hold every translation merged before it. The input
// slice is never modified.
func (o *Orchestrator) Run(ctx context.Context, lines []subtitle.Line, opts Options, sink Sink) ([]subtitle.Line, error) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateTranslating)) {
		return nil, ErrNotIdle
	}

	result := subtitle.CloneLines(lines)
	if result == nil {
		result = []subtitle.Line{}
	}
	positions := make(map[int]int, len(result))
	for i, line := range result {
		positions[line.ID] = i
	}

	opts.SourceLanguage = translator.ResolveSourceLanguage(result, opts.SourceLanguage)
	batches := (len(result) + o.batchSize - 1) / o.batchSize
	log.Info("Translating %d lines in %d batches (%s -> %s)",
		len(result), batches, opts.SourceLanguage, opts.TargetLanguage)

	processed := 0
	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			o.state.Store(int32(StateFailed))
			log.Warn("Translation cancelled after %d of %d lines", processed, len(result))
			return result, err
		}

		start := b * o.batchSize
		end := min(start+o.batchSize, len(result))
		batch := result[start:end]
		firstID, lastID := batch[0].ID, batch[len(batch)-1].ID

		results, restored := o.loadCheckpoint(opts.Checkpoints, firstID, lastID)
		if !restored {
			var err error
			results, err = o.translator.Translate(ctx, subtitle.CloneLines(batch), opts.Options)
			if err != nil {
				o.state.Store(int32(StateFailed))
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				log.Error("Batch %d/%d (lines %d-%d) failed: %v", b+1, batches, firstID, lastID, err)
				return result, &BatchExhaustedError{
					FirstID:    firstID,
					BatchIndex: b,
					Batches:    batches,
					Err:        err,
				}
			}
			o.saveCheckpoint(ctx, opts.Checkpoints, firstID, lastID, results)
		}

		merged := merge(result, positions, batch, results)
		if merged < len(batch) {
			log.Warn("Batch %d/%d returned %d of %d lines; missing lines keep their text",
				b+1, batches, merged, len(batch))
		}

		processed += len(batch)
		if sink.OnProgress != nil {
			sink.OnProgress(processed)
		}
		if sink.OnPartial != nil {
			sink.OnPartial(subtitle.CloneLines(result))
		}
	}

	o.state.Store(int32(StateCompleted))
	log.Info("Translation completed: %d lines", len(result))
	return result, nil
}

// merge writes each result into the line with the same ID, provided that ID
// belongs to the batch. It returns how many batch lines were updated.
func merge(result []subtitle.Line, positions map[int]int, batch []subtitle.Line, results []translator.Result) int {
	inBatch := make(map[int]bool, len(batch))
	for _, line := range batch {
		inBatch[line.ID] = true
	}

	updated := make(map[int]bool, len(results))
	for _, r := range results {
		if !inBatch[r.ID] {
			log.Debug("Ignoring translation for unknown id %d", r.ID)
			continue
		}
		result[positions[r.ID]].Text = r.Text
		updated[r.ID] = true
	}
	return len(updated)
}

func (o *Orchestrator) loadCheckpoint(store CheckpointStore, firstID, lastID int) ([]translator.Result, bool) {
	if store == nil {
		return nil, false
	}
	results, ok := store.Load(firstID, lastID)
	if ok {
		log.Info("Restored lines %d-%d from checkpoint", firstID, lastID)
	}
	return results, ok
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, store CheckpointStore, firstID, lastID int, results []translator.Result) {
	if store == nil {
		return
	}
	if err := store.Save(ctx, firstID, lastID, results); err != nil {
		log.Warn("Failed to save checkpoint for lines %d-%d: %v", firstID, lastID, err)
	}
}
