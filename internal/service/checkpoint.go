package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/MimeLyc/subtitle-pipeline/internal/persistence"
	"github.com/MimeLyc/subtitle-pipeline/internal/translator"
)

type checkpointBackend interface {
	LoadBatchCheckpoints(ctx context.Context, jobID string) ([]persistence.BatchCheckpoint, error)
	SaveBatchCheckpoint(ctx context.Context, jobID string, firstID, lastID int, results []translator.Result) error
}

// persistentBatchCheckpointStore serves pipeline.CheckpointStore for one job,
// caching what is already on disk.
type persistentBatchCheckpointStore struct {
	backend checkpointBackend
	jobID   string

	mu     sync.RWMutex
	cached map[batchRange][]translator.Result
}

type batchRange struct {
	first, last int
}

func newPersistentBatchCheckpointStore(ctx context.Context, backend checkpointBackend, jobID string) (*persistentBatchCheckpointStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if jobID == "" {
		return nil, fmt.Errorf("job id is empty")
	}

	checkpoints, err := backend.LoadBatchCheckpoints(ctx, jobID)
	if err != nil {
		return nil, err
	}

	cached := make(map[batchRange][]translator.Result, len(checkpoints))
	for _, cp := range checkpoints {
		cached[batchRange{cp.FirstID, cp.LastID}] = append([]translator.Result(nil), cp.Results...)
	}

	return &persistentBatchCheckpointStore{
		backend: backend,
		jobID:   jobID,
		cached:  cached,
	}, nil
}

func (s *persistentBatchCheckpointStore) Load(firstID, lastID int) ([]translator.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret, ok := s.cached[batchRange{firstID, lastID}]
	if !ok {
		return nil, false
	}
	return append([]translator.Result(nil), ret...), true
}

func (s *persistentBatchCheckpointStore) Save(ctx context.Context, firstID, lastID int, results []translator.Result) error {
	copyData := append([]translator.Result(nil), results...)
	if err := s.backend.SaveBatchCheckpoint(ctx, s.jobID, firstID, lastID, copyData); err != nil {
		return err
	}
	s.mu.Lock()
	s.cached[batchRange{firstID, lastID}] = copyData
	s.mu.Unlock()
	return nil
}
