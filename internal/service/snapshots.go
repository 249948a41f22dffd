package service

import (
	"context"
	"sync"

	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

type snapshotBackend interface {
	PutJobLines(ctx context.Context, jobID string, lines []subtitle.Line) error
	GetJobLines(ctx context.Context, jobID string) ([]subtitle.Line, bool, error)
}

// Snapshots keeps the latest partial result of every job, so clients can show
// translated lines while the job is still running.
type Snapshots struct {
	backend snapshotBackend

	mu    sync.RWMutex
	lines map[string][]subtitle.Line
}

// NewSnapshots creates the registry. backend may be nil for memory only.
func NewSnapshots(backend snapshotBackend) *Snapshots {
	return &Snapshots{
		backend: backend,
		lines:   make(map[string][]subtitle.Line),
	}
}

// Put replaces the snapshot of a job. The persisted copy is best effort.
func (s *Snapshots) Put(ctx context.Context, jobID string, lines []subtitle.Line) {
	copied := subtitle.CloneLines(lines)
	s.mu.Lock()
	s.lines[jobID] = copied
	s.mu.Unlock()

	if s.backend == nil {
		return
	}
	if err := s.backend.PutJobLines(ctx, jobID, copied); err != nil {
		log.Warn("Failed to persist snapshot of job %s: %v", jobID, err)
	}
}

// Get returns a copy of the latest snapshot, falling back to the backend for
// jobs that ran before a restart.
func (s *Snapshots) Get(ctx context.Context, jobID string) ([]subtitle.Line, bool, error) {
	s.mu.RLock()
	lines, ok := s.lines[jobID]
	s.mu.RUnlock()
	if ok {
		return subtitle.CloneLines(lines), true, nil
	}
	if s.backend == nil {
		return nil, false, nil
	}
	return s.backend.GetJobLines(ctx, jobID)
}
