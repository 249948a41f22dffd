package jobs

import "context"

// Store keeps job records across restarts. The queue writes through it on
// every status change and reads it once at construction.
type Store interface {
	LoadJobs(ctx context.Context) ([]*TranslationJob, error)
	UpsertJob(ctx context.Context, job *TranslationJob) error
	// DeleteJob drops the record together with the batch checkpoints and
	// line snapshot kept for it.
	DeleteJob(ctx context.Context, jobID string) error
}
