package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Worker_TransitionsStatus(t *testing.T) {
	q := NewQueue(1, nil)
	q.Start(func(_ context.Context, _ *TranslationJob) error { return nil })
	defer q.Stop()

	job, _ := q.Enqueue(EnqueueRequest{
		Source:    "manual",
		DedupeKey: "k1",
	})

	require.Eventually(t, func() bool {
		got, ok := q.Get(job.ID)
		if !ok || got == nil {
			return false
		}
		return got.Status == StatusSuccess
	}, time.Second, 10*time.Millisecond)
}

func TestQueue_Worker_ReportsProgress(t *testing.T) {
	q := NewQueue(1, nil)
	release := make(chan struct{})
	q.Start(func(_ context.Context, job *TranslationJob) error {
		q.UpdateProgress(job.ID, 10, 25)
		<-release
		return nil
	})
	defer q.Stop()

	job, _ := q.Enqueue(EnqueueRequest{Source: "manual", DedupeKey: "p"})

	require.Eventually(t, func() bool {
		got, _ := q.Get(job.ID)
		return got.Progress == Progress{Processed: 10, Total: 25}
	}, time.Second, 10*time.Millisecond)
	close(release)
}

type stoppedAt struct{ id int }

func (e stoppedAt) Error() string     { return fmt.Sprintf("stopped at %d", e.id) }
func (e stoppedAt) FailedLineID() int { return e.id }

func TestQueue_Worker_RecordsFailedLine(t *testing.T) {
	q := NewQueue(1, nil)
	q.Start(func(_ context.Context, _ *TranslationJob) error {
		return fmt.Errorf("translate: %w", stoppedAt{id: 11})
	})
	defer q.Stop()

	job, _ := q.Enqueue(EnqueueRequest{Source: "manual", DedupeKey: "f"})

	require.Eventually(t, func() bool {
		got, _ := q.Get(job.ID)
		return got.Status == StatusFailed
	}, time.Second, 10*time.Millisecond)

	got, _ := q.Get(job.ID)
	assert.Equal(t, 11, got.FailedAtID)
	assert.Equal(t, "translate: stopped at 11", got.Error)
}

func TestQueue_CancelRunningJob(t *testing.T) {
	q := NewQueue(1, nil)
	started := make(chan struct{})
	q.Start(func(ctx context.Context, _ *TranslationJob) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	defer q.Stop()

	job, _ := q.Enqueue(EnqueueRequest{Source: "manual", DedupeKey: "c"})
	<-started

	_, err := q.Cancel(job.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := q.Get(job.ID)
		return got.Status == StatusCanceled
	}, time.Second, 10*time.Millisecond)

	_, err = q.Cancel(job.ID)
	assert.Error(t, err, "terminal jobs cannot be canceled again")
}

func TestQueue_CancelPendingJob(t *testing.T) {
	q := NewQueue(1, nil)
	job, _ := q.Enqueue(EnqueueRequest{Source: "manual", DedupeKey: "pending"})

	got, err := q.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)

	ran := make(chan string, 1)
	q.Start(func(_ context.Context, job *TranslationJob) error {
		ran <- job.ID
		return nil
	})
	defer q.Stop()

	select {
	case id := <-ran:
		t.Fatalf("canceled job %s was executed", id)
	case <-time.After(50 * time.Millisecond):
	}

	_, err = q.Cancel("job-404")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestQueue_ListIsOldestFirst(t *testing.T) {
	q := NewQueue(1, nil)
	for i := 0; i < 12; i++ {
		q.Enqueue(EnqueueRequest{Source: "manual", DedupeKey: fmt.Sprintf("k%d", i)})
	}

	list := q.List()
	require.Len(t, list, 12)
	assert.Equal(t, "job-1", list[0].ID)
	assert.Equal(t, "job-12", list[11].ID)
}
