package jobs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

var ErrJobNotFound = errors.New("job not found")

// Executor runs one job. Returning an error that implements
// FailedLineID() int records where the run stopped.
type Executor func(ctx context.Context, job *TranslationJob) error

const (
	defaultRetention = 1000
	readyBuffer      = 1024
	idPrefix         = "job-"
)

// Queue runs subtitle jobs on a fixed worker pool. With one worker, files
// are translated one after another so they never compete for the request
// budget.
type Queue struct {
	workers   int
	retention int
	store     Store

	mu      sync.RWMutex
	jobs    map[string]*TranslationJob
	active  map[string]string // dedupe key -> id of the pending or running job
	cancels map[string]context.CancelFunc
	seq     uint64
	started bool

	ready    chan string
	rootCtx  context.Context
	stop     context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type QueueOption func(*Queue)

// WithRetention caps how many jobs are kept. The oldest finished jobs are
// dropped, together with their stored checkpoints, once the cap is passed.
func WithRetention(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.retention = n
		}
	}
}

// NewQueue builds a queue and restores the jobs held by store. Jobs that
// were running when the process died come back as pending.
func NewQueue(workers int, store Store, opts ...QueueOption) *Queue {
	rootCtx, stop := context.WithCancel(context.Background())
	q := &Queue{
		workers:   max(workers, 1),
		retention: defaultRetention,
		store:     store,
		jobs:      make(map[string]*TranslationJob),
		active:    make(map[string]string),
		cancels:   make(map[string]context.CancelFunc),
		ready:     make(chan string, readyBuffer),
		rootCtx:   rootCtx,
		stop:      stop,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.restore(context.Background())
	return q
}

// Enqueue adds a job unless one with the same dedupe key is still pending
// or running, in which case that job is returned with created=false.
func (q *Queue) Enqueue(req EnqueueRequest) (job *TranslationJob, created bool) {
	q.mu.Lock()
	if existing := q.activeLocked(req.DedupeKey); existing != nil {
		snapshot := cloneJob(existing)
		q.mu.Unlock()
		return snapshot, false
	}

	q.seq++
	now := time.Now()
	job = &TranslationJob{
		ID:        idPrefix + strconv.FormatUint(q.seq, 10),
		Source:    req.Source,
		DedupeKey: req.DedupeKey,
		Payload:   req.Payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.jobs[job.ID] = job
	if job.DedupeKey != "" {
		q.active[job.DedupeKey] = job.ID
	}
	started := q.started
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persist(snapshot)
	if started {
		q.schedule(snapshot.ID)
	}
	log.Debug("Queued %s (%s) for %s -> %s", snapshot.ID, snapshot.Source, snapshot.Payload.InputPath, snapshot.Payload.TargetLanguage)
	return snapshot, true
}

func (q *Queue) activeLocked(key string) *TranslationJob {
	if key == "" {
		return nil
	}
	id, ok := q.active[key]
	if !ok {
		return nil
	}
	job, ok := q.jobs[id]
	if !ok || job.Status.Terminal() {
		delete(q.active, key)
		return nil
	}
	return job
}

func (q *Queue) Get(id string) (*TranslationJob, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns every known job, oldest first.
func (q *Queue) List() []*TranslationJob {
	q.mu.RLock()
	ret := make([]*TranslationJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		ret = append(ret, cloneJob(job))
	}
	q.mu.RUnlock()

	slices.SortFunc(ret, func(a, b *TranslationJob) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(jobSeq(a.ID), jobSeq(b.ID))
	})
	return ret
}

// UpdateProgress records how many lines of a running job are done. It is
// kept in memory and persisted with the next status change.
func (q *Queue) UpdateProgress(id string, processed, total int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok && job.Status == StatusRunning {
		job.Progress = Progress{Processed: processed, Total: total}
		job.UpdatedAt = time.Now()
	}
}

// Cancel stops a pending or running job. A running job sees its context
// cancelled and ends as canceled once the executor returns.
func (q *Queue) Cancel(id string) (*TranslationJob, error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return nil, ErrJobNotFound
	}
	if job.Status.Terminal() {
		snapshot := cloneJob(job)
		q.mu.Unlock()
		return snapshot, fmt.Errorf("job %s is already %s", id, snapshot.Status)
	}

	if job.Status == StatusRunning {
		// settle records the canceled state once the executor returns
		if cancel, ok := q.cancels[id]; ok {
			cancel()
		}
		snapshot := cloneJob(job)
		q.mu.Unlock()
		return snapshot, nil
	}

	job.Status = StatusCanceled
	job.Error = "canceled"
	job.UpdatedAt = time.Now()
	q.releaseLocked(job)
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persist(snapshot)
	return snapshot, nil
}

// Start launches the workers and schedules every pending job. Calling it
// again is a no-op.
func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	var pending []*TranslationJob
	for _, job := range q.jobs {
		if job.Status == StatusPending {
			pending = append(pending, job)
		}
	}
	slices.SortFunc(pending, func(a, b *TranslationJob) int {
		return cmp.Compare(jobSeq(a.ID), jobSeq(b.ID))
	})
	q.mu.Unlock()

	for _, job := range pending {
		q.schedule(job.ID)
	}
	for range q.workers {
		q.wg.Add(1)
		go q.work(exec)
	}
}

// Stop cancels running jobs and waits for the workers to exit. Interrupted
// jobs go back to pending in the store so they resume on the next start.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.stop()
		q.wg.Wait()
	})
}

func (q *Queue) schedule(id string) {
	select {
	case q.ready <- id:
	default:
		go func() {
			select {
			case q.ready <- id:
			case <-q.rootCtx.Done():
			}
		}()
	}
}

func (q *Queue) work(exec Executor) {
	defer q.wg.Done()
	for {
		select {
		case <-q.rootCtx.Done():
			return
		case id := <-q.ready:
			job, ctx, ok := q.claim(id)
			if !ok {
				continue
			}
			q.settle(id, ctx, exec(ctx, job))
		}
	}
}

// claim moves a pending job to running and hands back its context.
func (q *Queue) claim(id string) (*TranslationJob, context.Context, bool) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusPending {
		q.mu.Unlock()
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(q.rootCtx)
	q.cancels[id] = cancel
	job.Status = StatusRunning
	job.Error = ""
	job.FailedAtID = 0
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persist(snapshot)
	log.Info("Running %s: %s", id, snapshot.Payload.InputPath)
	return snapshot, ctx, true
}

// failedLineID is implemented by errors that know where a run stopped.
type failedLineID interface {
	FailedLineID() int
}

// settle records how a run ended. A run cut short by Stop is not an
// outcome: the job goes back to pending and keeps its dedupe slot.
func (q *Queue) settle(id string, ctx context.Context, err error) {
	var next Status
	switch {
	case err == nil:
		next = StatusSuccess
	case q.rootCtx.Err() != nil:
		next = StatusPending
	case ctx.Err() != nil:
		next = StatusCanceled
	default:
		next = StatusFailed
	}

	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	if cancel, ok := q.cancels[id]; ok {
		cancel()
		delete(q.cancels, id)
	}
	job.Status = next
	job.UpdatedAt = time.Now()
	switch next {
	case StatusFailed:
		job.Error = err.Error()
		var f failedLineID
		if errors.As(err, &f) {
			job.FailedAtID = f.FailedLineID()
		}
	case StatusCanceled:
		job.Error = "canceled"
	}
	var dropped []string
	if next.Terminal() {
		q.releaseLocked(job)
		dropped = q.trimLocked()
	}
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persist(snapshot)
	q.forget(dropped)

	switch next {
	case StatusFailed:
		log.Error("Job %s failed: %v", id, err)
	case StatusCanceled:
		log.Info("Job %s canceled", id)
	case StatusSuccess:
		log.Info("Job %s done: %s", id, snapshot.Payload.OutputPath)
	}
}

func (q *Queue) releaseLocked(job *TranslationJob) {
	if job.DedupeKey == "" {
		return
	}
	if id, ok := q.active[job.DedupeKey]; ok && id == job.ID {
		delete(q.active, job.DedupeKey)
	}
}

// trimLocked drops the oldest finished jobs beyond the retention cap and
// returns their ids.
func (q *Queue) trimLocked() []string {
	excess := len(q.jobs) - q.retention
	if excess <= 0 {
		return nil
	}
	finished := make([]*TranslationJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		if job.Status.Terminal() {
			finished = append(finished, job)
		}
	}
	slices.SortFunc(finished, func(a, b *TranslationJob) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})

	ids := make([]string, 0, min(excess, len(finished)))
	for _, job := range finished[:min(excess, len(finished))] {
		delete(q.jobs, job.ID)
		ids = append(ids, job.ID)
	}
	return ids
}

func (q *Queue) forget(ids []string) {
	if q.store == nil {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete trimmed job %s: %v", id, err)
		}
	}
}

func (q *Queue) restore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	var requeued []*TranslationJob
	q.mu.Lock()
	for _, stored := range loaded {
		if stored == nil || stored.ID == "" {
			continue
		}
		job := cloneJob(stored)
		if job.Status == StatusRunning {
			job.Status = StatusPending
			job.UpdatedAt = time.Now()
			requeued = append(requeued, cloneJob(job))
		}
		q.jobs[job.ID] = job
		if !job.Status.Terminal() && job.DedupeKey != "" {
			q.active[job.DedupeKey] = job.ID
		}
		q.seq = max(q.seq, jobSeq(job.ID))
	}
	q.mu.Unlock()

	for _, job := range requeued {
		q.persist(job)
	}
	if len(loaded) > 0 {
		log.Info("Restored %d jobs (%d interrupted)", len(loaded), len(requeued))
	}
}

func jobSeq(id string) uint64 {
	n, err := strconv.ParseUint(strings.TrimPrefix(id, idPrefix), 10, 64)
	if err != nil || !strings.HasPrefix(id, idPrefix) {
		return 0
	}
	return n
}

func (q *Queue) persist(job *TranslationJob) {
	if q.store == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func cloneJob(job *TranslationJob) *TranslationJob {
	if job == nil {
		return nil
	}
	cp := *job
	return &cp
}
