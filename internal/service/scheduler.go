package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/subtitle-pipeline/internal/jobs"
	"github.com/MimeLyc/subtitle-pipeline/pkg/file"
	"github.com/MimeLyc/subtitle-pipeline/pkg/icron"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

const (
	SourceManual   = "manual"
	SourceSchedule = "schedule"
)

type jobEnqueuer interface {
	Enqueue(req jobs.EnqueueRequest) (*jobs.TranslationJob, bool)
}

type cronScheduler interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Remove(id cron.EntryID)
}

// NewEnqueueRequest builds a translation job request. Jobs for the same input
// and target language collapse onto one dedupe key.
func NewEnqueueRequest(source string, payload jobs.JobPayload) jobs.EnqueueRequest {
	if payload.OutputPath == "" {
		payload.OutputPath = file.LanguageSuffixed(payload.InputPath, payload.TargetLanguage)
	}
	return jobs.EnqueueRequest{
		Source:    source,
		DedupeKey: payload.InputPath + "|" + payload.TargetLanguage,
		Payload:   payload,
	}
}

// ScanService periodically looks for new SRT files in the watch directory and
// queues them for translation.
type ScanService struct {
	runtime *Runtime
	queue   jobEnqueuer
	cron    cronScheduler
	now     func() time.Time
	group   singleflight.Group

	mu       sync.Mutex
	entryID  cron.EntryID
	cronExpr string
	lastRun  time.Time
}

func NewScanService(runtime *Runtime, queue jobEnqueuer, cron cronScheduler) *ScanService {
	return &ScanService{
		runtime: runtime,
		queue:   queue,
		cron:    cron,
		now:     time.Now,
	}
}

// Schedule registers the scan with the cron engine using the configured expression.
func (s *ScanService) Schedule(ctx context.Context) error {
	log.Info("Run ScanService")
	return s.schedule(ctx, s.runtime.Config().Schedule.CronExpr)
}

// Reschedule swaps the cron expression. An unchanged expression is a no-op.
func (s *ScanService) Reschedule(ctx context.Context, cronExpr string) error {
	s.mu.Lock()
	same := cronExpr == s.cronExpr
	s.mu.Unlock()
	if same {
		return nil
	}
	return s.schedule(ctx, cronExpr)
}

func (s *ScanService) schedule(ctx context.Context, cronExpr string) error {
	if _, err := icron.Parse(cronExpr); err != nil {
		return WrapError(err, ErrConfig, "invalid scan schedule")
	}

	runFunc := func() {
		if _, err := s.Scan(ctx); err != nil {
			log.Error("Scheduled scan failed: %v", err)
		}
	}
	id, err := s.cron.AddFunc(cronExpr, runFunc)
	if err != nil {
		return WrapError(err, ErrConfig, "failed to schedule scan")
	}

	s.mu.Lock()
	previous := s.entryID
	s.entryID = id
	s.cronExpr = cronExpr
	s.mu.Unlock()
	if previous != 0 {
		s.cron.Remove(previous)
	}
	log.Info("Scan scheduled with %q", cronExpr)
	return nil
}

// TriggerInfo reports the previous and next scan times.
func (s *ScanService) TriggerInfo() (*icron.TriggerInfo, error) {
	s.mu.Lock()
	expr := s.cronExpr
	s.mu.Unlock()
	if expr == "" {
		expr = s.runtime.Config().Schedule.CronExpr
	}
	return icron.GetTriggerInfo(expr, s.now())
}

// Scan enqueues every recently modified SRT file in the watch directory that
// has no translation yet. Overlapping calls share one scan.
func (s *ScanService) Scan(ctx context.Context) (int, error) {
	v, err, _ := s.group.Do("scan", func() (any, error) {
		return s.scan(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (s *ScanService) scan(ctx context.Context) (int, error) {
	cfg := s.runtime.Config()
	dir := cfg.Schedule.WatchDir
	if dir == "" {
		log.Debug("No watch directory configured, skipping scan")
		return 0, nil
	}
	if _, err := os.Stat(dir); err != nil {
		return 0, NewErrorWithCause(ErrFileNotFound, fmt.Sprintf("directory %s does not exist", dir), err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	scanStart := s.now()
	since := s.startTime(scanStart, cfg.Schedule.ScanWindow)
	log.Info("Start searching subtitle files in %s modified after %v", dir, since)

	recent, err := file.FindRecentAfter(dir, since, ".srt")
	if err != nil {
		return 0, WrapError(err, ErrFileRead, "failed to find recent files")
	}

	target := cfg.Pipeline.TargetLanguage.String()
	queued := 0
	for _, path := range recent {
		if file.HasLanguageSuffix(path, target) {
			continue
		}
		output := file.LanguageSuffixed(path, target)
		if _, err := os.Stat(output); err == nil {
			log.Debug("Translation already exists for %s", path)
			continue
		}
		_, created := s.queue.Enqueue(NewEnqueueRequest(SourceSchedule, jobs.JobPayload{
			InputPath:      path,
			OutputPath:     output,
			SourceLanguage: cfg.Pipeline.SourceLanguage,
			TargetLanguage: target,
		}))
		if created {
			queued++
		}
	}

	s.mu.Lock()
	s.lastRun = scanStart
	s.mu.Unlock()
	log.Info("Found %d subtitle files in %s, queued %d", len(recent), dir, queued)
	return queued, nil
}

func (s *ScanService) startTime(now time.Time, window time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastRun.IsZero() {
		return s.lastRun
	}
	return now.Add(-window)
}
