package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subtitle-pipeline/internal/jobs"
)

type fakeCron struct {
	nextID  cron.EntryID
	entries map[cron.EntryID]string
	funcs   map[cron.EntryID]func()
}

func newFakeCron() *fakeCron {
	return &fakeCron{entries: map[cron.EntryID]string{}, funcs: map[cron.EntryID]func(){}}
}

func (f *fakeCron) AddFunc(spec string, cmd func()) (cron.EntryID, error) {
	f.nextID++
	f.entries[f.nextID] = spec
	f.funcs[f.nextID] = cmd
	return f.nextID, nil
}

func (f *fakeCron) Remove(id cron.EntryID) {
	delete(f.entries, id)
	delete(f.funcs, id)
}

func newScanFixture(t *testing.T) (*ScanService, *jobs.Queue, *fakeCron, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig("https://example/v1")
	cfg.Schedule.WatchDir = dir
	q := jobs.NewQueue(1, nil)
	cr := newFakeCron()
	return NewScanService(NewRuntime(cfg, nil), q, cr), q, cr, dir
}

func TestScanService_QueuesUntranslatedRecentFiles(t *testing.T) {
	svc, q, _, dir := newScanFixture(t)

	writeSRT(t, filepath.Join(dir, "show", "ep1.srt"), "hello")
	writeSRT(t, filepath.Join(dir, "show", "ep2.srt"), "hello")
	writeSRT(t, filepath.Join(dir, "show", "ep2.zh.srt"), "你好")
	writeSRT(t, filepath.Join(dir, "old.srt"), "hello")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.srt"), past, past))

	queued, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	list := q.List()
	require.Len(t, list, 1)
	assert.Equal(t, SourceSchedule, list[0].Source)
	assert.Equal(t, filepath.Join(dir, "show", "ep1.srt"), list[0].Payload.InputPath)
	assert.Equal(t, filepath.Join(dir, "show", "ep1.zh.srt"), list[0].Payload.OutputPath)
	assert.Equal(t, "zh", list[0].Payload.TargetLanguage)
	assert.Equal(t, "en", list[0].Payload.SourceLanguage)

	// the next scan only looks at files changed since the previous one
	queued, err = svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, queued)
}

func TestScanService_ManualAndScheduledShareDedupe(t *testing.T) {
	svc, q, _, dir := newScanFixture(t)
	input := filepath.Join(dir, "ep1.srt")
	writeSRT(t, input, "hello")

	manual, created := q.Enqueue(NewEnqueueRequest(SourceManual, jobs.JobPayload{InputPath: input, TargetLanguage: "zh"}))
	require.True(t, created)
	assert.Equal(t, filepath.Join(dir, "ep1.zh.srt"), manual.Payload.OutputPath)

	queued, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, queued)
	assert.Len(t, q.List(), 1)
}

func TestScanService_NoWatchDir(t *testing.T) {
	cfg := testConfig("https://example/v1")
	svc := NewScanService(NewRuntime(cfg, nil), jobs.NewQueue(1, nil), newFakeCron())
	queued, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, queued)

	cfg.Schedule.WatchDir = filepath.Join(t.TempDir(), "missing")
	svc = NewScanService(NewRuntime(cfg, nil), jobs.NewQueue(1, nil), newFakeCron())
	_, err = svc.Scan(context.Background())
	assert.True(t, IsErrorType(err, ErrFileNotFound))
}

func TestScanService_ScheduleAndReschedule(t *testing.T) {
	svc, q, cr, dir := newScanFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Schedule(ctx))
	require.Len(t, cr.entries, 1)
	assert.Equal(t, "0 * * * *", cr.entries[1])

	require.NoError(t, svc.Reschedule(ctx, "0 * * * *"))
	assert.Len(t, cr.entries, 1, "same expression keeps the entry")

	require.NoError(t, svc.Reschedule(ctx, "*/10 * * * *"))
	require.Len(t, cr.entries, 1)
	assert.Equal(t, "*/10 * * * *", cr.entries[2])

	err := svc.Reschedule(ctx, "every minute")
	assert.True(t, IsErrorType(err, ErrConfig))
	assert.Len(t, cr.entries, 1)

	// the registered func runs a scan
	writeSRT(t, filepath.Join(dir, "ep1.srt"), "hello")
	cr.funcs[2]()
	assert.Len(t, q.List(), 1)
}

func TestScanService_TriggerInfo(t *testing.T) {
	svc, _, _, _ := newScanFixture(t)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 14, 25, 0, 0, time.UTC) }

	info, err := svc.TriggerInfo()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC), info.Last)
	assert.Equal(t, time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC), info.Next)
}
