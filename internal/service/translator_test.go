package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subtitle-pipeline/internal/glossary"
	"github.com/MimeLyc/subtitle-pipeline/internal/jobs"
	"github.com/MimeLyc/subtitle-pipeline/internal/pipeline"
	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
	"github.com/MimeLyc/subtitle-pipeline/internal/translator"
)

func TestFileTranslator_TranslatesAndWritesOutput(t *testing.T) {
	fake := newFakeLLM(t)
	rt := NewRuntime(testConfig(fake.server.URL), nil)
	input := filepath.Join(t.TempDir(), "ep1.srt")
	writeSRT(t, input, "hello", "world", "bye")

	result, err := NewFileTranslator(rt).Translate(context.Background(), TranslationRequest{InputPath: input})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(filepath.Dir(input), "ep1.zh.srt"), result.OutputPath)
	assert.Equal(t, "zh", result.TargetLanguage)
	assert.Equal(t, 3, result.Metadata.LineCount)
	assert.Equal(t, "test-model", result.Metadata.ModelUsed)
	assert.Equal(t, int32(2), fake.calls.Load(), "3 lines in batches of 2")

	written, err := subtitle.NewReader(result.OutputPath).Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"zh:hello", "zh:world", "zh:bye"}, subtitle.Texts(written.Lines))
	assert.Equal(t, 2*time.Second, written.Lines[2].StartTime)
}

func TestFileTranslator_UsesGlossaryFromParentDirectory(t *testing.T) {
	fake := newFakeLLM(t)
	rt := NewRuntime(testConfig(fake.server.URL), nil)
	root := t.TempDir()
	input := filepath.Join(root, "Season 1", "ep1.srt")
	writeSRT(t, input, "Okarun runs", "hello", "bye")
	require.NoError(t, glossary.Save(filepath.Join(root, glossary.Filename("en", "zh")), glossary.Glossary{
		"Okarun": "奥卡轮",
		"Momo":   "桃",
	}))

	_, err := NewFileTranslator(rt).Translate(context.Background(), TranslationRequest{InputPath: input})
	require.NoError(t, err)

	seen := fake.seenGlossaries()
	require.Len(t, seen, 2)
	assert.Equal(t, map[string]string{"Okarun": "奥卡轮"}, seen[0])
	assert.Empty(t, seen[1], "second batch mentions no glossary term")
}

func TestFileTranslator_ValidatesRequest(t *testing.T) {
	rt := NewRuntime(testConfig("http://127.0.0.1:0"), nil)
	ft := NewFileTranslator(rt)

	_, err := ft.Translate(context.Background(), TranslationRequest{})
	assert.True(t, IsErrorType(err, ErrValidation))

	_, err = ft.Translate(context.Background(), TranslationRequest{InputPath: "/missing/ep1.srt"})
	assert.True(t, IsErrorType(err, ErrFileNotFound))

	input := filepath.Join(t.TempDir(), "ep1.srt")
	writeSRT(t, input, "hello")
	_, err = ft.Translate(context.Background(), TranslationRequest{InputPath: input, TargetLanguage: "not a language!"})
	assert.True(t, IsErrorType(err, ErrValidation))
}

func TestFileTranslator_FailedBatchWritesNothing(t *testing.T) {
	fake := newFakeLLM(t)
	store := newTestStore(t)
	rt := NewRuntime(testConfig(fake.server.URL), nil)
	input := filepath.Join(t.TempDir(), "ep1.srt")
	writeSRT(t, input, "hello", "world", "FAIL here")

	ft := NewFileTranslator(rt, WithCheckpoints(store))
	_, err := ft.Translate(context.Background(), TranslationRequest{JobID: "job-1", InputPath: input})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrBatchExhausted))

	var exhausted *pipeline.BatchExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.FirstID)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(input), "ep1.zh.srt"))
	assert.True(t, os.IsNotExist(statErr))

	cps, err := store.LoadBatchCheckpoints(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, 1, cps[0].FirstID)
	assert.Equal(t, 2, cps[0].LastID)
}

func TestFileTranslator_ResumesFromCheckpoints(t *testing.T) {
	fake := newFakeLLM(t)
	store := newTestStore(t)
	rt := NewRuntime(testConfig(fake.server.URL), nil)
	input := filepath.Join(t.TempDir(), "ep1.srt")
	writeSRT(t, input, "hello", "world", "bye")

	require.NoError(t, store.SaveBatchCheckpoint(context.Background(), "job-1", 1, 2,
		[]translator.Result{{ID: 1, Text: "你好"}, {ID: 2, Text: "世界"}}))

	ft := NewFileTranslator(rt, WithCheckpoints(store))
	result, err := ft.Translate(context.Background(), TranslationRequest{JobID: "job-1", InputPath: input})
	require.NoError(t, err)

	assert.Equal(t, int32(1), fake.calls.Load(), "only the last batch is sent")
	assert.Equal(t, []string{"你好", "世界", "zh:bye"}, subtitle.Texts(result.Lines))
}

func TestFileTranslator_ExecuteThroughQueue(t *testing.T) {
	fake := newFakeLLM(t)
	store := newTestStore(t)
	rt := NewRuntime(testConfig(fake.server.URL), nil)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.srt")
	bad := filepath.Join(dir, "bad.srt")
	writeSRT(t, good, "hello", "world", "bye")
	writeSRT(t, bad, "hello", "world", "FAIL", "never sent")

	q := jobs.NewQueue(1, store)
	snapshots := NewSnapshots(store)
	ft := NewFileTranslator(rt, WithCheckpoints(store), WithProgress(q), WithSnapshots(snapshots))
	q.Start(ft.Execute)
	t.Cleanup(q.Stop)

	goodJob, created := q.Enqueue(NewEnqueueRequest(SourceManual, jobs.JobPayload{InputPath: good, TargetLanguage: "zh"}))
	require.True(t, created)
	badJob, _ := q.Enqueue(NewEnqueueRequest(SourceManual, jobs.JobPayload{InputPath: bad, TargetLanguage: "zh"}))

	require.Eventually(t, func() bool {
		g, _ := q.Get(goodJob.ID)
		b, _ := q.Get(badJob.ID)
		return g.Status.Terminal() && b.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	g, _ := q.Get(goodJob.ID)
	assert.Equal(t, jobs.StatusSuccess, g.Status)
	assert.Equal(t, jobs.Progress{Processed: 3, Total: 3}, g.Progress)
	assert.FileExists(t, filepath.Join(dir, "good.zh.srt"))

	lines, ok, err := snapshots.Get(context.Background(), goodJob.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"zh:hello", "zh:world", "zh:bye"}, subtitle.Texts(lines))

	b, _ := q.Get(badJob.ID)
	assert.Equal(t, jobs.StatusFailed, b.Status)
	assert.Equal(t, 3, b.FailedAtID)
	assert.Equal(t, jobs.Progress{Processed: 2, Total: 4}, b.Progress)
	assert.NoFileExists(t, filepath.Join(dir, "bad.zh.srt"))

	partial, ok, err := snapshots.Get(context.Background(), badJob.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"zh:hello", "zh:world", "FAIL", "never sent"}, subtitle.Texts(partial))
}

func TestSnapshots_FallBackToBackend(t *testing.T) {
	store := newTestStore(t)
	line := subtitle.NewLine(1, 0, time.Second, "hello")
	require.NoError(t, store.PutJobLines(context.Background(), "job-9", []subtitle.Line{line}))

	snapshots := NewSnapshots(store)
	lines, ok, err := snapshots.Get(context.Background(), "job-9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []subtitle.Line{line}, lines)

	memOnly := NewSnapshots(nil)
	_, ok, err = memOnly.Get(context.Background(), "job-9")
	require.NoError(t, err)
	assert.False(t, ok)

	memOnly.Put(context.Background(), "job-9", []subtitle.Line{line})
	got, ok, _ := memOnly.Get(context.Background(), "job-9")
	require.True(t, ok)
	got[0].Text = "mutated"
	again, _, _ := memOnly.Get(context.Background(), "job-9")
	assert.Equal(t, "hello", again[0].Text)
}
