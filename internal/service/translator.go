package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/subtitle-pipeline/internal/glossary"
	"github.com/MimeLyc/subtitle-pipeline/internal/jobs"
	"github.com/MimeLyc/subtitle-pipeline/internal/pipeline"
	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
	"github.com/MimeLyc/subtitle-pipeline/internal/translator"
	"github.com/MimeLyc/subtitle-pipeline/pkg/file"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

type progressReporter interface {
	UpdateProgress(id string, processed, total int)
}

// FileTranslator reads an SRT file, runs it through the pipeline and writes
// the translated file next to it.
type FileTranslator struct {
	runtime     *Runtime
	checkpoints checkpointBackend
	progress    progressReporter
	snapshots   *Snapshots
	writer      subtitle.Writer
}

type FileTranslatorOption func(*FileTranslator)

// WithCheckpoints lets job runs resume from completed batches.
func WithCheckpoints(backend checkpointBackend) FileTranslatorOption {
	return func(t *FileTranslator) {
		t.checkpoints = backend
	}
}

func WithProgress(progress progressReporter) FileTranslatorOption {
	return func(t *FileTranslator) {
		t.progress = progress
	}
}

func WithSnapshots(snapshots *Snapshots) FileTranslatorOption {
	return func(t *FileTranslator) {
		t.snapshots = snapshots
	}
}

func NewFileTranslator(runtime *Runtime, opts ...FileTranslatorOption) *FileTranslator {
	t := &FileTranslator{
		runtime: runtime,
		writer:  subtitle.NewWriter(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute runs a queued job; it satisfies jobs.Executor.
func (t *FileTranslator) Execute(ctx context.Context, job *jobs.TranslationJob) error {
	return SafeExecute(func() error {
		_, err := t.Translate(ctx, TranslationRequest{
			JobID:          job.ID,
			InputPath:      job.Payload.InputPath,
			OutputPath:     job.Payload.OutputPath,
			SourceLanguage: job.Payload.SourceLanguage,
			TargetLanguage: job.Payload.TargetLanguage,
			Model:          job.Payload.Model,
		})
		return err
	})
}

// Translate translates a single subtitle file. On a failed batch nothing is
// written; completed batches stay in the checkpoint store for the next run.
func (t *FileTranslator) Translate(ctx context.Context, req TranslationRequest) (*TranslationResult, error) {
	startTime := time.Now()
	cfg := t.runtime.Config()

	if strings.TrimSpace(req.InputPath) == "" {
		return nil, NewError(ErrValidation, "input path is required")
	}
	target := req.TargetLanguage
	if target == "" {
		target = cfg.Pipeline.TargetLanguage.String()
	}
	targetTag, err := language.Parse(target)
	if err != nil {
		return nil, NewErrorWithCause(ErrValidation, "invalid target language", err).WithContext("target", target)
	}
	source := req.SourceLanguage
	if source == "" {
		source = cfg.Pipeline.SourceLanguage
	}
	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = file.LanguageSuffixed(req.InputPath, targetTag.String())
	}

	if _, err := os.Stat(req.InputPath); errors.Is(err, os.ErrNotExist) {
		return nil, NewErrorWithCause(ErrFileNotFound, "subtitle file not found", err).WithContext("path", req.InputPath)
	}
	src, err := subtitle.NewReader(req.InputPath).Read()
	if err != nil {
		return nil, NewErrorWithCause(ErrParse, "failed to read subtitle file", err).WithContext("path", req.InputPath)
	}

	bt, err := t.runtime.NewBatchTranslator()
	if err != nil {
		return nil, err
	}

	source = translator.ResolveSourceLanguage(src.Lines, source)
	terms := t.loadGlossary(req.InputPath, source, targetTag.String())

	opts := pipeline.Options{
		Options: translator.Options{
			SourceLanguage: source,
			TargetLanguage: targetTag.String(),
			Credentials:    req.Credentials,
			Model:          translator.ModelConfig{Name: req.Model},
			Glossary:       terms,
		},
	}
	if req.JobID != "" && t.checkpoints != nil {
		store, err := newPersistentBatchCheckpointStore(ctx, t.checkpoints, req.JobID)
		if err != nil {
			log.Warn("Checkpoints unavailable for job %s: %v", req.JobID, err)
		} else {
			opts.Checkpoints = store
		}
	}

	log.Info("Translating %s (%d lines) from %s to %s", req.InputPath, len(src.Lines), source, targetTag)
	orchestrator := pipeline.New(bt, pipeline.WithBatchSize(cfg.Pipeline.BatchSize))
	lines, err := orchestrator.Run(ctx, src.Lines, opts, t.sink(ctx, req.JobID, len(src.Lines)))
	if err != nil {
		return nil, WrapError(err, Classify(err), fmt.Sprintf("failed to translate %s", req.InputPath))
	}

	translated := &subtitle.File{
		Lines:    lines,
		Language: targetTag,
		Format:   src.Format,
		Path:     outputPath,
	}
	if err := t.writer.Write(outputPath, translated); err != nil {
		return nil, NewErrorWithCause(ErrFileWrite, "failed to save translation results", err).WithContext("path", outputPath)
	}

	model := req.Model
	if model == "" {
		model = cfg.LLM.Model
	}
	result := &TranslationResult{
		InputPath:      req.InputPath,
		OutputPath:     outputPath,
		SourceLanguage: source,
		TargetLanguage: targetTag.String(),
		Lines:          lines,
		Metadata: TranslationMetadata{
			ModelUsed:       model,
			TranslationTime: time.Since(startTime),
			CharCount:       countCharacters(src.Lines),
			LineCount:       len(lines),
		},
	}
	log.Info("Translated %s -> %s in %v", req.InputPath, outputPath, result.Metadata.TranslationTime.Round(time.Millisecond))
	return result, nil
}

// loadGlossary finds the glossary next to or above the input file. Lookup
// failures only cost the glossary, never the run.
func (t *FileTranslator) loadGlossary(inputPath, source, target string) glossary.Glossary {
	if source == translator.AutoLanguage {
		return nil
	}
	terms, err := glossary.ForSubtitle(inputPath, source, target)
	if err != nil {
		log.Warn("Ignoring glossary for %s: %v", inputPath, err)
		return nil
	}
	if len(terms) > 0 {
		log.Info("Using glossary with %d terms for %s", len(terms), inputPath)
	}
	return terms
}

func (t *FileTranslator) sink(ctx context.Context, jobID string, total int) pipeline.Sink {
	if jobID == "" {
		return pipeline.Sink{}
	}
	sink := pipeline.Sink{}
	if t.progress != nil {
		sink.OnProgress = func(processed int) {
			t.progress.UpdateProgress(jobID, processed, total)
		}
	}
	if t.snapshots != nil {
		sink.OnPartial = func(snapshot []subtitle.Line) {
			t.snapshots.Put(ctx, jobID, snapshot)
		}
	}
	return sink
}

// countCharacters calculates total subtitle characters
func countCharacters(lines []subtitle.Line) int {
	total := 0
	for _, line := range lines {
		total += len([]rune(line.Text))
	}
	return total
}
