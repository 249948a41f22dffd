package service

import (
	"time"

	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
)

// TranslationRequest describes one subtitle file translation. An empty JobID
// runs without checkpoints or progress reporting.
type TranslationRequest struct {
	JobID          string
	InputPath      string
	OutputPath     string
	SourceLanguage string
	TargetLanguage string
	Model          string
	Credentials    string
}

// TranslationResult represents translation result
type TranslationResult struct {
	InputPath      string
	OutputPath     string
	SourceLanguage string
	TargetLanguage string
	Lines          []subtitle.Line
	Metadata       TranslationMetadata
}

// TranslationMetadata contains translation metadata
type TranslationMetadata struct {
	ModelUsed       string
	TranslationTime time.Duration
	CharCount       int
	LineCount       int
}
