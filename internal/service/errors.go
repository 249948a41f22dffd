package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MimeLyc/subtitle-pipeline/internal/llm"
	"github.com/MimeLyc/subtitle-pipeline/internal/pipeline"
	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

type ErrorType int

const (
	ErrFileNotFound ErrorType = iota
	ErrFileRead
	ErrFileWrite
	ErrParse
	ErrTransport
	ErrResponseShape
	ErrBatchExhausted
	ErrValidation
	ErrConfig
	ErrCanceled
	ErrUnknown
)

var errorKinds = [...]struct {
	name   string
	advice string
}{
	ErrFileNotFound:   {"FileNotFound", "Check that the subtitle or audio path is correct and readable by the service"},
	ErrFileRead:       {"FileRead", "Check file permissions and that the file is not truncated or still being written"},
	ErrFileWrite:      {"FileWrite", "Ensure the output directory exists and the service may write to it"},
	ErrParse:          {"Parse", "Verify the subtitle file is valid SRT with HH:MM:SS,mmm timestamps"},
	ErrTransport:      {"Transport", "Check the API URL and key, network connectivity, or the provider's status page"},
	ErrResponseShape:  {"ResponseShape", "The model returned an unexpected reply; try another model or a smaller batch size"},
	ErrBatchExhausted: {"BatchExhausted", "A batch kept failing after every retry; lines before it were kept, rerun the job to resume from its checkpoint"},
	ErrValidation:     {"Validation", "Verify the request parameters"},
	ErrConfig:         {"Config", "Check the settings file and environment variables"},
	ErrCanceled:       {"Canceled", "The operation was canceled or timed out before it finished"},
	ErrUnknown:        {"Unknown", "Review the error details and the service log"},
}

func (t ErrorType) String() string {
	if t < 0 || int(t) >= len(errorKinds) {
		return errorKinds[ErrUnknown].name
	}
	return errorKinds[t].name
}

func (t ErrorType) advice() string {
	if t < 0 || int(t) >= len(errorKinds) {
		return errorKinds[ErrUnknown].advice
	}
	return errorKinds[t].advice
}

// Error is the service level error carrying an operator facing category.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *Error {
	return NewErrorWithCause(errorType, message, nil)
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

// Error renders "[Type] message | context: k=v, ... | cause: ...", with
// context keys sorted.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Type, e.Message)
	if len(e.Context) > 0 {
		b.WriteString(" | context: ")
		for i, k := range slices.Sorted(maps.Keys(e.Context)) {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " | cause: %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// Classify maps an error from the lower layers onto an ErrorType. A deadline
// that expired inside an AI call is a transport failure, any other
// cancellation is ErrCanceled.
func Classify(err error) ErrorType {
	var svcErr *Error
	var exhausted *pipeline.BatchExhaustedError
	switch {
	case err == nil:
		return ErrUnknown
	case errors.As(err, &svcErr):
		return svcErr.Type
	case errors.Is(err, context.Canceled):
		return ErrCanceled
	case errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, llm.ErrTransport):
		return ErrCanceled
	case errors.As(err, &exhausted):
		return ErrBatchExhausted
	case errors.Is(err, llm.ErrInvalidResponseShape):
		return ErrResponseShape
	case errors.Is(err, llm.ErrTransport):
		return ErrTransport
	case errors.Is(err, subtitle.ErrMalformedTimestamp):
		return ErrParse
	}
	return ErrUnknown
}

type ErrorHandler interface {
	Handle(err error) bool
	GetAdvice(err *Error) string
}

type DefaultErrorHandler struct{}

func NewDefaultErrorHandler() ErrorHandler {
	return &DefaultErrorHandler{}
}

// Handle logs err with advice when it is a service error and reports
// whether it was one.
func (h *DefaultErrorHandler) Handle(err error) bool {
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		log.Error("Unclassified error: %v", err)
		return false
	}
	log.Error("%v\n advice: %s", err, h.GetAdvice(svcErr))
	return true
}

func (h *DefaultErrorHandler) GetAdvice(err *Error) string {
	return err.Type.advice()
}

func IsErrorType(err error, errorType ErrorType) bool {
	var svcErr *Error
	return errors.As(err, &svcErr) && svcErr.Type == errorType
}

// WrapError wraps err with the given type. A nil err stays nil.
func WrapError(err error, errorType ErrorType, message string) error {
	if err == nil {
		return nil
	}
	return NewErrorWithCause(errorType, message, err)
}

// SafeExecute runs fn and turns a panic into an ErrUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()
	return fn()
}
