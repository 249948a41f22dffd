package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrTransport covers every failure to get a usable reply from the
	// remote endpoint: network errors, timeouts and non-2xx statuses.
	ErrTransport = errors.New("ai endpoint transport failure")

	// ErrInvalidResponseShape means the endpoint answered but the reply could
	// not be decoded into the expected structure, even after repair.
	ErrInvalidResponseShape = errors.New("ai endpoint returned an invalid response shape")
)

// StatusError is returned for non-2xx replies.
type StatusError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return ErrTransport
}

// classify maps a go-openai failure onto ErrTransport or
// ErrInvalidResponseShape.
func classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Type: apiErr.Type}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &StatusError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrTransport, ctxErr)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: failed to parse response: %v", ErrInvalidResponseShape, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
