package gemini

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// APIError is the classified form of an upstream Gemini failure. It exposes
// the HTTP-like status and an optional retry-after hint through the optional
// interfaces the backoff package classifies on.
type APIError struct {
	StatusCode int
	Message    string
	Hint       time.Duration
	Err        error
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("gemini api error (status %d): %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the upstream status code for failure classification.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// RetryAfter returns the upstream retry-after hint, zero when absent.
func (e *APIError) RetryAfter() time.Duration {
	return e.Hint
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// mapError converts genai client errors into *APIError so the backoff
// controller can classify them by status. Errors that are not API errors
// pass through unchanged (network failures keep their net.Error shape).
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Err:        err,
		}
	}

	return err
}
