package gemini

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	t.Run("nil error passes through", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, mapError(nil))
	})

	t.Run("genai API error becomes APIError", func(t *testing.T) {
		t.Parallel()

		upstream := genai.APIError{
			Code:    http.StatusTooManyRequests,
			Message: "quota exceeded",
		}

		mapped := mapError(fmt.Errorf("call failed: %w", upstream))

		var apiErr *APIError
		require.ErrorAs(t, mapped, &apiErr)
		assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatus())
		assert.Contains(t, apiErr.Error(), "quota exceeded")
		assert.Zero(t, apiErr.RetryAfter())
	})

	t.Run("non-API error passes through unchanged", func(t *testing.T) {
		t.Parallel()

		plain := errors.New("connection reset")
		assert.Same(t, plain, mapError(plain))
	})
}

func TestAPIErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("root cause")
	err := &APIError{StatusCode: 503, Message: "unavailable", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Equal(t, 503, err.HTTPStatus())
}

func TestAPIErrorRetryAfter(t *testing.T) {
	t.Parallel()

	err := &APIError{StatusCode: 429, Message: "slow down", Hint: 3 * time.Second}
	assert.Equal(t, 3*time.Second, err.RetryAfter())
}
