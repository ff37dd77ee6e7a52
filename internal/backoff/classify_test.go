package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// statusErr mimics an upstream error carrying an HTTP-like status code.
type statusErr struct {
	status int
	msg    string
}

func (e *statusErr) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("upstream error: status %d", e.status)
}

func (e *statusErr) HTTPStatus() int { return e.status }

// flagErr mimics an upstream error carrying an explicit retryable flag.
type flagErr struct {
	retryable bool
}

func (e *flagErr) Error() string     { return "upstream error with flag" }
func (e *flagErr) IsRetryable() bool { return e.retryable }

// hintErr mimics a rate-limit error with an authoritative retry-after hint.
type hintErr struct {
	statusErr
	after time.Duration
}

func (e *hintErr) RetryAfter() time.Duration { return e.after }

// timeoutErr satisfies net.Error.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o wait" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"status 429", &statusErr{status: 429}, true},
		{"status 500", &statusErr{status: 500}, true},
		{"status 502", &statusErr{status: 502}, true},
		{"status 503", &statusErr{status: 503}, true},
		{"status 504", &statusErr{status: 504}, true},
		{"status 408", &statusErr{status: 408}, true},
		{"status 400", &statusErr{status: 400}, false},
		{"status 401", &statusErr{status: 401}, false},
		{"status 404", &statusErr{status: 404}, false},
		{"explicit retryable flag", &flagErr{retryable: true}, true},
		{"explicit non-retryable flag", &flagErr{retryable: false}, false},
		{"context deadline", context.DeadlineExceeded, true},
		{"wrapped context deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"net timeout", timeoutErr{}, true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"unknown defaults closed", errors.New("something odd happened"), false},
		{"wrapped status", fmt.Errorf("generate: %w", &statusErr{status: 503}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, Retryable(tt.err))
		})
	}
}

func TestPermanentMarkersBeatStatus(t *testing.T) {
	// A 429 whose body says the context length was exceeded is permanent: no
	// retry will shrink the request.
	err := &statusErr{status: 429, msg: "input exceeds model context length"}
	assert.False(t, Retryable(err))

	tooLarge := &statusErr{status: 500, msg: "request entity too large"}
	assert.False(t, Retryable(tooLarge))
}

func TestRetryAfterHint(t *testing.T) {
	hint, ok := RetryAfterHint(&hintErr{statusErr: statusErr{status: 429}, after: 3 * time.Second})
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, hint)

	_, ok = RetryAfterHint(&statusErr{status: 429})
	assert.False(t, ok)

	_, ok = RetryAfterHint(&hintErr{statusErr: statusErr{status: 429}, after: 0})
	assert.False(t, ok)

	wrapped := fmt.Errorf("generate: %w", &hintErr{statusErr: statusErr{status: 503}, after: time.Second})
	hint, ok = RetryAfterHint(wrapped)
	assert.True(t, ok)
	assert.Equal(t, time.Second, hint)
}
