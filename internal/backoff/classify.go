package backoff

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Upstream errors advertise their nature through these optional interfaces;
// classification reads error content and status, never concrete types.
type retryableFlagger interface {
	IsRetryable() bool
}

type statusCoder interface {
	HTTPStatus() int
}

type retryAfterProvider interface {
	RetryAfter() time.Duration
}

// Markers of permanently malformed requests. These never resolve on retry no
// matter what status code accompanies them.
var permanentMarkers = []string{
	"context length",
	"token limit exceeded",
	"payload too large",
	"request entity too large",
	"malformed request",
	"invalid argument",
}

// Markers of transient transport failures that arrive as bare errors without
// a status code.
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"unexpected eof",
}

// Retryable classifies an upstream failure. Unclassified errors default to
// non-retryable: unexpected errors surface instead of being masked by
// retries.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}

	var flagger retryableFlagger
	if errors.As(err, &flagger) {
		return flagger.IsRetryable()
	}

	var coder statusCoder
	if errors.As(err, &coder) {
		return retryableStatus(coder.HTTPStatus())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

// retryableStatus reports whether an HTTP-like status code is worth retrying.
func retryableStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// RetryAfterHint extracts an authoritative upstream retry-after hint when
// the error carries one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var provider retryAfterProvider
	if errors.As(err, &provider) {
		if d := provider.RetryAfter(); d > 0 {
			return d, true
		}
	}
	return 0, false
}
