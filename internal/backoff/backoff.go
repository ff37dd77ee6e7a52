// Package backoff provides the resilient execution wrapper for calls to the
// external generation API: a per-process concurrency gate, a sliding-window
// circuit breaker, and a deadline-aware retry loop with exponential backoff.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/semaphore"
)

// Classified failure sentinels. These carry the outcome of a call through
// Execute; callers branch on them with errors.Is.
var (
	// ErrBusy is returned when the concurrency gate is at capacity. The
	// gate fast-fails rather than queueing; the caller may retry later.
	ErrBusy = errors.New("generation capacity reached")

	// ErrCircuitOpen is returned while the circuit breaker is open. The
	// breaker self-resets to half-open after the cool-down.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrDeadlineExceeded is returned when the overall deadline budget is
	// exhausted before the operation succeeded.
	ErrDeadlineExceeded = errors.New("operation deadline exceeded")

	// ErrRetriesExhausted wraps the last retryable failure once the retry
	// budget is spent.
	ErrRetriesExhausted = errors.New("retry attempts exhausted")
)

// Operation is one fallible unit of work calling the external API. The
// context carries the per-attempt deadline, never extended beyond the
// executor's overall deadline.
type Operation func(ctx context.Context) (any, error)

// Config holds tuning for an Executor. All fields have working defaults via
// DefaultConfig.
type Config struct {
	// MaxConcurrent caps simultaneous in-flight operations per process.
	MaxConcurrent int64

	// FailureThreshold retryable failures within FailureWindow open the
	// circuit.
	FailureThreshold int
	FailureWindow    time.Duration

	// CooldownPeriod is how long the circuit stays open before allowing a
	// half-open trial attempt.
	CooldownPeriod time.Duration

	// InitialDelay seeds the exponential backoff; MaxDelay caps a single
	// inter-attempt wait.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// MinAttemptBudget is the least remaining time worth starting an
	// attempt with; below it Execute fails fast with ErrDeadlineExceeded.
	MinAttemptBudget time.Duration

	// DeadlineMargin is the safety buffer kept between the end of an
	// inter-attempt sleep and the overall deadline.
	DeadlineMargin time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:    4,
		FailureThreshold: 5,
		FailureWindow:    time.Minute,
		CooldownPeriod:   30 * time.Second,
		InitialDelay:     500 * time.Millisecond,
		MaxDelay:         8 * time.Second,
		MinAttemptBudget: 2 * time.Second,
		DeadlineMargin:   500 * time.Millisecond,
	}
}

// Executor wraps operations with the gate, breaker, and retry loop. Its
// state is process-local: it bounds one worker instance's behavior, not
// global throughput.
type Executor struct {
	cfg     Config
	gate    *semaphore.Weighted
	breaker *circuitBreaker
	logger  *slog.Logger

	// now and sleep are swapped out in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor with the given configuration.
// If logger is nil, a default logger will be used.
func NewExecutor(cfg Config, logger *slog.Logger) *Executor {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = def.CooldownPeriod
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MinAttemptBudget <= 0 {
		cfg.MinAttemptBudget = def.MinAttemptBudget
	}
	if cfg.DeadlineMargin <= 0 {
		cfg.DeadlineMargin = def.DeadlineMargin
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		cfg:     cfg,
		gate:    semaphore.NewWeighted(cfg.MaxConcurrent),
		breaker: newCircuitBreaker(cfg.FailureThreshold, cfg.FailureWindow, cfg.CooldownPeriod),
		logger:  logger.With(slog.String("component", "backoff_executor")),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Execute runs op until it succeeds, fails permanently, exhausts maxRetries,
// or runs out of the totalTimeout budget. The absolute deadline is computed
// once at entry; no attempt or sleep extends past it.
func (e *Executor) Execute(
	ctx context.Context,
	op Operation,
	maxRetries int,
	totalTimeout time.Duration,
) (any, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	deadline := e.now().Add(totalTimeout)
	var lastErr error

	for attempt := 0; ; attempt++ {
		remaining := deadline.Sub(e.now())
		if remaining < e.cfg.MinAttemptBudget {
			e.logger.Warn("not enough budget for another attempt",
				slog.Duration("remaining", remaining),
				slog.Int("attempt", attempt))
			return nil, e.deadlineError(lastErr)
		}

		if !e.breaker.Allow(e.now()) {
			e.logger.Warn("circuit open, failing fast",
				slog.Int("attempt", attempt))
			return nil, ErrCircuitOpen
		}

		if !e.gate.TryAcquire(1) {
			// Fast-fail, not a queue: the caller's outer retry policy owns
			// waiting for capacity.
			return nil, ErrBusy
		}

		attemptCtx, cancel := context.WithDeadline(ctx, deadline)
		result, err := op(attemptCtx)
		cancel()

		// Always release before computing any retry delay.
		e.gate.Release(1)

		if err == nil {
			e.breaker.RecordSuccess()
			return result, nil
		}
		lastErr = err

		if !Retryable(err) {
			e.logger.Warn("permanent error, not retrying",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return nil, err
		}
		e.breaker.RecordFailure(e.now())

		if attempt >= maxRetries {
			e.logger.Warn("maximum retry attempts reached",
				slog.Int("max_retries", maxRetries),
				slog.String("error", err.Error()))
			return nil, fmt.Errorf("%w after %d attempts: %w",
				ErrRetriesExhausted, attempt+1, err)
		}

		delay := e.delayFor(err, attempt)
		budget := deadline.Sub(e.now()) - e.cfg.DeadlineMargin
		if delay > budget {
			if budget < e.cfg.MinAttemptBudget {
				// No time left for a meaningful wait plus an attempt.
				return nil, e.deadlineError(lastErr)
			}
			delay = budget - e.cfg.MinAttemptBudget
			if delay < 0 {
				delay = 0
			}
		}

		e.logger.Info("retrying after delay",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		if err := e.sleep(ctx, delay); err != nil {
			return nil, e.deadlineError(lastErr)
		}
	}
}

// delayFor computes the inter-attempt wait. An authoritative retry-after hint
// from upstream wins; otherwise exponential backoff with jitter.
func (e *Executor) delayFor(err error, attempt int) time.Duration {
	if hint, ok := RetryAfterHint(err); ok && hint > 0 {
		// Small jitter on top of the hint keeps herds apart.
		return hint + time.Duration(rand.Float64()*float64(hint)*0.1)
	}

	backoff := float64(e.cfg.InitialDelay) * pow2(attempt)
	if backoff > float64(e.cfg.MaxDelay) {
		backoff = float64(e.cfg.MaxDelay)
	}

	// delay = backoff * (0.5 + rand(0, 0.5))
	jitterFactor := 0.5 + rand.Float64()*0.5
	return time.Duration(backoff * jitterFactor)
}

func (e *Executor) deadlineError(lastErr error) error {
	if lastErr != nil {
		return fmt.Errorf("%w: last error: %w", ErrDeadlineExceeded, lastErr)
	}
	return ErrDeadlineExceeded
}

func pow2(n int) float64 {
	if n < 0 {
		n = 0
	}
	if n > 30 {
		n = 30
	}
	return float64(int64(1) << n)
}

// sleepContext waits for d or context cancellation, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
