package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"portal-gateway/internal/shared/metrics"
	"portal-gateway/internal/shared/telemetry"
)

// ErrorClassification tells the executor how to treat a failed attempt.
// RetryAfter is the wait the backend asked for, if any; it stretches the
// next backoff up to RetryMaxBackoff.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
	RetryAfter    time.Duration
}

type ErrorClassifier func(err error) ErrorClassification

// Executor runs backend calls through a per-operation circuit breaker with
// optional retries. Retries and breaker transitions are exported as metrics.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute runs fn once per attempt. Retries happen only when retry is true
// and the classifier marks the failure retryable. The whole retry sequence
// counts as one call against the breaker.
func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	retry bool,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	call := attemptLoop{
		cfg:        e.cfg,
		operation:  operationName(operation),
		maxAttempt: 1,
		fn:         fn,
		classifier: classifier,
	}
	if call.classifier == nil {
		call.classifier = defaultClassifier
	}
	if retry {
		call.maxAttempt = e.cfg.RetryMaxAttempts
	}

	if !e.cfg.BreakerEnabled {
		return call.run(ctx)
	}
	_, err := e.circuitBreaker(call.operation, call.classifier).Execute(func() (any, error) {
		return nil, call.run(ctx)
	})
	return err
}

// attemptLoop is one Execute call's retry state.
type attemptLoop struct {
	cfg        Config
	operation  string
	maxAttempt int
	fn         func(context.Context) error
	classifier ErrorClassifier
}

func (l attemptLoop) run(ctx context.Context) error {
	backoff := l.cfg.RetryInitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := l.fn(ctx)
		if err == nil {
			return nil
		}
		class := l.classifier(err)
		if !class.Retryable || attempt >= l.maxAttempt {
			return err
		}

		wait := l.delay(backoff, class.RetryAfter)
		metrics.IncUpstreamRetry(l.operation)
		telemetry.Warn("upstream.retry", map[string]any{
			"operation":    l.operation,
			"attempt":      attempt,
			"max_attempts": l.maxAttempt,
			"backoff_ms":   wait.Milliseconds(),
			"error":        err,
		})
		if !sleep(ctx, wait) {
			return err
		}
		backoff = time.Duration(float64(backoff) * l.cfg.RetryMultiplier)
	}
}

// delay picks the wait before the next attempt: the larger of the current
// backoff and the backend's Retry-After, capped at RetryMaxBackoff.
func (l attemptLoop) delay(backoff, retryAfter time.Duration) time.Duration {
	wait := max(backoff, retryAfter)
	return min(wait, l.cfg.RetryMaxBackoff)
}

// sleep waits d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) circuitBreaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[operation]; ok {
		return breaker
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetUpstreamBreaker(name, to == gobreaker.StateOpen)
			telemetry.Warn("upstream.breaker_state", map[string]any{
				"operation": name,
				"from":      from.String(),
				"to":        to.String(),
			})
		},
	})
	e.breakers[operation] = breaker
	return breaker
}

// IsCircuitOpen reports whether err came from a breaker refusing the call.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func operationName(operation string) string {
	if op := strings.TrimSpace(operation); op != "" {
		return op
	}
	return "unknown"
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{RecordFailure: true}
}
