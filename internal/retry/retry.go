package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Unlimited keeps retrying transient failures until the operation succeeds.
const Unlimited = -1

// Class is the caller's verdict on a failed request.
type Class int

const (
	// Transient failures consume one attempt and are retried after the delay.
	Transient Class = iota
	// Throttled stops retrying and hands the error back untouched, whatever
	// the Rethrow setting, so the caller can react to provider throttling.
	Throttled
	// Fatal exhausts the budget immediately.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Throttled:
		return "throttled"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// RequestError is a transport or HTTP status failure. Only errors carrying a
// RequestError are considered for retry.
type RequestError struct {
	Method     string
	URL        string
	StatusCode int // zero when no response was received
	Body       []byte
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Policy describes how an operation is retried.
type Policy struct {
	Name     string
	Attempts int // Unlimited or a positive attempt count
	Delay    time.Duration
	Jitter   time.Duration // random extra delay in [0, Jitter)
	Rethrow  bool
	Classify func(err error) Class // nil treats every request failure as Transient
}

func (p Policy) classify(err error) Class {
	if p.Classify == nil {
		return Transient
	}
	return p.Classify(err)
}

func (p Policy) wait() time.Duration {
	if p.Jitter <= 0 {
		return p.Delay
	}
	return p.Delay + rand.N(p.Jitter)
}

// Do runs op until it succeeds or the policy gives up. The boolean result is
// false when the policy gave up without a result and without an error, which
// only happens for exhausted budgets with Rethrow unset.
func Do[T any](ctx context.Context, logger *zap.Logger, p Policy, op func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	remaining := p.Attempts
	logger = logger.With(zap.String("operation", p.Name))

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, true, nil
		}

		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			logger.Error("operation failed with non-retryable error",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return zero, false, err
		}

		class := p.classify(err)
		fields := []zap.Field{
			zap.Int("attempt", attempt),
			zap.Stringer("class", class),
			zap.Int("status_code", reqErr.StatusCode),
			zap.ByteString("response_body", reqErr.Body),
			zap.Error(err),
		}

		switch class {
		case Throttled:
			logger.Warn("request throttled, not retrying", fields...)
			return zero, false, err
		case Fatal:
			remaining = 0
		default:
			if remaining > 0 {
				remaining--
			}
		}

		if remaining == 0 {
			if p.Rethrow {
				logger.Error("request failed and will not be retried", fields...)
				return zero, false, err
			}
			logger.Warn("request failed and will not be retried, giving up without result", fields...)
			return zero, false, nil
		}

		delay := p.wait()
		logger.Warn("request failed, retrying", append(fields, zap.Duration("retry_in", delay))...)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, false, fmt.Errorf("%s: %w", p.Name, ctx.Err())
		case <-timer.C:
		}
	}
}
