package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"jarvis/core"
)

// Policy describes a fixed exponential backoff: MaxRetries waits of
// InitialDelay * Multiplier^i. No jitter and no cap.
type Policy struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxRetries   int           `yaml:"max_retries"`
}

// MaxRetriesLimit bounds Policy.MaxRetries.
const MaxRetriesLimit = 30

// DefaultPolicy waits 0.5s, 1s, 2s, 4s and 8s between attempts.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   5,
	}
}

// Validate reports settings that cannot describe a backoff.
func (p Policy) Validate() error {
	if p.InitialDelay <= 0 {
		return fmt.Errorf("retry: initial_delay must be positive, got %s", p.InitialDelay)
	}
	if p.Multiplier < 1.0 {
		return fmt.Errorf("retry: multiplier must be >= 1, got %g", p.Multiplier)
	}
	if p.MaxRetries < 0 || p.MaxRetries > MaxRetriesLimit {
		return fmt.Errorf("retry: max_retries must be between 0 and %d, got %d", MaxRetriesLimit, p.MaxRetries)
	}
	return nil
}

// Delays returns the wait before each retry, in order. A delay too large for
// time.Duration saturates at its maximum.
func (p Policy) Delays() []time.Duration {
	if p.MaxRetries <= 0 {
		return nil
	}
	delays := make([]time.Duration, p.MaxRetries)
	for i := range delays {
		d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(i))
		if d >= math.MaxInt64 {
			delays[i] = time.Duration(math.MaxInt64)
			continue
		}
		delays[i] = time.Duration(d)
	}
	return delays
}

// ErrTransient marks an error as retryable regardless of its message.
var ErrTransient = errors.New("transient failure")

// MarkTransient wraps err so that IsTransient reports true for it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err was marked with MarkTransient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Classifier reports whether an error is worth retrying.
type Classifier func(err error) bool

// MarkerClassifier treats an error as retryable when its message contains
// any of the markers.
func MarkerClassifier(markers ...string) Classifier {
	return func(err error) bool {
		if err == nil {
			return false
		}
		msg := err.Error()
		for _, m := range markers {
			if m != "" && strings.Contains(msg, m) {
				return true
			}
		}
		return false
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retryer runs a call under a Policy.
type Retryer struct {
	policy    Policy
	retryable Classifier
	sleep     SleepFunc
	onRetry   func(attempt int, err error, delay time.Duration)
	logger    *core.Logger
}

func NewRetryer(policy Policy, retryable Classifier, logger *core.Logger) *Retryer {
	if retryable == nil {
		retryable = IsTransient
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Retryer{
		policy:    policy,
		retryable: retryable,
		sleep:     Sleep,
		logger:    logger,
	}
}

// WithSleep replaces the wait between attempts.
func (r *Retryer) WithSleep(fn SleepFunc) *Retryer {
	r.sleep = fn
	return r
}

// WithOnRetry registers a callback invoked before every wait.
func (r *Retryer) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) *Retryer {
	r.onRetry = fn
	return r
}

func (r *Retryer) Policy() Policy {
	return r.policy
}

// Do calls fn once per delay in the policy, waiting between attempts while
// the error is retryable. A non-retryable error is returned at once. When the
// delays run out, fn is called one final time and whatever it returns is
// passed through, so a persistently retryable failure costs MaxRetries+1
// calls.
func Do[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for i, delay := range r.policy.Delays() {
		result, err := fn(ctx)
		if err == nil {
			if i > 0 {
				r.logger.Info("retry succeeded", "attempt", i+1)
			}
			return result, nil
		}
		if !r.retryable(err) {
			return zero, err
		}

		r.logger.Warn("transient failure, backing off",
			"attempt", i+1,
			"max_retries", r.policy.MaxRetries,
			"delay", delay.String(),
			"error", err,
		)
		if r.onRetry != nil {
			r.onRetry(i+1, err, delay)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("retry: wait cancelled: %w", err)
		}
	}

	result, err := fn(ctx)
	if err != nil && r.retryable(err) {
		r.logger.Warn("retries exhausted", "attempts", r.policy.MaxRetries+1, "error", err)
	}
	return result, err
}

// IsCancelled reports whether err comes from a cancelled or expired context.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
