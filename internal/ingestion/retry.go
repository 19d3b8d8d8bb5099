package ingestion

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/hypetrain/hypetrain/internal/config"
)

// initialAttempt is the retry counter value of a fresh run; the first
// reconnect waits unit * 2^1.
const initialAttempt = 1

// ReconnectPolicy defines how stream reconnects back off.
type ReconnectPolicy struct {
	// Unit is the base delay multiplied by 2^attempt.
	Unit time.Duration
	// MaxBackoff caps the delay. Zero leaves it uncapped.
	MaxBackoff time.Duration
	// HealthyReset resets the counter once a connection has streamed this
	// long. Zero keeps the counter monotonic for the life of the run.
	HealthyReset time.Duration
}

// DefaultReconnectPolicy returns the production defaults.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Unit:         time.Second,
		MaxBackoff:   5 * time.Minute,
		HealthyReset: time.Minute,
	}
}

// ReconnectPolicyFromConfig maps the stream configuration onto a policy.
func ReconnectPolicyFromConfig(cfg config.StreamConfig) ReconnectPolicy {
	return ReconnectPolicy{
		Unit:         cfg.BackoffUnit,
		MaxBackoff:   cfg.MaxBackoff,
		HealthyReset: cfg.HealthyReset,
	}
}

// Backoff is the retry counter of one stream consumer run.
type Backoff struct {
	policy  ReconnectPolicy
	attempt int
}

// NewBackoff starts a counter at its initial value.
func NewBackoff(policy ReconnectPolicy) *Backoff {
	return &Backoff{policy: policy, attempt: initialAttempt}
}

// Attempt returns the current counter value.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	d := calculateBackoff(b.policy, b.attempt)
	b.attempt++
	return d
}

// Skip advances the counter without a delay, for provider-requested reconnects.
func (b *Backoff) Skip() {
	b.attempt++
}

// ObserveHealthy resets the counter when a connection lived long enough.
func (b *Backoff) ObserveHealthy(streamed time.Duration) bool {
	if b.policy.HealthyReset <= 0 || streamed < b.policy.HealthyReset {
		return false
	}
	b.attempt = initialAttempt
	return true
}

// calculateBackoff computes unit * 2^attempt, capped at MaxBackoff.
func calculateBackoff(policy ReconnectPolicy, attempt int) time.Duration {
	backoff := float64(policy.Unit) * math.Pow(2, float64(attempt))

	limit := float64(math.MaxInt64)
	if policy.MaxBackoff > 0 {
		limit = float64(policy.MaxBackoff)
	}
	if backoff >= limit {
		if policy.MaxBackoff > 0 {
			return policy.MaxBackoff
		}
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(backoff)
}

// RetryableError marks a stream failure that should be answered with a
// reconnect instead of stopping the consumer.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as retryable.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error should trigger a reconnect.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
