package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hypetrain/hypetrain/internal/config"
)

func TestCalculateBackoff(t *testing.T) {
	policy := ReconnectPolicy{
		Unit:       time.Millisecond,
		MaxBackoff: 100 * time.Millisecond,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 2 * time.Millisecond},
		{2, 4 * time.Millisecond},
		{3, 8 * time.Millisecond},
		{6, 64 * time.Millisecond},
		{7, 100 * time.Millisecond}, // Capped at max
		{40, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := calculateBackoff(policy, tt.attempt); got != tt.expected {
				t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
			}
		})
	}
}

func TestBackoffStrictlyIncreasesWhenUncapped(t *testing.T) {
	b := NewBackoff(ReconnectPolicy{Unit: time.Millisecond})

	if b.Attempt() != 1 {
		t.Fatalf("expected initial attempt 1, got %d", b.Attempt())
	}

	prev := time.Duration(0)
	for i := 0; i < 30; i++ {
		d := b.Next()
		if d <= prev {
			t.Fatalf("delay %d (%v) did not increase over %v", i, d, prev)
		}
		prev = d
	}
}

func TestBackoffHugeAttemptDoesNotOverflow(t *testing.T) {
	got := calculateBackoff(ReconnectPolicy{Unit: time.Second}, 500)
	if got <= 0 {
		t.Fatalf("expected saturated positive delay, got %v", got)
	}
}

func TestBackoffHealthyReset(t *testing.T) {
	b := NewBackoff(ReconnectPolicy{Unit: time.Millisecond, HealthyReset: time.Minute})
	b.Next()
	b.Skip()
	if b.Attempt() != 3 {
		t.Fatalf("expected attempt 3, got %d", b.Attempt())
	}

	if b.ObserveHealthy(30 * time.Second) {
		t.Fatal("short connection must not reset the counter")
	}
	if !b.ObserveHealthy(2 * time.Minute) {
		t.Fatal("expected reset after a healthy connection")
	}
	if b.Attempt() != initialAttempt {
		t.Errorf("expected counter back at %d, got %d", initialAttempt, b.Attempt())
	}

	monotonic := NewBackoff(ReconnectPolicy{Unit: time.Millisecond})
	monotonic.Next()
	if monotonic.ObserveHealthy(time.Hour) {
		t.Error("zero HealthyReset must keep the counter monotonic")
	}
}

func TestReconnectPolicyFromConfig(t *testing.T) {
	policy := ReconnectPolicyFromConfig(config.StreamConfig{
		BackoffUnit:  250 * time.Millisecond,
		MaxBackoff:   time.Minute,
		HealthyReset: 0,
	})
	if policy.Unit != 250*time.Millisecond || policy.MaxBackoff != time.Minute || policy.HealthyReset != 0 {
		t.Errorf("unexpected policy: %+v", policy)
	}

	def := DefaultReconnectPolicy()
	if def.Unit != time.Second || def.MaxBackoff != 5*time.Minute {
		t.Errorf("unexpected defaults: %+v", def)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"regular error", errors.New("regular"), false},
		{"retryable error", NewRetryableError(errors.New("retry")), true},
		{"wrapped retryable", fmt.Errorf("open: %w", NewRetryableError(errors.New("retry"))), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleep did not return promptly on cancellation")
	}
}
