// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	merrors "github.com/jllopis/mitosis/pkg/errors"
)

func fastRetry() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(5 * time.Millisecond)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastRetry().WithMaxAttempts(2).Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("always fails")
	})

	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		return merrors.NewCompletionServiceError(401, "bad key", nil)
	})

	if !merrors.IsCode(err, merrors.CodeCompletionService) {
		t.Errorf("expected completion service error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryRecoverableStatus(t *testing.T) {
	attempts := 0
	got, err := Retry(context.Background(), fastRetry(), func(context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", merrors.NewCompletionServiceError(503, "unavailable", nil)
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got != "ok" || attempts != 2 {
		t.Errorf("got %q after %d attempts", got, attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig().WithInitialDelay(time.Second)

	var retried []int
	config = config.WithOnRetry(func(attempt int, err error) {
		retried = append(retried, attempt)
		cancel()
	})

	attempts := 0
	err := config.Do(ctx, func(context.Context) error {
		attempts++
		return errors.New("transient error")
	})

	if !merrors.IsCode(err, merrors.CodeCancelled) {
		t.Errorf("expected cancelled error, got %v", err)
	}
	if attempts != 1 || len(retried) != 1 {
		t.Errorf("expected a single attempt, got %d (retries %v)", attempts, retried)
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("reset"), true},
		{"canceled", context.Canceled, false},
		{"rate limited", merrors.NewCompletionServiceError(429, "slow down", nil), true},
		{"bad request", merrors.NewCompletionServiceError(400, "bad", nil), false},
		{"generation", merrors.NewAgentGenerationError("not json", nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.want {
				t.Errorf("IsRecoverable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCircuitBreakerClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		Name:             "test",
	})

	if cb.State() != StateClosed {
		t.Errorf("expected initial state Closed")
	}

	for i := 0; i < 5; i++ {
		err := cb.Call(context.Background(), func(context.Context) error { return nil })
		if err != nil {
			t.Errorf("call %d failed: %v", i, err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("expected state to remain Closed after success")
	}
}

func TestCircuitBreakerOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Name:             "test",
	})

	for i := 0; i < 2; i++ {
		_ = cb.Call(context.Background(), func(context.Context) error {
			return errors.New("failure")
		})
	}

	if cb.State() != StateOpen {
		t.Errorf("expected state Open after %d failures", 2)
	}

	err := cb.Call(context.Background(), func(context.Context) error {
		t.Fatalf("should not execute in open state")
		return nil
	})

	if !merrors.IsCode(err, merrors.CodeCompletionService) {
		t.Errorf("expected completion service error when circuit is open, got %v", err)
	}
}

func TestCircuitBreakerHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
		Name:             "test",
	})
	clock := time.Now()
	cb.now = func() time.Time { return clock }

	_ = cb.Call(context.Background(), func(context.Context) error { return errors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected circuit to be open")
	}

	clock = clock.Add(2 * time.Minute)
	_ = cb.Call(context.Background(), func(context.Context) error { return nil })

	if cb.State() != StateHalfOpen {
		t.Errorf("expected state HalfOpen after timeout")
	}

	_ = cb.Call(context.Background(), func(context.Context) error { return nil })

	if cb.State() != StateClosed {
		t.Errorf("expected state Closed after successes in half-open")
	}
}

func TestCircuitBreakerIgnoresFilteredErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       IsRecoverable,
	})

	_ = cb.Call(context.Background(), func(context.Context) error {
		return merrors.NewCompletionServiceError(401, "bad key", nil)
	})

	if cb.State() != StateClosed {
		t.Errorf("client errors must not open the circuit")
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Name:             "test",
	})

	_ = cb.Call(context.Background(), func(context.Context) error { return errors.New("fail") })

	if cb.State() != StateOpen {
		t.Fatalf("expected circuit to be open")
	}

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("expected state Closed after reset")
	}

	err := cb.Call(context.Background(), func(context.Context) error { return nil })
	if err != nil {
		t.Errorf("call failed after reset: %v", err)
	}
}

func TestCircuitBreakerReportsTransitions(t *testing.T) {
	type change struct{ from, to CircuitBreakerState }
	var changes []change
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		Name:             "groq",
		OnStateChange: func(name string, from, to CircuitBreakerState) {
			if name != "groq" {
				t.Errorf("unexpected breaker name %q", name)
			}
			changes = append(changes, change{from, to})
		},
	})
	clock := time.Now()
	cb.now = func() time.Time { return clock }

	_ = cb.Call(context.Background(), func(context.Context) error { return errors.New("fail") })
	err := cb.Call(context.Background(), func(context.Context) error { return nil })
	if IsRecoverable(err) {
		t.Errorf("an open circuit must not be retried: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	_ = cb.Call(context.Background(), func(context.Context) error { return nil })

	want := []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("got transitions %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, changes[i], want[i])
		}
	}
}
