// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	aerrors "github.com/jllopis/artifacts/pkg/errors"
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
	tests := []struct {
		name string
		rc   RetryConfig
		err  error
	}{
		{
			name: "predicate says no",
			rc:   fastRetry().WithIsRecoverable(func(error) bool { return false }),
			err:  errors.New("non-recoverable error"),
		},
		{
			name: "typed unrecoverable",
			rc:   fastRetry(),
			err:  aerrors.New(aerrors.CodeLLMError, "bad api key", nil).WithRecoverable(false),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := tt.rc.Do(context.Background(), func(context.Context) error {
				attempts++
				return tt.err
			})
			if err == nil {
				t.Errorf("expected error")
			}
			if attempts != 1 {
				t.Errorf("expected 1 attempt, got %d", attempts)
			}
		})
	}
}

func TestRetryTypedRecoverable(t *testing.T) {
	timeout := aerrors.New(aerrors.CodeTimeout, "timed out", nil).WithRecoverable(true)

	attempts := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 2 {
			return timeout
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected retry to succeed")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rc := DefaultRetryConfig().WithInitialDelay(time.Second)

	attempts := 0
	err := rc.Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("transient error")
	})

	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryGeneric(t *testing.T) {
	attempts := 0
	result, err := Retry(context.Background(), fastRetry(), func(context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("transient")
		}
		return "sandbox-id", nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if result != "sandbox-id" {
		t.Errorf("expected 'sandbox-id', got %v", result)
	}
}

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		work     time.Duration
		wantCode aerrors.ErrorCode
	}{
		{"fast operation", time.Second, time.Millisecond, ""},
		{"slow operation", 20 * time.Millisecond, time.Second, aerrors.CodeTimeout},
		{"no timeout", 0, time.Millisecond, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithTimeout(context.Background(), tt.duration, func(ctx context.Context) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(tt.work):
					return nil
				}
			})

			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if aerrors.CodeOf(err) != tt.wantCode {
				t.Errorf("expected %v, got %v", tt.wantCode, err)
			}
			if !IsTimeout(err) {
				t.Errorf("expected IsTimeout")
			}
			if !aerrors.IsRecoverable(err) {
				t.Errorf("expected timeout to be recoverable")
			}
		})
	}
}

func TestWithTimeoutParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithTimeoutResult(ctx, time.Second, func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	})
	if !IsCanceled(err) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if IsTimeout(err) {
		t.Errorf("parent cancellation must not look like a timeout")
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	var transitions []CircuitBreakerState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Name:             "llm",
		Code:             aerrors.CodeLLMError,
		OnStateChange: func(_ string, _, to CircuitBreakerState) {
			transitions = append(transitions, to)
		},
	})

	for i := 0; i < 2; i++ {
		_ = cb.Call(context.Background(), func(context.Context) error {
			return errors.New("connection refused")
		})
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected state Open after 2 failures")
	}

	err := cb.Call(context.Background(), func(context.Context) error {
		t.Fatalf("should not execute in open state")
		return nil
	})
	if aerrors.CodeOf(err) != aerrors.CodeLLMError {
		t.Errorf("expected LLM_ERROR, got %v", err)
	}
	if aerrors.IsRecoverable(err) {
		t.Errorf("open breaker must not be retried")
	}
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("unexpected transitions %v", transitions)
	}
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !IsTimeout(err) },
	})

	timeout := aerrors.New(aerrors.CodeTimeout, "slow", nil)
	_ = cb.Call(context.Background(), func(context.Context) error { return timeout })
	if cb.State() != StateClosed {
		t.Errorf("timeouts should not open the breaker")
	}
}

func TestCircuitBreakerHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
	})

	_ = cb.Call(context.Background(), func(context.Context) error { return errors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected circuit to be open")
	}

	time.Sleep(40 * time.Millisecond)
	_ = cb.Call(context.Background(), func(context.Context) error { return nil })
	if cb.State() != StateHalfOpen {
		t.Errorf("expected state HalfOpen after timeout")
	}

	_ = cb.Call(context.Background(), func(context.Context) error { return nil })
	if cb.State() != StateClosed {
		t.Errorf("expected state Closed after successes in half-open")
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	_ = cb.Call(context.Background(), func(context.Context) error { return errors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected circuit to be open")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("expected state Closed after reset")
	}
	if err := cb.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("call failed after reset: %v", err)
	}
}
