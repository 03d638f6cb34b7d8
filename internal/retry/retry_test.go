package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type transientErr struct{ retryable bool }

func (e *transientErr) Error() string   { return "remote call failed" }
func (e *transientErr) Transient() bool { return e.retryable }

func shortDelay(t *testing.T) {
	t.Helper()
	orig := BaseDelay
	BaseDelay = time.Millisecond
	t.Cleanup(func() { BaseDelay = orig })
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	shortDelay(t)

	calls := 0
	err := Do(context.Background(), 4, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesTransient(t *testing.T) {
	shortDelay(t)

	calls := 0
	err := Do(context.Background(), 4, func() error {
		calls++
		if calls < 3 {
			return &transientErr{retryable: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentFailsImmediately(t *testing.T) {
	shortDelay(t)

	calls := 0
	permanent := errors.New("bad request")
	err := Do(context.Background(), 4, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call for permanent error, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	shortDelay(t)

	calls := 0
	underlying := &transientErr{retryable: true}
	err := Do(context.Background(), 4, func() error {
		calls++
		return underlying
	})
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if !errors.Is(err, underlying) {
		t.Errorf("Expected wrapped underlying error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("Expected 4 calls, got %d", calls)
	}
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	orig := BaseDelay
	BaseDelay = time.Hour
	t.Cleanup(func() { BaseDelay = orig })

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, 4, func() error {
		calls++
		return &transientErr{retryable: true}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context cancellation, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", calls)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error must not be transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("plain error must not be transient")
	}
	if !IsTransient(&transientErr{retryable: true}) {
		t.Error("retryable error must be transient")
	}
	if IsTransient(&transientErr{retryable: false}) {
		t.Error("non-retryable marker must not be transient")
	}
	wrapped := fmt.Errorf("call failed: %w", &transientErr{retryable: true})
	if !IsTransient(wrapped) {
		t.Error("wrapped retryable error must be transient")
	}
	if IsTransient(context.Canceled) {
		t.Error("context cancellation must not be transient")
	}
}
