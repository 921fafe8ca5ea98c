package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), "flaky", Policy{Attempts: 3, Delay: time.Millisecond}, nil,
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("boom")
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if result != "ok" {
		t.Errorf("unexpected result %q", result)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "doomed", Policy{Attempts: 3, Delay: time.Millisecond}, nil,
		func(context.Context) (int, error) {
			calls++
			return 0, errors.New("persistent failure")
		})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
	if !strings.Contains(err.Error(), "persistent failure") {
		t.Errorf("expected last error to be carried, got %v", err)
	}
}

func TestDo_PerformsDelaysBetweenAttempts(t *testing.T) {
	delay := 30 * time.Millisecond
	start := time.Now()
	calls := 0
	_, err := Do(context.Background(), "slow", Policy{Attempts: 3, Delay: delay}, nil,
		func(context.Context) (int, error) {
			calls++
			return 0, errors.New("nope")
		})
	if err == nil {
		t.Fatal("expected error")
	}
	// 3 attempts -> exactly 2 inter-attempt delays
	if elapsed := time.Since(start); elapsed < 2*delay {
		t.Errorf("expected at least %v elapsed for 2 delays, got %v", 2*delay, elapsed)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDo_CancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, "cancelled", Policy{Attempts: 3, Delay: 10 * time.Second}, nil,
			func(context.Context) (int, error) {
				calls++
				return 0, errors.New("fail once")
			})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return within one second of cancellation")
	}

	if calls != 1 {
		t.Errorf("expected no further attempts after cancel, got %d", calls)
	}
}

func TestDo_CancelBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, "preempted", Policy{}, nil, func(context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected zero attempts, got %d", calls)
	}
}

func TestDo_ImmediateSuccessSkipsDelays(t *testing.T) {
	start := time.Now()
	result, err := Do(context.Background(), "fast", Policy{Attempts: 3, Delay: time.Second}, nil,
		func(context.Context) (int, error) { return 42, nil })
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if result != 42 {
		t.Errorf("unexpected result %d", result)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("success should return immediately, took %v", elapsed)
	}
}
