package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/retry"
	"github.com/jonboulle/clockwork"
)

var fastPolicy = retry.Policy{
	MaxAttempts:      3,
	InitialBackoff:   1 * time.Millisecond,
	ThrottledBackoff: 5 * time.Millisecond,
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), fastPolicy, retry.Always, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if val != 42 || calls != 3 {
		t.Fatalf("expected 42 after 3 calls, got %d after %d", val, calls)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, alwaysStop, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, permanent
	})
	var permErr *retry.PermanentError
	if !errors.As(err, &permErr) {
		t.Fatalf("expected PermanentError, got %T: %v", err, err)
	}
	if !errors.Is(err, permanent) {
		t.Fatalf("expected wrapped permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_ExhaustedRetries(t *testing.T) {
	underlying := errors.New("transient")
	calls := 0
	err := retry.DoVoid(context.Background(), fastPolicy, retry.Always, func(context.Context) error {
		calls++
		return underlying
	})
	if !errors.Is(err, underlying) {
		t.Fatalf("expected wrapped underlying error, got %v", err)
	}
	if calls != fastPolicy.MaxAttempts {
		t.Fatalf("expected %d calls, got %d", fastPolicy.MaxAttempts, calls)
	}
}

func TestDo_RejectsEmptyPolicy(t *testing.T) {
	err := retry.DoVoid(context.Background(), retry.Policy{}, retry.Always, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for zero attempts")
	}
}

func TestDo_BackoffDoublesOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var observed []time.Duration
	p := retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		Clock:          clock,
		OnRetry:        func(_ int, _ error, backoff time.Duration) { observed = append(observed, backoff) },
	}

	done := make(chan error, 1)
	go func() {
		done <- retry.DoVoid(context.Background(), p, retry.Always, func(context.Context) error {
			return errors.New("redis unavailable")
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, wait := range []time.Duration{time.Second, 2 * time.Second} {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("retry never waited: %v", err)
		}
		clock.Advance(wait)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected exhaustion error")
		}
	case <-ctx.Done():
		t.Fatal("retry did not finish")
	}
	if len(observed) != 2 || observed[0] != time.Second || observed[1] != 2*time.Second {
		t.Fatalf("unexpected backoffs %v", observed)
	}
}

func TestDo_ThrottledBackoff(t *testing.T) {
	var observed time.Duration
	p := fastPolicy
	p.MaxAttempts = 2
	p.OnRetry = func(_ int, _ error, backoff time.Duration) { observed = backoff }

	throttled := func(error) retry.Action { return retry.After }
	_ = retry.DoVoid(context.Background(), p, throttled, func(context.Context) error {
		return errors.New("too many requests")
	})

	if observed != 5*time.Millisecond {
		t.Fatalf("expected throttled backoff of 5ms, got %v", observed)
	}
}

func TestDo_ContextCancellationDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxAttempts: 3, InitialBackoff: 10 * time.Second}

	calls := 0
	err := retry.DoVoid(ctx, p, retry.Always, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancel, got %d", calls)
	}
}

func alwaysStop(error) retry.Action { return retry.Stop }
