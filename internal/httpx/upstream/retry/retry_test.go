package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

func TestDoSucceedsBeforeBudget(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 3, Backoff: Constant(0)}

	calls := 0
	var notified []int
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errFlaky
		}
		return nil
	}, func(attempt int, err error, next time.Duration) {
		notified = append(notified, attempt)
	})

	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(notified) != 2 {
		t.Fatalf("notify called %d times, want 2", len(notified))
	}
}

func TestDoExhausted(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 2, Backoff: Constant(time.Millisecond)}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errFlaky
	}, nil)

	if !errors.Is(err, ErrExhausted) || !errors.Is(err, errFlaky) {
		t.Fatalf("error = %v, want exhausted wrapping flaky", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 5, Backoff: Constant(time.Hour)}
	errFatal := errors.New("fatal")

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(errFatal)
	}, nil)

	if !errors.Is(err, errFatal) || errors.Is(err, ErrExhausted) {
		t.Fatalf("error = %v, want the permanent cause", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoHonorsContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 10, Backoff: Constant(time.Hour)}

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(ctx context.Context, attempt int) error { return errFlaky }, nil)
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()
	calls := 0
	_ = Policy{}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errFlaky
	}, nil)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestExponentialDelay(t *testing.T) {
	t.Parallel()
	b := Exponential{Base: time.Second, Max: 5 * time.Second}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.n); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}
