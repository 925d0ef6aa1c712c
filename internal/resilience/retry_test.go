package resilience

import (
	"context"
	"testing"
	"time"
)

func always(error) bool { return true }
func never(error) bool  { return false }

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), always, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), always, func(context.Context) error {
		calls++
		if calls < 3 {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), always, func(context.Context) error {
		calls++
		return errTest
	})
	if err != errTest {
		t.Fatalf("err = %v, want errTest", err)
	}
	if calls != 4 { // first attempt + 3 retries
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestRetry_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), never, func(context.Context) error {
		calls++
		return errTest
	})
	if err != errTest {
		t.Fatalf("err = %v, want errTest", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Retry(ctx, policy, always, func(context.Context) error { return errTest })
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("retry did not abort promptly, took %v", elapsed)
	}
}

func TestPolicy_DelayRespectsCapAndJitter(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, Jitter: 0.2}
	for n := range 10 {
		d := p.delay(n)
		if d > time.Duration(float64(2*time.Second)*1.2) {
			t.Errorf("delay(%d) = %v, exceeds jittered cap", n, d)
		}
		if d <= 0 {
			t.Errorf("delay(%d) = %v, must be positive", n, d)
		}
	}
	// First retry should be near the base delay.
	if d := p.delay(0); d < 160*time.Millisecond || d > 240*time.Millisecond {
		t.Errorf("delay(0) = %v, want 200ms ±20%%", d)
	}
}
