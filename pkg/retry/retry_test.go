package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := Policy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 350 * time.Millisecond}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDoSucceedsOnThirdAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	var retries []int
	attempts, err := Do(context.Background(), p, func(attempt int) error {
		if attempt < 3 {
			return errors.New("busy")
		}
		return nil
	}, func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) })

	if err != nil || attempts != 3 {
		t.Fatalf("attempts=%d err=%v", attempts, err)
	}
	if len(retries) != 2 {
		t.Errorf("onRetry called %d times, want 2", len(retries))
	}
}

func TestDoGivesUp(t *testing.T) {
	p := Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond}
	boom := errors.New("boom")
	attempts, err := Do(context.Background(), p, func(int) error { return boom }, nil)
	if !errors.Is(err, boom) || attempts != 2 {
		t.Fatalf("attempts=%d err=%v", attempts, err)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{MaxAttempts: 5, InitialBackoff: time.Hour}
	_, err := Do(ctx, p, func(int) error { return errors.New("x") }, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
