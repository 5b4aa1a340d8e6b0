package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayDoublesWithoutJitter(t *testing.T) {
	p := ConnectPolicy()

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, expected := range want {
		got := p.Delay(i + 1)
		if got != expected {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, expected)
		}
	}
}

func TestDelayStrictlyIncreasing(t *testing.T) {
	p := ConnectPolicy()

	prev := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Delay(attempt)
		if d <= prev {
			t.Fatalf("Delay(%d) = %v, not greater than previous %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestDelayCappedAtMax(t *testing.T) {
	p := ConnectPolicy()

	if got := p.Delay(20); got != p.Max {
		t.Errorf("Delay(20) = %v, want cap %v", got, p.Max)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Minute, Factor: 2, Jitter: 0.5}

	base := 100 * time.Millisecond
	if got := p.delayWithRand(1, 0); got != base {
		t.Errorf("zero random: got %v, want %v", got, base)
	}
	if got := p.delayWithRand(1, 0.999); got < base || got > base+base/2 {
		t.Errorf("max random: got %v, want within [%v, %v]", got, base, base+base/2)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep on cancelled context = %v, want context.Canceled", err)
	}
}

func TestSleepZeroDuration(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v, want nil", err)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}

	calls := 0
	err := Retry(context.Background(), p, 5, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}

	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), p, 3, func(int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Retry() = %v, want %v", err, boom)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want exactly 3", calls)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	p := Policy{Initial: time.Hour, Max: time.Hour, Factor: 1}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, p, 10, func(int) error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 (cancel during first sleep)", calls)
	}
}
