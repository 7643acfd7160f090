package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsAfterBudget(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Millisecond}
	attempts := 0
	wantErr := errors.New("still failing")

	err := p.Do(context.Background(), func() error {
		attempts++
		return wantErr
	}, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 1 try + 3 retries, got %d attempts", attempts)
	}
}

func TestDoSucceedsMidway(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: time.Millisecond}
	attempts := 0
	notified := 0

	err := p.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(error, time.Duration) { notified++ })
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 || notified != 2 {
		t.Fatalf("expected 3 attempts with 2 notifications, got %d/%d", attempts, notified)
	}
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: time.Millisecond}
	attempts := 0
	wantErr := errors.New("terminal")

	err := p.Do(context.Background(), func() error {
		attempts++
		return Permanent(wantErr)
	}, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("permanent errors must not retry, got %d attempts", attempts)
	}
}

func TestDoJitterIsFlatBounded(t *testing.T) {
	base := 4 * time.Millisecond
	bound := 2 * time.Millisecond
	p := Policy{MaxRetries: 3, BaseDelay: base, Jitter: bound}

	var delays []time.Duration
	_ = p.Do(context.Background(), func() error {
		return errors.New("still failing")
	}, func(_ error, next time.Duration) { delays = append(delays, next) })

	if len(delays) != 3 {
		t.Fatalf("expected 3 sleeps, got %d", len(delays))
	}
	for i, d := range delays {
		grown := base * (1 << i)
		if d < grown || d > grown+bound {
			t.Fatalf("sleep %d is %v, want within [%v, %v]", i, d, grown, grown+bound)
		}
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	p := Policy{MaxRetries: 100, BaseDelay: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Do(ctx, func() error { return errors.New("transient") }, nil)
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
}
