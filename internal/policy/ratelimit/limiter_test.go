package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	l := New(Config{PageDelay: 100 * time.Millisecond})
	ctx := context.Background()

	// First call for a target should be immediate.
	start := time.Now()
	if err := l.Wait(ctx, "keyword:music"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Logf("warning: first wait took %v", time.Since(start))
	}

	// The next page of the same target waits roughly one delay.
	start = time.Now()
	if err := l.Wait(ctx, "keyword:music"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentTargets(t *testing.T) {
	l := New(Config{PageDelay: time.Second})
	ctx := context.Background()

	if err := l.Wait(ctx, "trending"); err != nil {
		t.Fatal(err)
	}

	// Another target is not blocked by the first.
	start := time.Now()
	if err := l.Wait(ctx, "category:10"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Errorf("category target blocked unexpectedly")
	}
}

func TestLimiter_ZeroDelayNeverBlocks(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Wait(ctx, "trending"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("zero delay limiter should not block, took %v", time.Since(start))
	}
}

func TestLimiter_CanceledContext(t *testing.T) {
	l := New(Config{PageDelay: time.Hour})
	if err := l.Wait(context.Background(), "trending"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "trending"); err == nil {
		t.Fatal("expected error when the delay exceeds the context deadline")
	}

	l.Forget("trending")
	if err := l.Wait(context.Background(), "trending"); err != nil {
		t.Fatalf("forgotten target should start fresh: %v", err)
	}
}

func TestLimiter_DelayRunsFromDone(t *testing.T) {
	l := New(Config{PageDelay: 100 * time.Millisecond})
	ctx := context.Background()

	if err := l.Wait(ctx, "trending"); err != nil {
		t.Fatal(err)
	}
	// A request slower than the delay must not earn the next page a free pass.
	time.Sleep(150 * time.Millisecond)
	l.Done("trending")

	start := time.Now()
	if err := l.Wait(ctx, "trending"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms after completion, got %v", dur)
	}
}

func TestLimiter_DoneWithoutDelayIsNoop(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := l.Wait(ctx, "trending"); err != nil {
			t.Fatal(err)
		}
		l.Done("trending")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("zero delay limiter should not block, took %v", time.Since(start))
	}
}
