package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestNew_Defaults(t *testing.T) {
	l := New(0, 0, testLogger())

	if l.maxRequests != DefaultMaxRequests {
		t.Errorf("maxRequests = %d, want %d", l.maxRequests, DefaultMaxRequests)
	}
	if l.window != DefaultWindow {
		t.Errorf("window = %v, want %v", l.window, DefaultWindow)
	}
}

func TestAcquire_UnderLimit(t *testing.T) {
	l := New(5, 10*time.Second, testLogger())

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Acquire under limit took %v, expected no blocking", elapsed)
	}
	if got := l.InWindow(); got != 5 {
		t.Errorf("InWindow() = %d, want 5", got)
	}
}

func TestAcquire_BlocksWhenFull(t *testing.T) {
	window := 200 * time.Millisecond
	l := New(3, window, testLogger())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	// Fourth acquire must wait for the oldest timestamp to leave the window.
	start := time.Now()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < window/2 {
		t.Errorf("Acquire blocked for %v, expected roughly %v", elapsed, window)
	}
	if elapsed > window+100*time.Millisecond {
		t.Errorf("Acquire blocked for %v, expected no more than %v", elapsed, window+100*time.Millisecond)
	}
}

func TestAcquire_ResetsWindowAfterWait(t *testing.T) {
	window := 100 * time.Millisecond
	l := New(2, window, testLogger())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	// The blocked third acquire clears the queue before recording itself.
	if got := l.InWindow(); got != 1 {
		t.Errorf("InWindow() after reset = %d, want 1", got)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	l := New(1, 10*time.Second, testLogger())

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Acquire(ctx)
	if err == nil {
		t.Fatal("Acquire() expected context error, got nil")
	}
	if err != context.DeadlineExceeded {
		t.Errorf("Acquire() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancelled Acquire took %v, expected prompt return", elapsed)
	}
}

func TestPrune_DropsExpiredStamps(t *testing.T) {
	l := New(10, 10*time.Second, testLogger())

	base := time.Now()
	current := base
	l.setClock(func() time.Time { return current })

	for i := 0; i < 4; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		current = current.Add(time.Second)
	}

	// Advance past the window for the first two stamps only.
	current = base.Add(10*time.Second + 1500*time.Millisecond)
	if got := l.InWindow(); got != 2 {
		t.Errorf("InWindow() = %d, want 2 after partial expiry", got)
	}

	current = base.Add(time.Minute)
	if got := l.InWindow(); got != 0 {
		t.Errorf("InWindow() = %d, want 0 after full expiry", got)
	}
}

// TestAcquire_WindowNeverExceeded verifies the core invariant under
// concurrent callers: the recorded window never holds more than the limit.
func TestAcquire_WindowNeverExceeded(t *testing.T) {
	limit := 5
	l := New(limit, 100*time.Millisecond, testLogger())

	var wg sync.WaitGroup
	maxSeen := make(chan int, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			maxSeen <- l.InWindow()
		}()
	}

	wg.Wait()
	close(maxSeen)

	for n := range maxSeen {
		if n > limit {
			t.Fatalf("window contained %d requests, limit is %d", n, limit)
		}
	}
}
