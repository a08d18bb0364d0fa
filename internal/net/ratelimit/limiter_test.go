package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(2.0, 2) // 2 RPS, burst of 2

	if !limiter.Allow("+62-aaa") {
		t.Error("first send should be allowed")
	}
	if !limiter.Allow("+62-aaa") {
		t.Error("second send should be allowed")
	}
	if limiter.Allow("+62-aaa") {
		t.Error("third send should be blocked (no tokens available)")
	}
}

func TestLimiter_IndependentPerContact(t *testing.T) {
	limiter := NewLimiter(1.0, 1) // 1 RPS, burst of 1

	if !limiter.Allow("contact-1") {
		t.Error("first send to contact-1 should be allowed")
	}
	if !limiter.Allow("contact-2") {
		t.Error("first send to contact-2 should be allowed")
	}
	if limiter.Allow("contact-1") {
		t.Error("second send to contact-1 should be blocked")
	}
	if limiter.Allow("contact-2") {
		t.Error("second send to contact-2 should be blocked")
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(10.0, 1) // 10 RPS, burst of 1

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := limiter.Wait(ctx, "contact-1"); err != nil {
		t.Errorf("Wait should not error on first send: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("first send should be immediate, took %v", elapsed)
	}

	start = time.Now()
	if err := limiter.Wait(ctx, "contact-1"); err != nil {
		t.Errorf("Wait should not error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond || elapsed > 150*time.Millisecond {
		t.Errorf("second send should wait ~100ms, took %v", elapsed)
	}
}

func TestLimiter_WaitTimeout(t *testing.T) {
	limiter := NewLimiter(0.1, 1) // very slow: 10s refill

	limiter.Allow("contact-1")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := limiter.Wait(ctx, "contact-1")
	elapsed := time.Since(start)

	if err == nil {
		t.Error("Wait should time out with a short context")
	}
	if elapsed > 150*time.Millisecond {
		t.Errorf("Wait should time out quickly, took %v", elapsed)
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewLimiter(100.0, 10)
	contact := "concurrent-contact"

	const numGoroutines = 50
	const sendsPerGoroutine = 5

	var allowed, blocked int64
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < sendsPerGoroutine; j++ {
				if limiter.Allow(contact) {
					atomic.AddInt64(&allowed, 1)
				} else {
					atomic.AddInt64(&blocked, 1)
				}
			}
		}()
	}
	wg.Wait()

	total := allowed + blocked
	if total != int64(numGoroutines*sendsPerGoroutine) {
		t.Errorf("total sends %d != expected %d", total, numGoroutines*sendsPerGoroutine)
	}
	if allowed < 10 {
		t.Errorf("should allow at least the burst amount, allowed %d", allowed)
	}
	if blocked == 0 {
		t.Errorf("should block some sends under this load, blocked %d", blocked)
	}
}

func TestLimiter_Stats(t *testing.T) {
	limiter := NewLimiter(5.0, 10)
	contact := "stats-contact"

	limiter.Allow(contact)
	limiter.Allow(contact)

	stats := limiter.Stats()
	cs, exists := stats[contact]
	if !exists {
		t.Fatal("stats should include the contact")
	}
	if cs.Contact != contact {
		t.Errorf("contact should be %s, got %s", contact, cs.Contact)
	}
	if cs.Burst != 10 {
		t.Errorf("burst should be 10, got %d", cs.Burst)
	}
	if cs.TokensAvailable >= 10 {
		t.Errorf("tokens available should be < 10 after usage, got %f", cs.TokensAvailable)
	}
}

func TestNewPerMinuteLimiter_MatchesDispatcherContract(t *testing.T) {
	// Stock dispatcher bucket: capacity 15, refill 15 per 60 seconds.
	limiter := NewPerMinuteLimiter(15, 15)
	contact := "per-minute-contact"

	for i := 0; i < 15; i++ {
		if !limiter.Allow(contact) {
			t.Fatalf("send %d within capacity should be allowed", i)
		}
	}
	if limiter.Allow(contact) {
		t.Error("16th send should exceed the bucket and be throttled")
	}
}
