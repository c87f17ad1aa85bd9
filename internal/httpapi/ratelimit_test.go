package httpapi

import (
	"testing"
	"time"
)

func TestTokenBucketExhaustsBurst(t *testing.T) {
	// One token per minute so the bucket never refills mid-test.
	bucket := NewTokenBucket(2, 1.0/60)

	for i := 0; i < 2; i++ {
		allowed, _, _, _ := bucket.Allow()
		if !allowed {
			t.Fatalf("request %d should be within burst", i+1)
		}
	}

	allowed, remaining, _, retryAt := bucket.Allow()
	if allowed {
		t.Fatal("expected rejection after burst exhausted")
	}
	if remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", remaining)
	}
	if !retryAt.After(time.Now()) {
		t.Errorf("expected retry time in the future, got %v", retryAt)
	}
}

func TestTokenBucketRefills(t *testing.T) {
	// 100 tokens per second so a short sleep restores the bucket.
	bucket := NewTokenBucket(1, 100)

	if allowed, _, _, _ := bucket.Allow(); !allowed {
		t.Fatal("first request should pass")
	}
	if allowed, _, _, _ := bucket.Allow(); allowed {
		t.Fatal("second immediate request should be rejected")
	}

	time.Sleep(50 * time.Millisecond)

	if allowed, _, _, _ := bucket.Allow(); !allowed {
		t.Fatal("expected a token after the refill interval")
	}
}

func TestRateLimiterIsolatesCallers(t *testing.T) {
	limiter := NewRateLimiter(RateLimitInfo{WindowSeconds: 60, MaxRequests: 1, Burst: 1})

	if allowed, _, _, _ := limiter.Allow("device-a"); !allowed {
		t.Fatal("device-a first request should pass")
	}
	if allowed, _, _, _ := limiter.Allow("device-a"); allowed {
		t.Fatal("device-a second request should be rejected")
	}
	if allowed, _, _, _ := limiter.Allow("device-b"); !allowed {
		t.Fatal("device-b must have its own bucket")
	}
}

func TestRateLimiterRemainingDecreases(t *testing.T) {
	limiter := NewRateLimiter(RateLimitInfo{WindowSeconds: 60, MaxRequests: 10, Burst: 5})

	prev := 5
	for i := 1; i <= 3; i++ {
		_, remaining, _, _ := limiter.Allow("till-7")
		if remaining >= prev {
			t.Errorf("request %d: expected remaining below %d, got %d", i, prev, remaining)
		}
		if remaining < 0 {
			t.Errorf("request %d: remaining must not go negative, got %d", i, remaining)
		}
		prev = remaining
	}
}
