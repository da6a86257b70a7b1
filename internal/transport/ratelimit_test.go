package transport

import "testing"

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(5)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		if !rl.Allow("student1") {
			t.Fatalf("event %d should be allowed", i+1)
		}
	}
	if rl.Allow("student1") {
		t.Error("event past the limit should be rejected")
	}
}

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewRateLimiter(1)
	defer rl.Stop()

	if !rl.Allow("student1") {
		t.Fatal("first event for student1 should be allowed")
	}
	if !rl.Allow("student2") {
		t.Error("student2's window is independent of student1's")
	}
	if rl.Allow("student1") {
		t.Error("student1 should be over the limit")
	}
}

func TestRateLimiter_DefaultLimit(t *testing.T) {
	rl := NewRateLimiter(0)
	defer rl.Stop()

	for i := 0; i < 120; i++ {
		if !rl.Allow("student1") {
			t.Fatalf("event %d should be allowed under the default limit", i+1)
		}
	}
	if rl.Allow("student1") {
		t.Error("event 121 should exceed the default limit")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10)
	defer rl.Stop()
	rl.Allow("student1")

	rl.Cleanup()
	if len(rl.clients) != 1 {
		t.Error("recent entries should survive cleanup")
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(10)

	rl.Stop()
	rl.Stop()

	// Allow still works after the janitor is gone.
	if !rl.Allow("student1") {
		t.Error("Allow should still work after Stop")
	}
}
