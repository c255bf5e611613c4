package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	rl := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("request over the limit should be rejected")
	}
}

func TestAddressesAreIndependent(t *testing.T) {
	rl := New(1, time.Minute)

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first address should be allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatal("second address should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("first address should now be limited")
	}
}

func TestWindowSlides(t *testing.T) {
	rl := New(2, 50*time.Millisecond)

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("first two requests should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("third request should be rejected")
	}

	time.Sleep(60 * time.Millisecond)

	if !rl.Allow("10.0.0.1") {
		t.Fatal("request should be allowed after the window slides past old hits")
	}
}

func TestZeroLimitRejectsEverything(t *testing.T) {
	rl := New(0, time.Minute)

	if rl.Allow("10.0.0.1") {
		t.Fatal("zero max requests must reject all traffic")
	}
}

func TestStats(t *testing.T) {
	rl := New(1, time.Minute)

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	allowed, rejected := rl.Stats()
	if allowed != 2 {
		t.Errorf("expected 2 allowed, got %d", allowed)
	}
	if rejected != 1 {
		t.Errorf("expected 1 rejected, got %d", rejected)
	}
}

func TestConcurrentAllow(t *testing.T) {
	rl := New(100, time.Minute)
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 20; j++ {
				rl.Allow("10.0.0.1")
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	allowed, rejected := rl.Stats()
	if allowed != 100 {
		t.Errorf("expected exactly 100 allowed, got %d", allowed)
	}
	if rejected != 100 {
		t.Errorf("expected exactly 100 rejected, got %d", rejected)
	}
}
