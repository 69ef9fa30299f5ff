package limiter

import (
	"math/rand"
	"sync"
	"testing"
	"time"
)

func TestResolveDelay_UnknownKey(t *testing.T) {
	p := NewConcurrentPacer()
	p.SetDelayBounds(2*time.Second, 5*time.Second)

	if got := p.ResolveDelay("session-1"); got != 0 {
		t.Errorf("ResolveDelay() for unknown key = %v, want 0", got)
	}
}

func TestResolveDelay_WithinBounds(t *testing.T) {
	p := NewConcurrentPacer()
	p.SetDelayBounds(2*time.Second, 5*time.Second)
	p.SetRNG(rand.New(rand.NewSource(42)))

	p.MarkRequestAsNow("session-1")

	got := p.ResolveDelay("session-1")
	if got <= 0 {
		t.Fatalf("ResolveDelay() right after a request = %v, want > 0", got)
	}
	// A sliver of time elapsed between MarkRequestAsNow and ResolveDelay,
	// so the remaining delay is slightly below the drawn target.
	if got > 5*time.Second {
		t.Errorf("ResolveDelay() = %v, want <= max bound %v", got, 5*time.Second)
	}
}

func TestResolveDelay_ElapsedKey(t *testing.T) {
	p := NewConcurrentPacer()
	p.SetDelayBounds(time.Millisecond, 2*time.Millisecond)

	p.MarkRequestAsNow("session-1")
	time.Sleep(5 * time.Millisecond)

	if got := p.ResolveDelay("session-1"); got != 0 {
		t.Errorf("ResolveDelay() after bounds elapsed = %v, want 0", got)
	}
}

func TestBackoff_GrowsAndResets(t *testing.T) {
	p := NewConcurrentPacer()

	p.Backoff("session-1")
	first := p.GetTimings()["session-1"]
	if first.BackoffCount() != 1 {
		t.Fatalf("backoff count = %d, want 1", first.BackoffCount())
	}
	if first.BackoffDelay() != time.Second {
		t.Errorf("first backoff delay = %v, want 1s", first.BackoffDelay())
	}

	p.Backoff("session-1")
	second := p.GetTimings()["session-1"]
	if second.BackoffDelay() != 2*time.Second {
		t.Errorf("second backoff delay = %v, want 2s", second.BackoffDelay())
	}

	p.ResetBackoff("session-1")
	reset := p.GetTimings()["session-1"]
	if reset.BackoffCount() != 0 || reset.BackoffDelay() != 0 {
		t.Errorf("after reset: count=%d delay=%v, want zeroes", reset.BackoffCount(), reset.BackoffDelay())
	}
}

func TestBackoff_CapsAtMaximum(t *testing.T) {
	p := NewConcurrentPacer()

	for i := 0; i < 10; i++ {
		p.Backoff("session-1")
	}

	timing := p.GetTimings()["session-1"]
	if timing.BackoffDelay() != 30*time.Second {
		t.Errorf("backoff delay after 10 failures = %v, want cap 30s", timing.BackoffDelay())
	}
}

func TestForget_DropsState(t *testing.T) {
	p := NewConcurrentPacer()
	p.MarkRequestAsNow("session-1")
	p.Forget("session-1")

	if _, exists := p.GetTimings()["session-1"]; exists {
		t.Error("Forget() left timing state behind")
	}
}

func TestPacer_ConcurrentAccess(t *testing.T) {
	p := NewConcurrentPacer()
	p.SetDelayBounds(time.Millisecond, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "session"
			if n%2 == 0 {
				key = "other"
			}
			for j := 0; j < 100; j++ {
				p.MarkRequestAsNow(key)
				p.ResolveDelay(key)
				p.Backoff(key)
				p.ResetBackoff(key)
			}
		}(i)
	}
	wg.Wait()
}
