package limiter

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Pacer
// Specialized component to space successive requests to the upstream platform.
// Responsibilities:
// - Bookkeep the last request timestamp per key (one key per session)
// - Compute the delay still owed before the next request may go out
// - Grow the delay under backoff when the upstream pushes back
//
// The randomized inter-request delay is a hard requirement of the crawl
// contract, not an optimization: removing it makes the traffic pattern
// distinguishable from a human operator.
type Pacer interface {
	SetDelayBounds(min, max time.Duration)
	SetRandomSeed(randomSeed int64)
	Backoff(key string)
	ResetBackoff(key string)
	MarkRequestAsNow(key string)
	ResolveDelay(key string) time.Duration
	Forget(key string)
}

type ConcurrentPacer struct {
	mu       sync.RWMutex
	rngMu    sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration
	timings  map[string]requestTiming
	rng      *rand.Rand
}

func NewConcurrentPacer() *ConcurrentPacer {
	return &ConcurrentPacer{
		timings: make(map[string]requestTiming),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetDelayBounds configures the inclusive [min, max] window the randomized
// inter-request delay is drawn from.
func (p *ConcurrentPacer) SetDelayBounds(min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if max < min {
		max = min
	}
	p.minDelay = min
	p.maxDelay = max
}

func (p *ConcurrentPacer) SetRandomSeed(randomSeed int64) {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()

	p.rng = rand.New(rand.NewSource(randomSeed))
}

// exponentialBackoffDelay computes exponential backoff based on count
// Does NOT take lock; caller must hold p.mu (RLock or Lock)
func (p *ConcurrentPacer) exponentialBackoffDelay(backoffCount int) time.Duration {
	initialBackoff := 1 * time.Second
	multiplier := 2.0
	maxBackoff := 30 * time.Second

	// First backoff (count=1) yields initialBackoff
	exponent := float64(backoffCount - 1)
	delay := float64(initialBackoff) * math.Pow(multiplier, exponent)
	if delay > float64(maxBackoff) {
		delay = float64(maxBackoff)
	}

	return time.Duration(delay)
}

// Backoff triggers exponential backoff for the given key.
// It increments the backoff counter and computes the delay.
func (p *ConcurrentPacer) Backoff(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timing, exists := p.timings[key]
	if exists {
		timing.backoffCount++
		timing.backoffDelay = p.exponentialBackoffDelay(timing.backoffCount)
		p.timings[key] = timing
	} else {
		p.timings[key] = requestTiming{
			backoffCount: 1,
			backoffDelay: p.exponentialBackoffDelay(1),
		}
	}
}

// ResetBackoff resets the backoff counter for the given key.
// Called after a successful request to clear backoff state.
func (p *ConcurrentPacer) ResetBackoff(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timing, exists := p.timings[key]
	if exists {
		timing.backoffCount = 0
		timing.backoffDelay = time.Duration(0)
		p.timings[key] = timing
	}
}

// MarkRequestAsNow records that a request for the given key just went out.
func (p *ConcurrentPacer) MarkRequestAsNow(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timing, exists := p.timings[key]
	if exists {
		timing.lastRequestAt = time.Now()
		p.timings[key] = timing
	} else {
		p.timings[key] = requestTiming{
			lastRequestAt: time.Now(),
		}
	}
}

// randomSpread returns a pseudo-random duration in [0, max]
func (p *ConcurrentPacer) randomSpread(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	p.rngMu.Lock()
	defer p.rngMu.Unlock()

	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return time.Duration(p.rng.Int63n(int64(max) + 1))
}

// SetRNG allows injecting a custom random number generator for testing
func (p *ConcurrentPacer) SetRNG(rng interface{}) {
	if randImpl, ok := rng.(*rand.Rand); ok {
		p.rngMu.Lock()
		p.rng = randImpl
		p.rngMu.Unlock()
	}
}

// ResolveDelay computes the remaining delay owed for the given key.
// TargetDelay = max(minDelay, backoffDelay) + random spread in [0, max-min].
// Returns the part of TargetDelay that has not yet elapsed since the key's
// last request, or zero for a key that has not made a request yet.
func (p *ConcurrentPacer) ResolveDelay(key string) time.Duration {
	// copy needed state under read lock, then compute without holding p.mu
	p.mu.RLock()
	timing, exists := p.timings[key]
	min := p.minDelay
	spread := p.maxDelay - p.minDelay
	p.mu.RUnlock()

	if !exists {
		return time.Duration(0)
	}

	targetDelay := min
	if timing.backoffDelay > targetDelay {
		targetDelay = timing.backoffDelay
	}
	targetDelay += p.randomSpread(spread)

	elapsed := time.Since(timing.lastRequestAt)
	if elapsed < targetDelay {
		return targetDelay - elapsed
	}

	return time.Duration(0)
}

func (p *ConcurrentPacer) GetTimings() map[string]requestTiming {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// return a shallow copy to avoid exposing internal map for mutation
	copyMap := make(map[string]requestTiming, len(p.timings))
	for k, v := range p.timings {
		copyMap[k] = v
	}
	return copyMap
}

// Forget drops all timing state for the given key. Called when the session
// owning the key is evicted so the map does not grow without bound.
func (p *ConcurrentPacer) Forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.timings, key)
}
