// Package guard applies per-identity abuse control in front of the HTTP
// surface: sliding-window rate ceilings per operation class, plus a timed
// ban for identities that keep presenting bad authorization tokens.
package guard

import (
	"fmt"
	"sync"
	"time"

	"github.com/rohmanhakim/article-archiver/pkg/failure"
)

type Guard struct {
	mu sync.Mutex

	window       time.Duration
	ceilings     map[OperationClass]int
	banThreshold int
	banDuration  time.Duration
	idleTTL      time.Duration

	identities map[string]*identityState

	now func() time.Time
}

// New creates a Guard. Ceilings maps each operation class to the maximum
// number of admissions per identity within the sliding window; a class
// absent from the map is unlimited.
func New(window time.Duration, ceilings map[OperationClass]int, banThreshold int, banDuration, idleTTL time.Duration) *Guard {
	owned := make(map[OperationClass]int, len(ceilings))
	for class, ceiling := range ceilings {
		owned[class] = ceiling
	}
	return &Guard{
		window:       window,
		ceilings:     owned,
		banThreshold: banThreshold,
		banDuration:  banDuration,
		idleTTL:      idleTTL,
		identities:   make(map[string]*identityState),
		now:          time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (g *Guard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// Admit decides whether an identity may perform one operation of the given
// class right now. A ban short-circuits everything else. On admission the
// request is counted against the identity's window.
func (g *Guard) Admit(identity string, class OperationClass) failure.ClassifiedError {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	state := g.state(identity, now)

	if now.Before(state.bannedUntil) {
		return &GuardError{
			Message: fmt.Sprintf("identity %s is banned until %s", identity, state.bannedUntil.Format(time.RFC3339)),
			Cause:   ErrCauseBanned,
			Until:   state.bannedUntil,
		}
	}

	recent := g.prune(state, class, now)

	if ceiling, ok := g.ceilings[class]; ok && len(recent) >= ceiling {
		return &GuardError{
			Message: fmt.Sprintf("identity %s exceeded %d %s operations per %s", identity, ceiling, class, g.window),
			Cause:   ErrCauseRateExceeded,
			Until:   recent[0].Add(g.window),
		}
	}

	state.windows[class] = append(recent, now)
	return nil
}

// RecordAuthFailure counts one rejected authorization attempt. Reaching the
// threshold installs a timed ban and resets the counter.
func (g *Guard) RecordAuthFailure(identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	state := g.state(identity, now)

	state.failures++
	if state.failures >= g.banThreshold {
		state.bannedUntil = now.Add(g.banDuration)
		state.failures = 0
	}
}

// RecordAuthSuccess resets the identity's failure streak.
func (g *Guard) RecordAuthSuccess(identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if state, ok := g.identities[identity]; ok {
		state.failures = 0
		state.lastSeen = g.now()
	}
}

// Sweep evicts identities that have been idle longer than the idle TTL.
// Banned identities are kept until the ban lapses so the ban cannot be
// shed by going quiet. Returns how many identities were evicted.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	evicted := 0
	for identity, state := range g.identities {
		if now.Before(state.bannedUntil) {
			continue
		}
		if now.Sub(state.lastSeen) > g.idleTTL {
			delete(g.identities, identity)
			evicted++
		}
	}
	return evicted
}

// TrackedIdentities returns how many identities currently hold guard state.
func (g *Guard) TrackedIdentities() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.identities)
}

// state returns the identity's record, creating it on first sight.
// Caller must hold g.mu.
func (g *Guard) state(identity string, now time.Time) *identityState {
	state, ok := g.identities[identity]
	if !ok {
		state = newIdentityState()
		g.identities[identity] = state
	}
	state.lastSeen = now
	return state
}

// prune drops timestamps that have aged out of the window.
// Caller must hold g.mu.
func (g *Guard) prune(state *identityState, class OperationClass, now time.Time) []time.Time {
	cutoff := now.Add(-g.window)
	recent := state.windows[class]
	idx := 0
	for idx < len(recent) && !recent[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		recent = append([]time.Time(nil), recent[idx:]...)
		state.windows[class] = recent
	}
	return recent
}
