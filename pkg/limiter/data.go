package limiter

import "time"

// timing-related data used to track when a key last talked to the upstream
type requestTiming struct {
	lastRequestAt time.Time
	backoffDelay  time.Duration
	backoffCount  int
}

func (t *requestTiming) BackoffDelay() time.Duration {
	return t.backoffDelay
}

func (t *requestTiming) LastRequestAt() time.Time {
	return t.lastRequestAt
}

func (t *requestTiming) BackoffCount() int {
	return t.backoffCount
}
