package common

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle gates a repeated, non-critical action such as a progress log line
// to at most one occurrence per interval. Calls that arrive while the gate is
// closed are dropped rather than delayed.
type Throttle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewThrottle creates a Throttle that opens once immediately and then at most
// once per every. A non-positive interval disables throttling.
func NewThrottle(every time.Duration) *Throttle {
	limit := rate.Inf
	if every > 0 {
		limit = rate.Every(every)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, 1)}
}

// Allow reports whether the action may run now.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limiter.Allow()
}

// SetInterval changes the gate interval at runtime.
func (t *Throttle) SetInterval(every time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if every <= 0 {
		t.limiter.SetLimit(rate.Inf)
		return
	}
	t.limiter.SetLimit(rate.Every(every))
}
