package l4update

import (
	"sync"
	"time"

	"github.com/banshee-data/frontier.map/internal/timeutil"
)

// RateLimiter admits at most one frame per period. A frame arriving no
// later than one period after the last admitted frame is refused; refused
// frames do not move the window.
type RateLimiter struct {
	mu     sync.Mutex
	clock  timeutil.Clock
	period time.Duration
	last   time.Time
	seen   bool
}

// NewRateLimiter creates a limiter for rateHz frames per second. A
// non-positive rate admits every frame.
func NewRateLimiter(rateHz float64, clock timeutil.Clock) *RateLimiter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	var period time.Duration
	if rateHz > 0 {
		period = time.Duration(float64(time.Second) / rateHz)
	}
	return &RateLimiter{clock: clock, period: period}
}

// Allow reports whether a frame arriving now may be processed, and records
// it as the last admitted frame if so.
func (r *RateLimiter) Allow() bool {
	if r.period <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen && r.clock.Since(r.last) <= r.period {
		return false
	}
	r.last = r.clock.Now()
	r.seen = true
	return true
}

// Period returns the minimum spacing between admitted frames.
func (r *RateLimiter) Period() time.Duration { return r.period }
