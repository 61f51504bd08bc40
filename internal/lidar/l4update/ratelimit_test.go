package l4update

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/frontier.map/internal/timeutil"
)

func TestRateLimiter_Disabled(t *testing.T) {
	r := NewRateLimiter(0, nil)
	for i := 0; i < 5; i++ {
		assert.True(t, r.Allow())
	}
	assert.Equal(t, time.Duration(0), r.Period())
}

func TestRateLimiter_Window(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	r := NewRateLimiter(2, clock)
	assert.Equal(t, 500*time.Millisecond, r.Period())

	assert.True(t, r.Allow(), "first frame always accepted")

	clock.Advance(100 * time.Millisecond)
	assert.False(t, r.Allow())

	clock.Advance(400 * time.Millisecond)
	assert.False(t, r.Allow(), "exactly one period is still inside the window")

	clock.Advance(time.Millisecond)
	assert.True(t, r.Allow())

	// Refused frames do not move the window.
	clock.Advance(300 * time.Millisecond)
	assert.False(t, r.Allow())
	clock.Advance(201 * time.Millisecond)
	assert.True(t, r.Allow())
}
