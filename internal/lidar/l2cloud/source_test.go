package l2cloud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/frontier.map/internal/timeutil"
)

func TestSyntheticSource_LimitAndPoses(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	resolver := NewBufferResolver("map")
	src := &SyntheticSource{
		Scanner:  NewSyntheticScanner("sensor", 1),
		Resolver: resolver,
		Clock:    clock,
		Period:   100 * time.Millisecond,
		Limit:    3,
	}

	out := make(chan *Frame)
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(context.Background(), out) }()

	var frames []*Frame
	for len(frames) < 3 {
		require.Eventually(t, func() bool {
			clock.Advance(src.Period)
			select {
			case f := <-out:
				frames = append(frames, f)
				return true
			default:
				return false
			}
		}, 2*time.Second, time.Millisecond)
	}

	_, open := <-out
	assert.False(t, open, "output closed after limit")
	assert.NoError(t, <-errCh)

	for i, f := range frames {
		assert.Equal(t, "sensor", f.SensorFrame)
		_, err := resolver.Lookup("map", "sensor", f.Stamp)
		assert.NoError(t, err, "frame %d pose registered", i)
	}
	assert.True(t, frames[0].Stamp.Before(frames[2].Stamp))
}

func TestSyntheticSource_Cancel(t *testing.T) {
	src := &SyntheticSource{
		Scanner: NewSyntheticScanner("sensor", 1),
		Clock:   timeutil.NewMockClock(time.Unix(0, 0)),
	}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan *Frame)
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(ctx, out) }()

	cancel()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, open := <-out
	assert.False(t, open)
}
