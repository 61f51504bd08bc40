package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanStats_Summary(t *testing.T) {
	s := NewSpanStats(4)
	for _, ms := range []int{1, 2, 3, 4} {
		s.Observe("merge", time.Duration(ms)*time.Millisecond)
	}
	s.Observe("track", 10*time.Millisecond)

	sum := s.Summary()
	require.Len(t, sum, 2)
	assert.Equal(t, "merge", sum[0].Stage)
	assert.Equal(t, int64(4), sum[0].Count)
	assert.InDelta(t, 2.5, sum[0].MeanMs, 1e-9)
	assert.InDelta(t, 2.0, sum[0].P50Ms, 1e-9)
	assert.InDelta(t, 4.0, sum[0].MaxMs, 1e-9)
	assert.InDelta(t, 4.0, sum[0].LastMs, 1e-9)
	assert.Equal(t, "track", sum[1].Stage)
}

func TestSpanStats_WindowEvicts(t *testing.T) {
	s := NewSpanStats(2)
	s.Observe("find", 100*time.Millisecond)
	s.Observe("find", time.Millisecond)
	s.Observe("find", time.Millisecond)

	sum := s.Summary()
	require.Len(t, sum, 1)
	assert.Equal(t, int64(3), sum[0].Count, "count is lifetime")
	assert.InDelta(t, 1.0, sum[0].MaxMs, 1e-9, "old sample evicted")
}

func TestSpan_End(t *testing.T) {
	s := NewSpanStats(0)
	sp := s.Start("publish")
	d := sp.End()
	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.Len(t, s.Summary(), 1)

	s.Reset()
	assert.Empty(t, s.Summary())

	var detached Span
	assert.NotPanics(t, func() { detached.End() })
}
