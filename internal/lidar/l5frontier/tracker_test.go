package l5frontier

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
)

func TestChangeTracker_DrainAndReset(t *testing.T) {
	m := newFrontierMap(t)
	tr := NewChangeTracker(m)

	require.NoError(t, m.WithRead(func(v l3occupancy.View) error {
		assert.True(t, v.ChangeDetection())
		return nil
	}))

	observe(t, m, false, key(0, 0, 0), key(1, 0, 0))
	got := tr.Drain()
	if diff := cmp.Diff([]l3occupancy.Key{key(0, 0, 0), key(1, 0, 0)}, got.Sorted()); diff != "" {
		t.Errorf("drained keys mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, tr.Drain().Len(), "log is reset after a drain")

	// A second miss keeps the voxel free: no state change, nothing logged.
	observe(t, m, false, key(0, 0, 0))
	assert.Equal(t, 0, tr.Drain().Len())

	// Two hits flip (1,0,0) to occupied.
	observe(t, m, true, key(1, 0, 0))
	observe(t, m, true, key(1, 0, 0))
	assert.Equal(t, []l3occupancy.Key{key(1, 0, 0)}, tr.Drain().Sorted())
}

func TestChangeTracker_DrainReturnsIndependentSet(t *testing.T) {
	m := newFrontierMap(t)
	tr := NewChangeTracker(m)
	observe(t, m, false, key(3, 3, 3))
	got := tr.Drain()
	observe(t, m, false, key(4, 4, 4))
	assert.Equal(t, 1, got.Len())
}
