package l5frontier

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
)

func newFrontierMap(t *testing.T) *l3occupancy.OccupancyMap {
	t.Helper()
	m, err := l3occupancy.New(l3occupancy.DefaultParams(0.1), 0)
	require.NoError(t, err)
	return m
}

func observe(t *testing.T, m *l3occupancy.OccupancyMap, occupied bool, keys ...l3occupancy.Key) {
	t.Helper()
	require.NoError(t, m.WithWrite(func(e l3occupancy.Editor) error {
		for _, k := range keys {
			if _, err := e.UpdateNode(k, occupied); err != nil {
				return err
			}
		}
		return nil
	}))
}

func key(x, y, z int32) l3occupancy.Key { return l3occupancy.Key{X: x, Y: y, Z: z} }

func allCorners(k l3occupancy.Key) []l3occupancy.Key {
	var out []l3occupancy.Key
	for _, o := range NeighborCorner.Offsets() {
		out = append(out, k.Offset(o[0], o[1], o[2]))
	}
	return out
}

func isFrontier(t *testing.T, c Classifier, m *l3occupancy.OccupancyMap, k l3occupancy.Key) bool {
	t.Helper()
	var got bool
	require.NoError(t, m.WithRead(func(v l3occupancy.View) error {
		got = c.IsFrontier(v, k)
		return nil
	}))
	return got
}

func TestNeighborOffsets(t *testing.T) {
	assert.Len(t, NeighborCorner.Offsets(), 8)
	for _, o := range NeighborCorner.Offsets() {
		for _, c := range o {
			assert.NotZero(t, c, "corner mode never includes face or edge neighbours")
		}
	}
	assert.Len(t, NeighborFull26.Offsets(), 26)
}

func TestIsFrontier_Predicate(t *testing.T) {
	c := NewClassifier(Unbounded())
	origin := key(0, 0, 0)

	t.Run("free with unknown and free corners", func(t *testing.T) {
		m := newFrontierMap(t)
		observe(t, m, false, origin, key(1, 1, 1))
		assert.True(t, isFrontier(t, c, m, origin))
	})
	t.Run("only free corners", func(t *testing.T) {
		m := newFrontierMap(t)
		observe(t, m, false, origin)
		observe(t, m, false, allCorners(origin)...)
		assert.False(t, isFrontier(t, c, m, origin))
	})
	t.Run("only unknown corners", func(t *testing.T) {
		m := newFrontierMap(t)
		observe(t, m, false, origin)
		assert.False(t, isFrontier(t, c, m, origin))
	})
	t.Run("occupied corner does not count as free", func(t *testing.T) {
		m := newFrontierMap(t)
		observe(t, m, false, origin)
		observe(t, m, true, key(1, 1, 1))
		assert.False(t, isFrontier(t, c, m, origin))
	})
	t.Run("occupied voxel", func(t *testing.T) {
		m := newFrontierMap(t)
		observe(t, m, true, origin)
		observe(t, m, false, key(1, 1, 1))
		assert.False(t, isFrontier(t, c, m, origin))
	})
	t.Run("unknown voxel", func(t *testing.T) {
		m := newFrontierMap(t)
		observe(t, m, false, key(1, 1, 1))
		assert.False(t, isFrontier(t, c, m, origin))
	})
}

// A free face neighbour is invisible in corner mode. This documents the
// corner-only behaviour; full26 is the opt-in alternative.
func TestIsFrontier_CornerOnlyIgnoresFaceNeighbours(t *testing.T) {
	m := newFrontierMap(t)
	origin := key(0, 0, 0)
	observe(t, m, false, origin, key(1, 0, 0))

	assert.False(t, isFrontier(t, NewClassifier(Unbounded()), m, origin))
	assert.True(t, isFrontier(t, Classifier{ROI: Unbounded(), Mode: NeighborFull26}, m, origin))
}

func TestFind_FiltersAndCounts(t *testing.T) {
	m := newFrontierMap(t)
	inside := key(0, 0, 0)
	outside := key(50, 0, 0)
	occupied := key(-5, 0, 0)
	missing := key(9, 9, 9)
	observe(t, m, false, inside, key(1, 1, 1), outside, key(51, 1, 1))
	observe(t, m, true, occupied)

	roi := Unbounded()
	roi.Max.X = 1.0
	c := NewClassifier(roi)

	changed := l3occupancy.NewKeySet(inside, outside, occupied, missing)
	var got l3occupancy.KeySet
	var st ClassifyStats
	require.NoError(t, m.WithRead(func(v l3occupancy.View) error {
		got, st = c.Find(v, changed)
		return nil
	}))

	if diff := cmp.Diff([]l3occupancy.Key{inside}, got.Sorted()); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, ClassifyStats{Examined: 4, OutsideROI: 1, Missing: 1, Occupied: 1, Candidates: 1}, st)
}

func TestBounds_ContainsInclusive(t *testing.T) {
	b := Bounds{Min: r3.Vec{X: -1, Y: -1, Z: 0}, Max: r3.Vec{X: 1, Y: 1, Z: 2}}
	assert.True(t, b.Contains(r3.Vec{X: 1, Y: -1, Z: 2}))
	assert.False(t, b.Contains(r3.Vec{X: 1.0001}))
	assert.True(t, Unbounded().Contains(r3.Vec{X: 1e9, Y: -1e9}))
}

func TestParseNeighborMode(t *testing.T) {
	m, err := ParseNeighborMode("full26")
	require.NoError(t, err)
	assert.Equal(t, NeighborFull26, m)
	assert.Equal(t, "full26", m.String())

	m, err = ParseNeighborMode("")
	require.NoError(t, err)
	assert.Equal(t, NeighborCorner, m)

	_, err = ParseNeighborMode("face6")
	assert.Error(t, err)
}
