package l3occupancy

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestComputeRayKeys_StraightLineExcludesEndpoint(t *testing.T) {
	end := KeyToCoord(Key{10, 0, 0}, 0.1)
	ray, err := computeRayKeys(r3.Vec{}, end, 0.1, nil)
	require.NoError(t, err)

	want := make([]Key, 0, 10)
	for x := int32(0); x < 10; x++ {
		want = append(want, Key{x, 0, 0})
	}
	if diff := cmp.Diff(want, ray); diff != "" {
		t.Errorf("ray mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeRayKeys_NegativeDirection(t *testing.T) {
	end := KeyToCoord(Key{-3, 0, 0}, 0.1)
	ray, err := computeRayKeys(r3.Vec{X: 0.05, Y: 0.05, Z: 0.05}, end, 0.1, nil)
	require.NoError(t, err)
	assert.Equal(t, []Key{{0, 0, 0}, {-1, 0, 0}, {-2, 0, 0}}, ray)
}

func TestComputeRayKeys_SameCellIsEmpty(t *testing.T) {
	ray, err := computeRayKeys(r3.Vec{X: 0.01}, r3.Vec{X: 0.09}, 0.1, nil)
	require.NoError(t, err)
	assert.Empty(t, ray)
}

func TestComputeRayKeys_DiagonalIsFaceConnected(t *testing.T) {
	origin := r3.Vec{X: 0.05, Y: 0.05, Z: 0.05}
	end := KeyToCoord(Key{4, 3, 2}, 0.1)
	ray, err := computeRayKeys(origin, end, 0.1, nil)
	require.NoError(t, err)
	require.NotEmpty(t, ray)
	assert.Equal(t, Key{0, 0, 0}, ray[0])

	// Each step moves exactly one cell along one axis.
	for i := 1; i < len(ray); i++ {
		d := abs32(ray[i].X-ray[i-1].X) + abs32(ray[i].Y-ray[i-1].Y) + abs32(ray[i].Z-ray[i-1].Z)
		assert.Equal(t, int32(1), d, "step %d: %v -> %v", i, ray[i-1], ray[i])
	}
	lastStep := ray[len(ray)-1]
	d := abs32(4-lastStep.X) + abs32(3-lastStep.Y) + abs32(2-lastStep.Z)
	assert.Equal(t, int32(1), d, "ray must end adjacent to the endpoint")
	assert.Len(t, ray, 9)
}

func TestComputeRayKeys_OutOfBounds(t *testing.T) {
	_, err := computeRayKeys(r3.Vec{}, r3.Vec{X: 1e12}, 0.1, nil)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestView_ComputeRayKeysReusesBuffer(t *testing.T) {
	m := newTestMap(t, 0)
	buf := make([]Key, 0, 32)
	require.NoError(t, m.WithRead(func(v View) error {
		ray, err := v.ComputeRayKeys(r3.Vec{}, r3.Vec{X: 0.55}, buf)
		require.NoError(t, err)
		assert.Len(t, ray, 5)
		ray, err = v.ComputeRayKeys(r3.Vec{}, r3.Vec{X: 0.25}, ray)
		require.NoError(t, err)
		assert.Len(t, ray, 2)
		return nil
	}))
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
