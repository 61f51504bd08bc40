package l2cloud

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func assertVecNear(t *testing.T, want, got r3.Vec, msgAndArgs ...interface{}) {
	t.Helper()
	msg := fmt.Sprint(msgAndArgs...)
	assert.InDelta(t, want.X, got.X, 1e-9, "X %s", msg)
	assert.InDelta(t, want.Y, got.Y, 1e-9, "Y %s", msg)
	assert.InDelta(t, want.Z, got.Z, 1e-9, "Z %s", msg)
}

func TestIdentityTransform(t *testing.T) {
	id := IdentityTransform()
	p := r3.Vec{X: 1.5, Y: -2, Z: 3}
	assertVecNear(t, p, id.Apply(p))
	assertVecNear(t, r3.Vec{}, id.Origin())

	var zero Transform
	assertVecNear(t, p, zero.Apply(p))
}

func TestNewTransform(t *testing.T) {
	tf, err := NewTransform([16]float64{
		0, -1, 0, 10,
		1, 0, 0, 20,
		0, 0, 1, 30,
		0, 0, 0, 1,
	})
	require.NoError(t, err)
	assertVecNear(t, r3.Vec{X: 10, Y: 21, Z: 30}, tf.Apply(r3.Vec{X: 1}))
	assertVecNear(t, r3.Vec{X: 10, Y: 20, Z: 30}, tf.Origin())
}

func TestNewTransform_Rejects(t *testing.T) {
	tests := []struct {
		name string
		m    [16]float64
	}{
		{"scaled", [16]float64{2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 1}},
		{"bad last row", [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 1, 0, 0, 1}},
		{"nan", [16]float64{math.NaN(), 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}},
		{"reflection", [16]float64{-1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTransform(tt.m)
			assert.Error(t, err)
		})
	}
}

func TestYawTransform(t *testing.T) {
	tf := YawTransform(math.Pi/2, r3.Vec{X: 1, Y: 1, Z: 1})
	assertVecNear(t, r3.Vec{X: 1, Y: 3, Z: 1}, tf.Apply(r3.Vec{X: 2}))
}

func TestBufferResolver(t *testing.T) {
	base := time.Unix(1000, 0)
	r := NewBufferResolver("map")

	_, err := r.Lookup("map", "sensor", base)
	assert.ErrorIs(t, err, ErrNoTransform)

	r.SetStatic("sensor", YawTransform(0, r3.Vec{X: 5}))
	got, err := r.Lookup("map", "sensor", base)
	require.NoError(t, err)
	assertVecNear(t, r3.Vec{X: 5}, got.Origin())

	_, err = r.Lookup("odom", "sensor", base)
	assert.ErrorIs(t, err, ErrNoTransform, "wrong target")

	r.Add("sensor", base.Add(100*time.Millisecond), YawTransform(0, r3.Vec{Y: 1}))
	r.Add("sensor", base.Add(200*time.Millisecond), YawTransform(0, r3.Vec{Y: 2}))

	got, err = r.Lookup("map", "sensor", base.Add(190*time.Millisecond))
	require.NoError(t, err)
	assertVecNear(t, r3.Vec{Y: 2}, got.Origin(), "nearest stamped entry")

	got, err = r.Lookup("map", "sensor", base.Add(120*time.Millisecond))
	require.NoError(t, err)
	assertVecNear(t, r3.Vec{Y: 1}, got.Origin())

	got, err = r.Lookup("map", "sensor", base.Add(time.Second))
	require.NoError(t, err)
	assertVecNear(t, r3.Vec{X: 5}, got.Origin(), "falls back to static outside tolerance")
}

func TestBufferResolver_Capacity(t *testing.T) {
	base := time.Unix(0, 0)
	r := NewBufferResolver("map")
	r.Capacity = 2
	r.Tolerance = 0
	for i := 0; i < 4; i++ {
		r.Add("s", base.Add(time.Duration(i)*time.Second), YawTransform(0, r3.Vec{X: float64(i)}))
	}
	_, err := r.Lookup("map", "s", base)
	assert.ErrorIs(t, err, ErrNoTransform, "oldest entry evicted")

	got, err := r.Lookup("map", "s", base.Add(3*time.Second))
	require.NoError(t, err)
	assertVecNear(t, r3.Vec{X: 3}, got.Origin())
}

func TestResolverFunc(t *testing.T) {
	called := false
	var r TransformResolver = ResolverFunc(func(target, source string, _ time.Time) (Transform, error) {
		called = true
		assert.Equal(t, "map", target)
		assert.Equal(t, "cam", source)
		return IdentityTransform(), nil
	})
	_, err := r.Lookup("map", "cam", time.Time{})
	require.NoError(t, err)
	assert.True(t, called)
}
