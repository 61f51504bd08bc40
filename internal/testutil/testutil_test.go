package testutil

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frontier.map/internal/lidar/l2cloud"
	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
)

func TestPointsFrame(t *testing.T) {
	f := PointsFrame("f", "lidar", r3.Vec{X: 1}, r3.Vec{Y: 2})
	assert.Equal(t, 2, f.Width)
	assert.Equal(t, 1, f.Height)
	assert.Equal(t, "lidar", f.SensorFrame)
	assert.Equal(t, FrameStamp, f.Stamp)
	assert.Equal(t, []r3.Vec{{X: 1}, {Y: 2}}, f.Points)
}

func TestWallFrame(t *testing.T) {
	f := WallFrame("wall", "map", 2, 1, 4, 3)
	assert.Len(t, f.Points, 12)
	for _, p := range f.Points {
		assert.True(t, l2cloud.IsValidPoint(p))
		assert.Equal(t, 2.0, p.X)
		assert.Less(t, p.Y, 1.0)
		assert.Greater(t, p.Y, -1.0)
		assert.Less(t, p.Z, 1.0)
		assert.Greater(t, p.Z, -1.0)
	}
	assert.InDelta(t, -0.75, f.Points[0].Y, 1e-12)
}

func TestXKeys(t *testing.T) {
	assert.Equal(t, []l3occupancy.Key{{X: -1}, {X: 0}, {X: 1}}, XKeys(-1, 1))
	assert.Nil(t, XKeys(2, 1))
}

func TestAssertHelpers_Pass(t *testing.T) {
	AssertKeys(t, XKeys(0, 2), XKeys(0, 2))
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

type recordingTB struct {
	testing.TB
	errors int
}

func (r *recordingTB) Helper()                                  {}
func (r *recordingTB) Errorf(format string, args ...interface{}) { r.errors++ }

func TestAssertHelpers_Fail(t *testing.T) {
	rec := &recordingTB{TB: t}
	AssertKeys(rec, XKeys(0, 2), XKeys(0, 3))
	AssertStatusCode(rec, http.StatusNotFound, http.StatusOK)
	assert.Equal(t, 2, rec.errors)
}
