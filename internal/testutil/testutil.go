// Package testutil provides shared test fixtures for frames and key sets.
package testutil

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frontier.map/internal/lidar/l2cloud"
	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
)

// FrameStamp is the acquisition time used by fixture frames.
var FrameStamp = time.Unix(100, 0)

// PointsFrame builds a 1×n frame in sensorFrame holding pts.
func PointsFrame(id, sensorFrame string, pts ...r3.Vec) *l2cloud.Frame {
	f := l2cloud.NewFrame(id, sensorFrame, FrameStamp, len(pts), 1)
	for i, p := range pts {
		f.Set(0, i, p)
	}
	return f
}

// WallFrame builds a w×h frame of points on the plane x = dist, spread
// over the square [-half, half] in y and z.
func WallFrame(id, sensorFrame string, dist, half float64, w, h int) *l2cloud.Frame {
	f := l2cloud.NewFrame(id, sensorFrame, FrameStamp, w, h)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			y := -half + 2*half*(float64(col)+0.5)/float64(w)
			z := -half + 2*half*(float64(row)+0.5)/float64(h)
			f.Set(row, col, r3.Vec{X: dist, Y: y, Z: z})
		}
	}
	return f
}

// XKeys returns keys (x, 0, 0) for x in [from, to].
func XKeys(from, to int32) []l3occupancy.Key {
	var out []l3occupancy.Key
	for x := from; x <= to; x++ {
		out = append(out, l3occupancy.Key{X: x})
	}
	return out
}

// AssertKeys reports a diff when got does not equal want. Both are
// expected in key order.
func AssertKeys(t testing.TB, want, got []l3occupancy.Key) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d (%s), want %d (%s)", got, http.StatusText(got), want, http.StatusText(want))
	}
}
