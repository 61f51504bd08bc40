package l2cloud

import (
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// SyntheticScanner generates organised depth frames of an empty box room
// seen by a sensor that yaws in place. Used for demos and tests.
type SyntheticScanner struct {
	frameSeq    atomic.Uint64
	sensorFrame string

	// Configuration
	Width           int     // columns per frame
	Height          int     // rows per frame
	HFOV            float64 // horizontal field of view, radians
	VFOV            float64 // vertical field of view, radians
	RoomMin         r3.Vec  // room interior lower corner, map frame
	RoomMax         r3.Vec  // room interior upper corner, map frame
	Origin          r3.Vec  // sensor position, map frame
	YawStep         float64 // yaw advance per frame, radians
	DropoutFraction float64 // fraction of returns replaced by NaN

	rng *rand.Rand
}

// NewSyntheticScanner creates a scanner with a 64×48 sensor in a 10×8×3 m room.
func NewSyntheticScanner(sensorFrame string, seed int64) *SyntheticScanner {
	return &SyntheticScanner{
		sensorFrame:     sensorFrame,
		Width:           64,
		Height:          48,
		HFOV:            math.Pi / 2,
		VFOV:            math.Pi / 3,
		RoomMin:         r3.Vec{X: -5, Y: -4, Z: 0},
		RoomMax:         r3.Vec{X: 5, Y: 4, Z: 3},
		Origin:          r3.Vec{X: 0, Y: 0, Z: 1.2},
		YawStep:         math.Pi / 16,
		DropoutFraction: 0.02,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// NextFrame returns the next frame and the sensor→map transform at its stamp.
func (s *SyntheticScanner) NextFrame(stamp time.Time) (*Frame, Transform) {
	seq := s.frameSeq.Add(1)
	yaw := float64(seq-1) * s.YawStep
	tf := YawTransform(yaw, s.Origin)

	f := NewFrame(fmt.Sprintf("synthetic-%06d", seq), s.sensorFrame, stamp, s.Width, s.Height)
	for row := 0; row < s.Height; row++ {
		pitch := s.VFOV/2 - s.VFOV*float64(row)/float64(max(s.Height-1, 1))
		for col := 0; col < s.Width; col++ {
			if s.DropoutFraction > 0 && s.rng.Float64() < s.DropoutFraction {
				continue
			}
			az := s.HFOV/2 - s.HFOV*float64(col)/float64(max(s.Width-1, 1))
			dir := r3.Vec{
				X: math.Cos(pitch) * math.Cos(az),
				Y: math.Cos(pitch) * math.Sin(az),
				Z: math.Sin(pitch),
			}
			mapDir := r3.Sub(tf.Apply(dir), tf.Origin())
			t := s.roomHit(mapDir)
			if math.IsInf(t, 1) {
				continue
			}
			f.Set(row, col, r3.Scale(t, dir))
		}
	}
	return f, tf
}

// roomHit returns the distance along unit dir from Origin to the room walls.
func (s *SyntheticScanner) roomHit(dir r3.Vec) float64 {
	o := [3]float64{s.Origin.X, s.Origin.Y, s.Origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	lo := [3]float64{s.RoomMin.X, s.RoomMin.Y, s.RoomMin.Z}
	hi := [3]float64{s.RoomMax.X, s.RoomMax.Y, s.RoomMax.Z}
	best := math.Inf(1)
	for i := 0; i < 3; i++ {
		var t float64
		switch {
		case d[i] > 0:
			t = (hi[i] - o[i]) / d[i]
		case d[i] < 0:
			t = (lo[i] - o[i]) / d[i]
		default:
			continue
		}
		if t > 0 && t < best {
			best = t
		}
	}
	return best
}
