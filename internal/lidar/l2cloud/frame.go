package l2cloud

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Frame is one organised point cloud in the sensor frame. Points is
// row-major with len == Width*Height; entries may contain NaN components.
type Frame struct {
	FrameID     string    // e.g. "frame-000042"
	SensorFrame string    // coordinate frame of Points, e.g. "sensor/depth-01"
	Stamp       time.Time // acquisition time, used for transform lookup
	Width       int
	Height      int
	Points      []r3.Vec
}

// NewFrame allocates a Width×Height frame filled with NaN points.
func NewFrame(frameID, sensorFrame string, stamp time.Time, width, height int) *Frame {
	pts := make([]r3.Vec, width*height)
	nan := math.NaN()
	for i := range pts {
		pts[i] = r3.Vec{X: nan, Y: nan, Z: nan}
	}
	return &Frame{
		FrameID:     frameID,
		SensorFrame: sensorFrame,
		Stamp:       stamp,
		Width:       width,
		Height:      height,
		Points:      pts,
	}
}

// Validate checks the grid dimensions against the point slice.
func (f *Frame) Validate() error {
	if f.Width < 0 || f.Height < 0 {
		return fmt.Errorf("frame %s: negative dimensions %dx%d", f.FrameID, f.Width, f.Height)
	}
	if len(f.Points) != f.Width*f.Height {
		return fmt.Errorf("frame %s: %d points for %dx%d grid", f.FrameID, len(f.Points), f.Width, f.Height)
	}
	return nil
}

// At returns the point at (row, col).
func (f *Frame) At(row, col int) r3.Vec {
	return f.Points[row*f.Width+col]
}

// Set stores p at (row, col).
func (f *Frame) Set(row, col int, p r3.Vec) {
	f.Points[row*f.Width+col] = p
}

// IsValidPoint reports whether every component of p is finite. NaN and
// ±Inf returns are both treated as missing.
func IsValidPoint(p r3.Vec) bool {
	return finite(p.X) && finite(p.Y) && finite(p.Z)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// ValidPoints counts points that would be retained at the given stride.
func (f *Frame) ValidPoints(stride int) int {
	if stride < 1 {
		stride = 1
	}
	n := 0
	for row := 0; row < f.Height; row += stride {
		for col := 0; col < f.Width; col += stride {
			if IsValidPoint(f.At(row, col)) {
				n++
			}
		}
	}
	return n
}
