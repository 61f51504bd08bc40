package l3occupancy

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegenerateRay is returned when origin and end quantise to different
// keys but the direction has no usable component.
var ErrDegenerateRay = errors.New("degenerate ray")

// ComputeRayKeys appends to ray the keys traversed by the segment from
// origin to end, starting with the origin's key and excluding the key
// containing end. The traversal is the incremental 3D DDA of Amanatides
// and Woo. If both points share a key the result is empty.
func (v View) ComputeRayKeys(origin, end r3.Vec, ray []Key) ([]Key, error) {
	return computeRayKeys(origin, end, v.m.params.Resolution, ray[:0])
}

func computeRayKeys(origin, end r3.Vec, res float64, ray []Key) ([]Key, error) {
	keyOrigin, err := CoordToKey(origin, res)
	if err != nil {
		return ray, fmt.Errorf("ray origin: %w", err)
	}
	keyEnd, err := CoordToKey(end, res)
	if err != nil {
		return ray, fmt.Errorf("ray end: %w", err)
	}
	if keyOrigin == keyEnd {
		return ray, nil
	}
	ray = append(ray, keyOrigin)

	diff := r3.Sub(end, origin)
	length := r3.Norm(diff)
	dir := r3.Scale(1/length, diff)

	o := [3]float64{origin.X, origin.Y, origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	cur := [3]int32{keyOrigin.X, keyOrigin.Y, keyOrigin.Z}
	last := [3]int32{keyEnd.X, keyEnd.Y, keyEnd.Z}

	var step [3]int32
	var tMax, tDelta [3]float64
	for i := 0; i < 3; i++ {
		switch {
		case d[i] > 0:
			step[i] = 1
		case d[i] < 0:
			step[i] = -1
		}
		if step[i] == 0 {
			tMax[i] = math.Inf(1)
			tDelta[i] = math.Inf(1)
			continue
		}
		border := (float64(cur[i])+0.5)*res + float64(step[i])*res*0.5
		tMax[i] = (border - o[i]) / d[i]
		tDelta[i] = res / math.Abs(d[i])
	}
	if step == [3]int32{} {
		return ray, fmt.Errorf("%w: %v -> %v", ErrDegenerateRay, origin, end)
	}

	for {
		dim := 0
		if tMax[1] < tMax[dim] {
			dim = 1
		}
		if tMax[2] < tMax[dim] {
			dim = 2
		}
		cur[dim] += step[dim]
		tMax[dim] += tDelta[dim]

		if cur == last {
			return ray, nil
		}
		// Past the endpoint without hitting its key (grazing a corner).
		if math.Min(tMax[0], math.Min(tMax[1], tMax[2])) > length {
			return ray, nil
		}
		ray = append(ray, Key{X: cur[0], Y: cur[1], Z: cur[2]})
	}
}
