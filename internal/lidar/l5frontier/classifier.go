package l5frontier

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
)

// Bounds is an inclusive axis-aligned region of interest in map coordinates.
type Bounds struct {
	Min r3.Vec
	Max r3.Vec
}

// Unbounded returns a region that contains every finite point.
func Unbounded() Bounds {
	inf := math.Inf(1)
	return Bounds{
		Min: r3.Vec{X: -inf, Y: -inf, Z: -inf},
		Max: r3.Vec{X: inf, Y: inf, Z: inf},
	}
}

// Contains reports whether p lies inside b, boundaries included.
func (b Bounds) Contains(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// NeighborMode selects the neighbourhood consulted by the frontier test.
type NeighborMode uint8

const (
	// NeighborCorner checks only the 8 diagonal corners (±1,±1,±1).
	NeighborCorner NeighborMode = iota
	// NeighborFull26 checks all face, edge and corner neighbours.
	NeighborFull26
)

func (m NeighborMode) String() string {
	switch m {
	case NeighborCorner:
		return "corner"
	case NeighborFull26:
		return "full26"
	default:
		return fmt.Sprintf("NeighborMode(%d)", uint8(m))
	}
}

// ParseNeighborMode parses "corner" or "full26".
func ParseNeighborMode(s string) (NeighborMode, error) {
	switch s {
	case "corner", "":
		return NeighborCorner, nil
	case "full26":
		return NeighborFull26, nil
	}
	return 0, fmt.Errorf("unknown neighbor mode %q", s)
}

var (
	cornerOffsets = buildOffsets(true)
	full26Offsets = buildOffsets(false)
)

// buildOffsets enumerates the unit offsets around a voxel. With cornersOnly
// any offset with a zero component is skipped.
func buildOffsets(cornersOnly bool) [][3]int32 {
	var out [][3]int32
	for x := int32(-1); x <= 1; x++ {
		for y := int32(-1); y <= 1; y++ {
			for z := int32(-1); z <= 1; z++ {
				if x == 0 && y == 0 && z == 0 {
					continue
				}
				if cornersOnly && (x == 0 || y == 0 || z == 0) {
					continue
				}
				out = append(out, [3]int32{x, y, z})
			}
		}
	}
	return out
}

// Offsets returns the neighbour offsets for m.
func (m NeighborMode) Offsets() [][3]int32 {
	if m == NeighborFull26 {
		return full26Offsets
	}
	return cornerOffsets
}

// ClassifyStats counts how changed keys were disposed of in one pass.
type ClassifyStats struct {
	Examined   int
	OutsideROI int
	Missing    int // changed but absent from the map
	Occupied   int
	Candidates int
}

// Classifier decides which voxels are frontier: known, not occupied, with
// at least one unknown and at least one known-free neighbour.
type Classifier struct {
	ROI  Bounds
	Mode NeighborMode
}

// NewClassifier returns a corner-neighbour classifier over roi.
func NewClassifier(roi Bounds) Classifier {
	return Classifier{ROI: roi, Mode: NeighborCorner}
}

// Find returns the frontier candidates among changed. v must be a view of
// the frontier map.
func (c Classifier) Find(v l3occupancy.View, changed l3occupancy.KeySet) (l3occupancy.KeySet, ClassifyStats) {
	out := l3occupancy.NewKeySet()
	var st ClassifyStats
	for k := range changed {
		st.Examined++
		if !c.ROI.Contains(v.KeyToCoord(k)) {
			st.OutsideROI++
			continue
		}
		l, ok := v.Search(k)
		if !ok {
			st.Missing++
			opsf("changed voxel %v missing from frontier map", k)
			continue
		}
		if v.IsOccupied(l) {
			st.Occupied++
			continue
		}
		if c.neighboursQualify(v, k) {
			out.Add(k)
		}
	}
	st.Candidates = out.Len()
	return out, st
}

// IsFrontier applies the frontier predicate to k without the ROI check.
func (c Classifier) IsFrontier(v l3occupancy.View, k l3occupancy.Key) bool {
	l, ok := v.Search(k)
	if !ok || v.IsOccupied(l) {
		return false
	}
	return c.neighboursQualify(v, k)
}

func (c Classifier) neighboursQualify(v l3occupancy.View, k l3occupancy.Key) bool {
	var hasUnknown, hasFree bool
	for _, o := range c.Mode.Offsets() {
		l, ok := v.Search(k.Offset(o[0], o[1], o[2]))
		switch {
		case !ok:
			hasUnknown = true
		case !v.IsOccupied(l):
			hasFree = true
		}
		if hasUnknown && hasFree {
			return true
		}
	}
	return false
}
