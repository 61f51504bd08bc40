package l2cloud

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// PointClass is the body-mask classification of a single point.
type PointClass uint8

const (
	// ClassExternal points lie on the environment and mark occupied space.
	ClassExternal PointClass = iota
	// ClassOwnBody points fall inside the robot's own geometry.
	ClassOwnBody
	// ClassClipped points are outside the usable sensing range.
	ClassClipped
)

func (c PointClass) String() string {
	switch c {
	case ClassExternal:
		return "external"
	case ClassOwnBody:
		return "own-body"
	case ClassClipped:
		return "clipped"
	default:
		return "invalid"
	}
}

// PointClassifier classifies a map-frame point observed from origin.
// Implementations must be safe for concurrent use.
type PointClassifier interface {
	Classify(p, origin r3.Vec, maxRange float64) PointClass
}

// ClassifierFunc adapts a function to PointClassifier.
type ClassifierFunc func(p, origin r3.Vec, maxRange float64) PointClass

// Classify implements PointClassifier.
func (f ClassifierFunc) Classify(p, origin r3.Vec, maxRange float64) PointClass {
	return f(p, origin, maxRange)
}

// ShapeHandle identifies a shape registered with a BodyMask. Zero is never
// a valid handle.
type ShapeHandle uint32

// Box is an axis-aligned box in the map frame.
type Box struct {
	Center      r3.Vec
	HalfExtents r3.Vec
}

// BodyMask classifies points against a set of padded boxes describing the
// robot body. Points farther than maxRange from the origin, or closer than
// MinRange, are clipped before any containment test.
type BodyMask struct {
	mu      sync.RWMutex
	shapes  map[ShapeHandle]Box
	next    ShapeHandle
	padding float64 // metres added to each half extent
	scale   float64 // multiplier applied to each half extent before padding

	// MinRange clips returns closer than this to the origin.
	MinRange float64
}

// NewBodyMask creates an empty mask. A non-positive scale is treated as 1.
func NewBodyMask(padding, scale float64) *BodyMask {
	if scale <= 0 {
		scale = 1
	}
	return &BodyMask{
		shapes:  make(map[ShapeHandle]Box),
		padding: padding,
		scale:   scale,
	}
}

// AddBox registers b and returns its handle.
func (m *BodyMask) AddBox(b Box) ShapeHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.shapes[m.next] = b
	return m.next
}

// UpdateBox moves a registered shape. It reports whether h was known.
func (m *BodyMask) UpdateBox(h ShapeHandle, b Box) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shapes[h]; !ok {
		return false
	}
	m.shapes[h] = b
	return true
}

// RemoveShape forgets h. Unknown handles are ignored.
func (m *BodyMask) RemoveShape(h ShapeHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shapes, h)
}

// Len returns the number of registered shapes.
func (m *BodyMask) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.shapes)
}

// Classify implements PointClassifier.
func (m *BodyMask) Classify(p, origin r3.Vec, maxRange float64) PointClass {
	d := r3.Norm(r3.Sub(p, origin))
	if d < m.MinRange || (maxRange > 0 && !math.IsInf(maxRange, 1) && d > maxRange) {
		return ClassClipped
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.shapes {
		if m.contains(b, p) {
			return ClassOwnBody
		}
	}
	return ClassExternal
}

func (m *BodyMask) contains(b Box, p r3.Vec) bool {
	hx := b.HalfExtents.X*m.scale + m.padding
	hy := b.HalfExtents.Y*m.scale + m.padding
	hz := b.HalfExtents.Z*m.scale + m.padding
	return math.Abs(p.X-b.Center.X) <= hx &&
		math.Abs(p.Y-b.Center.Y) <= hy &&
		math.Abs(p.Z-b.Center.Z) <= hz
}
