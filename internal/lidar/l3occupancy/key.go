package l3occupancy

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrOutOfBounds is returned when a coordinate cannot be quantised into
// the int32 key space (including NaN and infinite coordinates).
var ErrOutOfBounds = errors.New("coordinate outside key space")

// Key identifies a cubic cell of edge length Params.Resolution.
type Key struct {
	X, Y, Z int32
}

// Offset returns the key displaced by (dx, dy, dz) cells.
func (k Key) Offset(dx, dy, dz int32) Key {
	return Key{X: k.X + dx, Y: k.Y + dy, Z: k.Z + dz}
}

func (k Key) String() string {
	return fmt.Sprintf("(%d,%d,%d)", k.X, k.Y, k.Z)
}

// CompareKeys orders keys by X, then Y, then Z.
func CompareKeys(a, b Key) int {
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Y, b.Y); c != 0 {
		return c
	}
	return cmp.Compare(a.Z, b.Z)
}

// CoordToKey quantises p with floor division by res.
func CoordToKey(p r3.Vec, res float64) (Key, error) {
	x, err := quantise(p.X, res)
	if err != nil {
		return Key{}, err
	}
	y, err := quantise(p.Y, res)
	if err != nil {
		return Key{}, err
	}
	z, err := quantise(p.Z, res)
	if err != nil {
		return Key{}, err
	}
	return Key{X: x, Y: y, Z: z}, nil
}

func quantise(c, res float64) (int32, error) {
	f := math.Floor(c / res)
	if math.IsNaN(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %v at resolution %v", ErrOutOfBounds, c, res)
	}
	return int32(f), nil
}

// KeyToCoord returns the centre of the cell identified by k.
func KeyToCoord(k Key, res float64) r3.Vec {
	return r3.Vec{
		X: (float64(k.X) + 0.5) * res,
		Y: (float64(k.Y) + 0.5) * res,
		Z: (float64(k.Z) + 0.5) * res,
	}
}

// KeySet is an unordered set of voxel keys.
type KeySet map[Key]struct{}

// NewKeySet returns a set holding keys.
func NewKeySet(keys ...Key) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Add inserts k.
func (s KeySet) Add(k Key) { s[k] = struct{}{} }

// Has reports whether k is a member.
func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// Remove deletes k if present.
func (s KeySet) Remove(k Key) { delete(s, k) }

// Len returns the number of members.
func (s KeySet) Len() int { return len(s) }

// AddAll inserts every member of other.
func (s KeySet) AddAll(other KeySet) {
	for k := range other {
		s[k] = struct{}{}
	}
}

// AddSlice inserts every key in keys.
func (s KeySet) AddSlice(keys []Key) {
	for _, k := range keys {
		s[k] = struct{}{}
	}
}

// RemoveAll deletes every member of other.
func (s KeySet) RemoveAll(other KeySet) {
	for k := range other {
		delete(s, k)
	}
}

// Clone returns an independent copy.
func (s KeySet) Clone() KeySet {
	out := make(KeySet, len(s))
	out.AddAll(s)
	return out
}

// Sorted returns the members ordered by CompareKeys.
func (s KeySet) Sorted() []Key {
	out := make([]Key, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.SortFunc(out, CompareKeys)
	return out
}
