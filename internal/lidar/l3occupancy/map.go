package l3occupancy

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrCapacity is returned by Editor updates that would create a voxel
// beyond the configured MaxVoxels.
var ErrCapacity = errors.New("voxel map capacity exceeded")

// State is the tri-state occupancy of a voxel.
type State uint8

const (
	// Unknown voxels have never been observed and are absent from the map.
	Unknown State = iota
	// Free voxels are present with evidence below the occupancy threshold.
	Free
	// Occupied voxels are present with evidence at or above the threshold.
	Occupied
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Occupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// OccupancyMap is a sparse voxel map of clamped log-odds evidence.
//
// All access goes through WithRead (shared) or WithWrite (exclusive).
// Voxels are never removed: the map only grows or has evidence updated.
type OccupancyMap struct {
	mu     sync.RWMutex
	params Params

	hitLog  float32
	missLog float32
	minLog  float32
	maxLog  float32
	occLog  float32

	// MaxVoxels bounds the number of voxels; zero means unbounded.
	maxVoxels int

	nodes map[Key]float32

	// changed maps a key to true when the voxel was created and false when
	// an existing voxel flipped between free and occupied.
	changeDetection bool
	changed         map[Key]bool
}

// New creates an empty map. maxVoxels of zero leaves the map unbounded.
func New(p Params, maxVoxels int) (*OccupancyMap, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid occupancy params: %w", err)
	}
	if maxVoxels < 0 {
		return nil, fmt.Errorf("max voxels must be non-negative, got %d", maxVoxels)
	}
	return &OccupancyMap{
		params:    p,
		hitLog:    LogOdds(p.ProbHit),
		missLog:   LogOdds(p.ProbMiss),
		minLog:    LogOdds(p.ClampMin),
		maxLog:    LogOdds(p.ClampMax),
		occLog:    LogOdds(p.OccupancyThreshold),
		maxVoxels: maxVoxels,
		nodes:     make(map[Key]float32),
		changed:   make(map[Key]bool),
	}, nil
}

// WithRead runs fn holding the shared read lock.
func (m *OccupancyMap) WithRead(fn func(v View) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(View{m: m})
}

// WithWrite runs fn holding the exclusive write lock. The lock is released
// on every exit path, including a panic inside fn.
func (m *OccupancyMap) WithWrite(fn func(e Editor) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(Editor{View: View{m: m}})
}

// Params returns the construction parameters.
func (m *OccupancyMap) Params() Params { return m.params }

// Resolution returns the cell edge length.
func (m *OccupancyMap) Resolution() float64 { return m.params.Resolution }

// State returns the occupancy of k under a short read lock.
func (m *OccupancyMap) State(k Key) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return View{m: m}.State(k)
}

// Len returns the number of known voxels under a short read lock.
func (m *OccupancyMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// View is read-only access to a locked map. It must not escape the
// WithRead or WithWrite callback that produced it.
type View struct {
	m *OccupancyMap
}

// Resolution returns the cell edge length.
func (v View) Resolution() float64 { return v.m.params.Resolution }

// CoordToKey quantises p at the map resolution.
func (v View) CoordToKey(p r3.Vec) (Key, error) { return CoordToKey(p, v.m.params.Resolution) }

// KeyToCoord returns the centre of k.
func (v View) KeyToCoord(k Key) r3.Vec { return KeyToCoord(k, v.m.params.Resolution) }

// Search returns the log-odds of k and whether it is known.
func (v View) Search(k Key) (float32, bool) {
	l, ok := v.m.nodes[k]
	return l, ok
}

// IsOccupied applies the occupancy threshold to a log-odds value.
func (v View) IsOccupied(logOdds float32) bool { return logOdds >= v.m.occLog }

// State returns the tri-state occupancy of k.
func (v View) State(k Key) State {
	l, ok := v.m.nodes[k]
	switch {
	case !ok:
		return Unknown
	case l >= v.m.occLog:
		return Occupied
	default:
		return Free
	}
}

// Len returns the number of known voxels.
func (v View) Len() int { return len(v.m.nodes) }

// Each calls fn for every known voxel in unspecified order until fn
// returns false.
func (v View) Each(fn func(k Key, logOdds float32) bool) {
	for k, l := range v.m.nodes {
		if !fn(k, l) {
			return
		}
	}
}

// ClampMinLogOdds returns the lower evidence bound.
func (v View) ClampMinLogOdds() float32 { return v.m.minLog }

// ClampMaxLogOdds returns the upper evidence bound.
func (v View) ClampMaxLogOdds() float32 { return v.m.maxLog }

// ChangeDetection reports whether change detection is enabled.
func (v View) ChangeDetection() bool { return v.m.changeDetection }

// ChangedKeys returns a copy of the change log keys.
func (v View) ChangedKeys() KeySet {
	out := make(KeySet, len(v.m.changed))
	for k := range v.m.changed {
		out[k] = struct{}{}
	}
	return out
}

// Editor is mutating access to a write-locked map.
type Editor struct {
	View
}

// UpdateNode integrates a hit (occupied) or miss observation for k.
func (e Editor) UpdateNode(k Key, occupied bool) (float32, error) {
	if occupied {
		return e.UpdateLogOdds(k, e.m.hitLog)
	}
	return e.UpdateLogOdds(k, e.m.missLog)
}

// ForceClampMin drives k to the lower clamp bound regardless of its prior
// evidence. Unknown voxels are created at the bound.
func (e Editor) ForceClampMin(k Key) (float32, error) {
	return e.UpdateLogOdds(k, e.m.minLog-e.m.maxLog)
}

// UpdateLogOdds adds delta to the evidence of k, clamping to the configured
// bounds and recording the change when change detection is enabled.
func (e Editor) UpdateLogOdds(k Key, delta float32) (float32, error) {
	m := e.m
	prev, existed := m.nodes[k]
	if !existed && m.maxVoxels > 0 && len(m.nodes) >= m.maxVoxels {
		return 0, fmt.Errorf("%w: %d voxels, inserting %v", ErrCapacity, len(m.nodes), k)
	}

	next := prev + delta
	if next < m.minLog {
		next = m.minLog
	} else if next > m.maxLog {
		next = m.maxLog
	}
	m.nodes[k] = next

	if !m.changeDetection {
		return next, nil
	}
	if !existed {
		m.changed[k] = true
		return next, nil
	}
	if (prev >= m.occLog) != (next >= m.occLog) {
		created, tracked := m.changed[k]
		switch {
		case !tracked:
			m.changed[k] = false
		case !created:
			// Flipped back within the same window; nothing changed overall.
			delete(m.changed, k)
		}
	}
	return next, nil
}

// EnableChangeDetection switches change recording on or off. Disabling
// does not clear the log.
func (e Editor) EnableChangeDetection(on bool) { e.m.changeDetection = on }

// ResetChangeDetection clears the change log.
func (e Editor) ResetChangeDetection() { clear(e.m.changed) }
