package l5frontier

import (
	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
)

// ChangeTracker drains the change log of the frontier map. Creating a
// tracker enables change detection, so every mutation after construction
// is captured.
type ChangeTracker struct {
	m *l3occupancy.OccupancyMap
}

// NewChangeTracker enables change detection on m.
func NewChangeTracker(m *l3occupancy.OccupancyMap) *ChangeTracker {
	_ = m.WithWrite(func(e l3occupancy.Editor) error {
		e.EnableChangeDetection(true)
		return nil
	})
	return &ChangeTracker{m: m}
}

// Drain returns the keys changed since the previous drain and resets the log.
func (t *ChangeTracker) Drain() l3occupancy.KeySet {
	var changed l3occupancy.KeySet
	_ = t.m.WithWrite(func(e l3occupancy.Editor) error {
		changed = e.ChangedKeys()
		e.ResetChangeDetection()
		return nil
	})
	tracef("drained %d changed keys", changed.Len())
	return changed
}
