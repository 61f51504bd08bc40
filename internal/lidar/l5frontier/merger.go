package l5frontier

import (
	"fmt"
	"sync"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
)

// StalePolicy decides what happens to a frontier member that is no longer
// present in the frontier map.
type StalePolicy uint8

const (
	// LeaveStale logs the inconsistency and keeps the member.
	LeaveStale StalePolicy = iota
	// StrictRemoval removes the member.
	StrictRemoval
)

func (p StalePolicy) String() string {
	switch p {
	case LeaveStale:
		return "leave-stale"
	case StrictRemoval:
		return "strict-removal"
	default:
		return fmt.Sprintf("StalePolicy(%d)", uint8(p))
	}
}

// ParseStalePolicy parses "leave-stale" or "strict-removal".
func ParseStalePolicy(s string) (StalePolicy, error) {
	switch s {
	case "leave-stale", "":
		return LeaveStale, nil
	case "strict-removal":
		return StrictRemoval, nil
	}
	return 0, fmt.Errorf("unknown stale frontier policy %q", s)
}

// MergeResult summarises one merge.
type MergeResult struct {
	Removed int // members dropped by re-evaluation
	Added   int // candidates not previously members
	Stale   int // members absent from the map
	Size    int // persistent set size afterwards
}

// Merger owns the persistent frontier set. The set changes only through
// Merge: remove members that no longer qualify, then add new candidates.
type Merger struct {
	classifier Classifier
	policy     StalePolicy

	mu  sync.RWMutex
	set l3occupancy.KeySet
}

// NewMerger creates an empty frontier set re-validated with classifier.
func NewMerger(classifier Classifier, policy StalePolicy) *Merger {
	return &Merger{
		classifier: classifier,
		policy:     policy,
		set:        l3occupancy.NewKeySet(),
	}
}

// Merge re-evaluates every member against v (the frontier map) and folds in
// candidates. It returns the removed keys alongside the summary.
func (m *Merger) Merge(v l3occupancy.View, candidates l3occupancy.KeySet) (MergeResult, l3occupancy.KeySet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removals := l3occupancy.NewKeySet()
	var res MergeResult
	for k := range m.set {
		l, ok := v.Search(k)
		switch {
		case !ok:
			res.Stale++
			opsf("frontier member %v missing from frontier map (%s)", k, m.policy)
			if m.policy == StrictRemoval {
				removals.Add(k)
			}
		case v.IsOccupied(l):
			removals.Add(k)
		case !m.classifier.neighboursQualify(v, k):
			removals.Add(k)
		}
	}
	m.set.RemoveAll(removals)
	for k := range candidates {
		if !m.set.Has(k) {
			res.Added++
		}
	}
	m.set.AddAll(candidates)

	res.Removed = removals.Len()
	res.Size = m.set.Len()
	diagf("merge: removed=%d added=%d stale=%d size=%d", res.Removed, res.Added, res.Stale, res.Size)
	return res, removals
}

// Len returns the persistent set size.
func (m *Merger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.Len()
}

// Has reports whether k is a frontier member.
func (m *Merger) Has(k l3occupancy.Key) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.Has(k)
}

// Snapshot returns the members in key order.
func (m *Merger) Snapshot() []l3occupancy.Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.Sorted()
}

// Policy returns the stale policy.
func (m *Merger) Policy() StalePolicy { return m.policy }
