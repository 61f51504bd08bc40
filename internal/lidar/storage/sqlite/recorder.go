package sqlite

import (
	"fmt"
	"sync"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
	"github.com/banshee-data/frontier.map/internal/lidar/pipeline"
)

// DefaultSnapshotEvery is the number of applied frames between frontier
// snapshots.
const DefaultSnapshotEvery = 50

// Recorder implements pipeline.PersistenceSink for one run.
type Recorder struct {
	store         *RunStore
	runID         string
	snapshotEvery int

	mu       sync.Mutex
	applied  int
	lastSeq  uint64
	lastKeys []l3occupancy.Key
	dirty    bool
}

var _ pipeline.PersistenceSink = (*Recorder)(nil)

// NewRecorder records frames into runID. snapshotEvery <= 0 uses
// DefaultSnapshotEvery.
func NewRecorder(store *RunStore, runID string, snapshotEvery int) *Recorder {
	if snapshotEvery <= 0 {
		snapshotEvery = DefaultSnapshotEvery
	}
	return &Recorder{store: store, runID: runID, snapshotEvery: snapshotEvery}
}

// RunID returns the run being recorded.
func (r *Recorder) RunID() string { return r.runID }

// RecordFrame stores the report. Every snapshotEvery applied frames the
// frontier is snapshotted as well.
func (r *Recorder) RecordFrame(report *pipeline.FrameReport, frontier []l3occupancy.Key) error {
	if err := r.store.InsertFrame(r.runID, report); err != nil {
		return fmt.Errorf("record frame %s: %w", report.FrameID, err)
	}
	if !report.Status.Applied() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied++
	r.lastSeq = report.Seq
	r.lastKeys = frontier
	r.dirty = true
	if r.applied%r.snapshotEvery != 0 {
		return nil
	}
	return r.snapshotLocked()
}

// Close writes a final snapshot if frames arrived since the last one and
// marks the run finished.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.snapshotLocked(); err != nil {
		return err
	}
	return r.store.FinishRun(r.runID, len(r.lastKeys))
}

func (r *Recorder) snapshotLocked() error {
	if !r.dirty {
		return nil
	}
	if err := r.store.InsertSnapshot(r.runID, r.lastSeq, r.lastKeys); err != nil {
		return fmt.Errorf("snapshot at seq %d: %w", r.lastSeq, err)
	}
	r.dirty = false
	return nil
}
