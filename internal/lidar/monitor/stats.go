package monitor

import (
	"sync"
	"time"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
	"github.com/banshee-data/frontier.map/internal/lidar/pipeline"
)

// DefaultHistory is the number of frame reports kept for charts.
const DefaultHistory = 600

// FrontierState is the latest published frontier.
type FrontierState struct {
	Seq        uint64
	FrameID    string
	MapFrame   string
	Resolution float64
	Keys       []l3occupancy.Key
	UpdatedAt  time.Time
}

// FrameHistory keeps a ring of recent frame reports and the latest
// frontier, safe for concurrent use.
type FrameHistory struct {
	mu       sync.RWMutex
	reports  []pipeline.FrameReport
	next     int
	full     bool
	frontier FrontierState
	started  time.Time
}

// NewFrameHistory creates a history holding up to capacity reports.
func NewFrameHistory(capacity int) *FrameHistory {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &FrameHistory{
		reports: make([]pipeline.FrameReport, capacity),
		started: time.Now(),
	}
}

// Add records one published update.
func (h *FrameHistory) Add(u *pipeline.FrontierUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var seq uint64
	if u.Report != nil {
		h.reports[h.next] = *u.Report
		h.next = (h.next + 1) % len(h.reports)
		if h.next == 0 {
			h.full = true
		}
		seq = u.Report.Seq
	}
	h.frontier = FrontierState{
		Seq:        seq,
		FrameID:    u.FrameID,
		MapFrame:   u.MapFrame,
		Resolution: u.Resolution,
		Keys:       u.Frontier,
		UpdatedAt:  time.Now(),
	}
}

// Recent returns the stored reports, oldest first.
func (h *FrameHistory) Recent() []pipeline.FrameReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full {
		return append([]pipeline.FrameReport(nil), h.reports[:h.next]...)
	}
	out := make([]pipeline.FrameReport, 0, len(h.reports))
	out = append(out, h.reports[h.next:]...)
	return append(out, h.reports[:h.next]...)
}

// Len returns the number of stored reports.
func (h *FrameHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.reports)
	}
	return h.next
}

// Frontier returns the latest frontier. Keys must not be modified.
func (h *FrameHistory) Frontier() FrontierState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.frontier
}

// Uptime is the time since the history was created.
func (h *FrameHistory) Uptime() time.Duration {
	return time.Since(h.started)
}
