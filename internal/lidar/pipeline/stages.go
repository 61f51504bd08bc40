package pipeline

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
)

// FrontierUpdate is handed to every PublishSink after a frame is processed.
// Map is the frontier map itself; sinks must read it through WithRead and
// must not mutate it.
type FrontierUpdate struct {
	FrameID    string
	Stamp      time.Time
	MapFrame   string
	Resolution float64

	// Frontier is the persistent frontier set in key order.
	Frontier []l3occupancy.Key
	Map      *l3occupancy.OccupancyMap

	// FilteredCloud is nil unless filtered cloud publication is enabled.
	FilteredCloud []r3.Vec

	Report *FrameReport
}

// PublishSink sends pipeline outputs to external consumers (gRPC, HTTP).
// Implementations must not block the pipeline; slow consumers drop updates.
type PublishSink interface {
	Publish(u *FrontierUpdate) error
}

// PersistenceSink writes per-frame outcomes to storage.
type PersistenceSink interface {
	RecordFrame(report *FrameReport, frontier []l3occupancy.Key) error
}

// PublishFunc adapts a function to PublishSink.
type PublishFunc func(u *FrontierUpdate) error

// Publish implements PublishSink.
func (f PublishFunc) Publish(u *FrontierUpdate) error { return f(u) }
