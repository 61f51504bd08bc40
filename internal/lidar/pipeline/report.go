package pipeline

import (
	"time"
)

// FrameStatus is the disposition of one frame.
type FrameStatus string

const (
	StatusProcessed   FrameStatus = "processed"
	StatusPartial     FrameStatus = "partial"
	StatusRateLimited FrameStatus = "rate-limited"
	StatusTransform   FrameStatus = "transform-error"
	StatusReadError   FrameStatus = "read-error"
	StatusCancelled   FrameStatus = "cancelled"
)

// Applied reports whether the frame reached the frontier stages.
func (s FrameStatus) Applied() bool {
	return s == StatusProcessed || s == StatusPartial
}

// StageTimings records wall-clock time spent in each stage. Publish covers
// building the update; time spent inside sinks is not included.
type StageTimings struct {
	Update  time.Duration `json:"update"`
	Track   time.Duration `json:"track"`
	Find    time.Duration `json:"find"`
	Merge   time.Duration `json:"merge"`
	Publish time.Duration `json:"publish"`
}

// Total is the sum of all stages.
func (s StageTimings) Total() time.Duration {
	return s.Update + s.Track + s.Find + s.Merge + s.Publish
}

// FrameReport is the per-frame outcome recorded by the run store and shown
// by the monitor.
type FrameReport struct {
	Seq     uint64      `json:"seq"`
	FrameID string      `json:"frame_id"`
	Stamp   time.Time   `json:"stamp"`
	Status  FrameStatus `json:"status"`
	Error   string      `json:"error,omitempty"`

	ValidPoints   int `json:"valid_points"`
	Occupied      int `json:"occupied"`
	Free          int `json:"free"`
	Model         int `json:"model"`
	Clip          int `json:"clip"`
	WriteFailures int `json:"write_failures"`

	Changed    int `json:"changed"`
	Candidates int `json:"candidates"`
	OutsideROI int `json:"outside_roi"`
	Missing    int `json:"missing"`

	Removed      int `json:"removed"`
	Added        int `json:"added"`
	Stale        int `json:"stale"`
	FrontierSize int `json:"frontier_size"`
	MapVoxels    int `json:"map_voxels"`

	Timings StageTimings `json:"timings"`
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
