package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/frontier.map/internal/lidar/l2cloud"
	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
	"github.com/banshee-data/frontier.map/internal/lidar/l4update"
	"github.com/banshee-data/frontier.map/internal/lidar/l5frontier"
	"github.com/banshee-data/frontier.map/internal/monitoring"
)

// Stage names used for span statistics.
const (
	StageUpdate  = "update"
	StageTrack   = "track"
	StageFind    = "find"
	StageMerge   = "merge"
	StagePublish = "publish"
)

// MapperConfig holds the frontier stage parameters and sinks.
type MapperConfig struct {
	ROI          l5frontier.Bounds
	NeighborMode l5frontier.NeighborMode
	StalePolicy  l5frontier.StalePolicy

	Publishers  []PublishSink   // Optional
	Persistence PersistenceSink // Optional
	Spans       *monitoring.SpanStats
}

// DefaultMapperConfig returns an unbounded corner-neighbour configuration
// that leaves stale members in place.
func DefaultMapperConfig() MapperConfig {
	return MapperConfig{
		ROI:          l5frontier.Unbounded(),
		NeighborMode: l5frontier.NeighborCorner,
		StalePolicy:  l5frontier.LeaveStale,
	}
}

// MapperStats are lifetime frame counters.
type MapperStats struct {
	Received    uint64 `json:"received"`
	Processed   uint64 `json:"processed"`
	Partial     uint64 `json:"partial"`
	RateLimited uint64 `json:"rate_limited"`
	Failed      uint64 `json:"failed"`
}

// Mapper runs frames through update, change tracking, frontier
// classification, merge and publication. ProcessFrame calls are serialised.
type Mapper struct {
	engine     *l4update.Engine
	tracker    *l5frontier.ChangeTracker
	classifier l5frontier.Classifier
	merger     *l5frontier.Merger
	publishers []PublishSink
	persist    PersistenceSink
	spans      *monitoring.SpanStats

	mu   sync.Mutex // serialises ProcessFrame
	last *FrameReport

	seq         atomic.Uint64
	processed   atomic.Uint64
	partial     atomic.Uint64
	rateLimited atomic.Uint64
	failed      atomic.Uint64
}

// NewMapper wires a Mapper around engine. Change detection is enabled on
// the engine's frontier map immediately so the first frame is tracked.
func NewMapper(engine *l4update.Engine, cfg MapperConfig) (*Mapper, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	classifier := l5frontier.Classifier{ROI: cfg.ROI, Mode: cfg.NeighborMode}
	spans := cfg.Spans
	if spans == nil {
		spans = monitoring.NewSpanStats(0)
	}
	m := &Mapper{
		engine:     engine,
		tracker:    l5frontier.NewChangeTracker(engine.Frontier()),
		classifier: classifier,
		merger:     l5frontier.NewMerger(classifier, cfg.StalePolicy),
		spans:      spans,
	}
	for _, p := range cfg.Publishers {
		if !isNilInterface(p) {
			m.publishers = append(m.publishers, p)
		}
	}
	if !isNilInterface(cfg.Persistence) {
		m.persist = cfg.Persistence
	}
	return m, nil
}

// Run processes frames until the channel closes or ctx is cancelled.
// Per-frame failures are logged and do not stop the loop.
func (m *Mapper) Run(ctx context.Context, frames <-chan *l2cloud.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if f == nil {
				continue
			}
			if _, err := m.ProcessFrame(ctx, f); err != nil && !errors.Is(err, l4update.ErrRateLimited) {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				opsf("frame %s: %v", f.FrameID, err)
			}
		}
	}
}

// ProcessFrame runs one frame through every stage and returns its report.
// A non-nil error with a report whose Status is StatusPartial means the
// frame was still tracked, merged and published.
func (m *Mapper) ProcessFrame(ctx context.Context, f *l2cloud.Frame) (*FrameReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := &FrameReport{Seq: m.seq.Add(1), FrameID: f.FrameID, Stamp: f.Stamp}
	defer func() { m.last = report }()

	sp := m.spans.Start(StageUpdate)
	res, err := m.engine.Update(ctx, f)
	report.Timings.Update = sp.End()
	if err != nil && !errors.Is(err, l4update.ErrWritePhase) {
		report.Error = err.Error()
		switch {
		case errors.Is(err, l4update.ErrRateLimited):
			report.Status = StatusRateLimited
			m.rateLimited.Add(1)
		case errors.Is(err, l4update.ErrTransform):
			report.Status = StatusTransform
			m.failed.Add(1)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			report.Status = StatusCancelled
		default:
			report.Status = StatusReadError
			m.failed.Add(1)
		}
		return report, err
	}
	updateErr := err

	report.Status = StatusProcessed
	report.ValidPoints = res.ValidPoints
	report.Occupied = res.Occupied.Len()
	report.Free = res.Free.Len()
	report.Model = res.Model.Len()
	report.Clip = res.Clip.Len()
	report.WriteFailures = res.WriteFailures
	if res.Partial() {
		report.Status = StatusPartial
		report.Error = updateErr.Error()
		m.partial.Add(1)
	} else {
		m.processed.Add(1)
	}

	frontierMap := m.engine.Frontier()

	sp = m.spans.Start(StageTrack)
	changed := m.tracker.Drain()
	report.Timings.Track = sp.End()
	report.Changed = changed.Len()

	sp = m.spans.Start(StageFind)
	var candidates l3occupancy.KeySet
	_ = frontierMap.WithRead(func(v l3occupancy.View) error {
		var st l5frontier.ClassifyStats
		candidates, st = m.classifier.Find(v, changed)
		report.Candidates = st.Candidates
		report.OutsideROI = st.OutsideROI
		report.Missing = st.Missing
		return nil
	})
	report.Timings.Find = sp.End()

	sp = m.spans.Start(StageMerge)
	_ = frontierMap.WithRead(func(v l3occupancy.View) error {
		mr, _ := m.merger.Merge(v, candidates)
		report.Removed = mr.Removed
		report.Added = mr.Added
		report.Stale = mr.Stale
		report.FrontierSize = mr.Size
		report.MapVoxels = v.Len()
		return nil
	})
	report.Timings.Merge = sp.End()

	sp = m.spans.Start(StagePublish)
	frontier := m.merger.Snapshot()
	update := &FrontierUpdate{
		FrameID:       f.FrameID,
		Stamp:         f.Stamp,
		MapFrame:      res.MapFrame,
		Resolution:    frontierMap.Resolution(),
		Frontier:      frontier,
		Map:           frontierMap,
		FilteredCloud: res.FilteredCloud,
		Report:        report,
	}
	// The report is final once sinks hold it; sink time shows up in the
	// publish span only.
	report.Timings.Publish = sp.Elapsed()
	m.publish(update)
	sp.End()

	if m.persist != nil {
		if err := m.persist.RecordFrame(report, frontier); err != nil {
			opsf("frame %s: persist: %v", f.FrameID, err)
		}
	}

	diagf("frame %s: update %.1fms, track %.1fms, find %.1fms, merge %.1fms, publish %.1fms; changed=%d candidates=%d frontier=%d",
		f.FrameID,
		ms(report.Timings.Update), ms(report.Timings.Track), ms(report.Timings.Find),
		ms(report.Timings.Merge), ms(report.Timings.Publish),
		report.Changed, report.Candidates, report.FrontierSize)
	if report.Missing > 0 || report.Stale > 0 {
		opsf("frame %s: %d changed and %d frontier voxels missing from frontier map", f.FrameID, report.Missing, report.Stale)
	}

	if updateErr != nil {
		return report, fmt.Errorf("frame %s processed with errors: %w", f.FrameID, updateErr)
	}
	return report, nil
}

func (m *Mapper) publish(u *FrontierUpdate) {
	for _, p := range m.publishers {
		if err := p.Publish(u); err != nil {
			opsf("frame %s: publish: %v", u.FrameID, err)
		}
	}
}

// AddPublisher attaches another sink. It takes effect from the next frame.
func (m *Mapper) AddPublisher(p PublishSink) {
	if isNilInterface(p) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishers = append(m.publishers, p)
}

// Frontier returns the persistent frontier set in key order.
func (m *Mapper) Frontier() []l3occupancy.Key { return m.merger.Snapshot() }

// Engine returns the underlying update engine.
func (m *Mapper) Engine() *l4update.Engine { return m.engine }

// Spans returns the stage timing statistics.
func (m *Mapper) Spans() *monitoring.SpanStats { return m.spans }

// LastReport returns a copy of the most recent frame report, or nil.
func (m *Mapper) LastReport() *FrameReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	r := *m.last
	return &r
}

// Stats returns lifetime frame counters.
func (m *Mapper) Stats() MapperStats {
	return MapperStats{
		Received:    m.seq.Load(),
		Processed:   m.processed.Load(),
		Partial:     m.partial.Load(),
		RateLimited: m.rateLimited.Load(),
		Failed:      m.failed.Load(),
	}
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
// This handles the Go interface nil pitfall where interface{} != nil but the underlying value is nil.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
