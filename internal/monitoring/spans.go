package monitoring

import (
	"slices"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultSpanWindow is the number of samples retained per stage.
const DefaultSpanWindow = 512

// StageSummary describes recent timings for one stage, in milliseconds.
type StageSummary struct {
	Stage  string  `json:"stage"`
	Count  int64   `json:"count"`
	LastMs float64 `json:"last_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// SpanStats accumulates wall-clock durations per named stage in a bounded
// ring. Safe for concurrent use.
type SpanStats struct {
	mu     sync.Mutex
	window int
	slow   time.Duration
	stages map[string]*stageRing
}

type stageRing struct {
	samples []float64
	next    int
	count   int64
	last    float64
}

// NewSpanStats creates a SpanStats retaining window samples per stage.
// A non-positive window uses DefaultSpanWindow.
func NewSpanStats(window int) *SpanStats {
	if window <= 0 {
		window = DefaultSpanWindow
	}
	return &SpanStats{window: window, stages: make(map[string]*stageRing)}
}

// WarnAbove makes Observe report any sample longer than d through Logf.
// Zero disables the warning.
func (s *SpanStats) WarnAbove(d time.Duration) {
	s.mu.Lock()
	s.slow = d
	s.mu.Unlock()
}

// Span is an in-flight timing for one stage.
type Span struct {
	stats *SpanStats
	stage string
	start time.Time
}

// Start begins timing stage. A nil receiver returns a Span whose End is a no-op.
func (s *SpanStats) Start(stage string) Span {
	return Span{stats: s, stage: stage, start: time.Now()}
}

// Elapsed returns the time since Start without recording it.
func (sp Span) Elapsed() time.Duration { return time.Since(sp.start) }

// End records the elapsed time and returns it.
func (sp Span) End() time.Duration {
	d := time.Since(sp.start)
	if sp.stats != nil {
		sp.stats.Observe(sp.stage, d)
	}
	return d
}

// Observe records a duration for stage.
func (s *SpanStats) Observe(stage string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	s.mu.Lock()
	slow := s.slow > 0 && d > s.slow
	s.record(stage, ms)
	s.mu.Unlock()
	if slow {
		Logf("slow %s stage: %.2fms", stage, ms)
	}
}

func (s *SpanStats) record(stage string, ms float64) {
	r, ok := s.stages[stage]
	if !ok {
		r = &stageRing{samples: make([]float64, 0, s.window)}
		s.stages[stage] = r
	}
	if len(r.samples) < s.window {
		r.samples = append(r.samples, ms)
	} else {
		r.samples[r.next] = ms
	}
	r.next = (r.next + 1) % s.window
	r.count++
	r.last = ms
}

// Summary returns per-stage statistics sorted by stage name.
func (s *SpanStats) Summary() []StageSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StageSummary, 0, len(s.stages))
	for name, r := range s.stages {
		xs := slices.Clone(r.samples)
		sort.Float64s(xs)
		sum := StageSummary{Stage: name, Count: r.count, LastMs: r.last}
		if len(xs) > 0 {
			sum.MeanMs = stat.Mean(xs, nil)
			sum.P50Ms = stat.Quantile(0.5, stat.Empirical, xs, nil)
			sum.P95Ms = stat.Quantile(0.95, stat.Empirical, xs, nil)
			sum.MaxMs = xs[len(xs)-1]
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

// Reset discards all samples.
func (s *SpanStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = make(map[string]*stageRing)
}
