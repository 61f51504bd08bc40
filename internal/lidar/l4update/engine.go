package l4update

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frontier.map/internal/lidar/l2cloud"
	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
	"github.com/banshee-data/frontier.map/internal/timeutil"
)

var (
	// ErrRateLimited is returned when a frame arrives inside the rate-limit window.
	ErrRateLimited = errors.New("frame dropped by rate limit")
	// ErrTransform is returned when the sensor→map transform cannot be resolved.
	ErrTransform = errors.New("transform resolution failed")
	// ErrReadPhase is returned when classification or ray tracing fails.
	// The maps are unchanged.
	ErrReadPhase = errors.New("read phase aborted")
	// ErrWritePhase is returned alongside a Result when some mutations could
	// not be applied. The frame is partially applied.
	ErrWritePhase = errors.New("write phase incomplete")
)

// Config holds the frame update parameters.
type Config struct {
	// MapFrame is the target frame. Empty adopts the first frame's sensor frame.
	MapFrame string
	// Stride subsamples rows and columns; must be at least 1.
	Stride int
	// MaxRange is passed to the classifier; +Inf or 0 disables clipping.
	MaxRange float64
	// MaxUpdateRate caps accepted frames per second; 0 disables limiting.
	MaxUpdateRate float64
	// PublishFilteredCloud collects accepted external points in sensor frame.
	PublishFilteredCloud bool
	// RayWorkers is the ray-tracing parallelism; 0 means GOMAXPROCS.
	RayWorkers int
}

// DefaultConfig returns a Config with stride 1, unbounded range and no
// rate limit.
func DefaultConfig() Config {
	return Config{Stride: 1, MaxRange: math.Inf(1)}
}

// Validate checks the parameters.
func (c Config) Validate() error {
	if c.Stride < 1 {
		return fmt.Errorf("stride must be at least 1, got %d", c.Stride)
	}
	if c.MaxRange < 0 || math.IsNaN(c.MaxRange) {
		return fmt.Errorf("max range must be non-negative, got %v", c.MaxRange)
	}
	if c.MaxUpdateRate < 0 || math.IsNaN(c.MaxUpdateRate) {
		return fmt.Errorf("max update rate must be non-negative, got %v", c.MaxUpdateRate)
	}
	if c.RayWorkers < 0 {
		return fmt.Errorf("ray workers must be non-negative, got %d", c.RayWorkers)
	}
	return nil
}

// Result is the outcome of integrating one frame. The key sets are the
// post-resolution sets that were applied to the maps.
type Result struct {
	FrameID     string
	MapFrame    string
	Stamp       time.Time
	Origin      r3.Vec
	ValidPoints int

	Occupied l3occupancy.KeySet
	Free     l3occupancy.KeySet
	Model    l3occupancy.KeySet
	Clip     l3occupancy.KeySet

	// FilteredCloud holds the sensor-frame external points in input order
	// when PublishFilteredCloud is set.
	FilteredCloud []r3.Vec

	// WriteFailures counts mutations refused during the write phase.
	WriteFailures int
	Duration      time.Duration
}

// Partial reports whether the write phase left some mutations unapplied.
func (r *Result) Partial() bool { return r.WriteFailures > 0 }

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used by the rate limiter.
func WithClock(c timeutil.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine integrates frames into a primary and a frontier occupancy map that
// receive identical mutations. Update calls are serialised.
type Engine struct {
	cfg        Config
	primary    *l3occupancy.OccupancyMap
	frontier   *l3occupancy.OccupancyMap
	classifier l2cloud.PointClassifier
	resolver   l2cloud.TransformResolver
	clock      timeutil.Clock
	limiter    *RateLimiter

	mu       sync.Mutex
	mapFrame string
}

// NewEngine wires an engine over two distinct maps of equal resolution.
// resolver may be nil when every frame is already in the map frame.
func NewEngine(cfg Config, primary, frontier *l3occupancy.OccupancyMap,
	classifier l2cloud.PointClassifier, resolver l2cloud.TransformResolver, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if primary == nil || frontier == nil {
		return nil, errors.New("primary and frontier maps are required")
	}
	if primary == frontier {
		return nil, errors.New("primary and frontier maps must be distinct instances")
	}
	if primary.Resolution() != frontier.Resolution() {
		return nil, fmt.Errorf("map resolutions differ: %v vs %v", primary.Resolution(), frontier.Resolution())
	}
	if isNilInterface(classifier) {
		return nil, errors.New("point classifier is required")
	}
	if isNilInterface(resolver) {
		resolver = nil
	}
	if cfg.MaxRange == 0 {
		cfg.MaxRange = math.Inf(1)
	}
	e := &Engine{
		cfg:        cfg,
		primary:    primary,
		frontier:   frontier,
		classifier: classifier,
		resolver:   resolver,
		clock:      timeutil.RealClock{},
		mapFrame:   cfg.MapFrame,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.limiter = NewRateLimiter(cfg.MaxUpdateRate, e.clock)
	return e, nil
}

// MapFrame returns the target frame, empty until adopted from the first frame.
func (e *Engine) MapFrame() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mapFrame
}

// Primary returns the primary map.
func (e *Engine) Primary() *l3occupancy.OccupancyMap { return e.primary }

// Frontier returns the frontier-tracking map.
func (e *Engine) Frontier() *l3occupancy.OccupancyMap { return e.frontier }

type classifiedPoint struct {
	sensor r3.Vec
	world  r3.Vec
	class  l2cloud.PointClass
}

// Update integrates f into both maps.
//
// On ErrRateLimited, ErrTransform or ErrReadPhase the maps are unchanged
// and the Result is nil. On ErrWritePhase the Result is returned along
// with the error and the frame should still be treated as processed.
func (e *Engine) Update(ctx context.Context, f *l2cloud.Frame) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !e.limiter.Allow() {
		tracef("frame %s dropped: inside %v rate window", f.FrameID, e.limiter.Period())
		return nil, ErrRateLimited
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadPhase, err)
	}
	if e.mapFrame == "" {
		e.mapFrame = f.SensorFrame
		diagf("map frame adopted from first frame: %q", e.mapFrame)
	}

	tf, err := e.lookup(f)
	if err != nil {
		opsf("frame %s: %v", f.FrameID, err)
		return nil, err
	}

	res := &Result{
		FrameID:  f.FrameID,
		MapFrame: e.mapFrame,
		Stamp:    f.Stamp,
		Origin:   tf.Origin(),
		Occupied: l3occupancy.NewKeySet(),
		Free:     l3occupancy.NewKeySet(),
		Model:    l3occupancy.NewKeySet(),
		Clip:     l3occupancy.NewKeySet(),
	}
	if e.cfg.PublishFilteredCloud {
		// Non-nil even when empty so sinks replace the previous frame's cloud.
		res.FilteredCloud = make([]r3.Vec, 0)
	}
	points := e.classify(f, tf)
	res.ValidPoints = len(points)
	if len(points) == 0 {
		res.Duration = time.Since(start)
		tracef("frame %s: no valid points", f.FrameID)
		return res, nil
	}

	err = e.primary.WithRead(func(v l3occupancy.View) error {
		return e.readPhase(v, points, res)
	})
	if err != nil {
		opsf("frame %s aborted in read phase: %v", f.FrameID, err)
		return nil, fmt.Errorf("%w: frame %s: %w", ErrReadPhase, f.FrameID, err)
	}

	// Self-body wins over occupied; an endpoint is never free.
	res.Occupied.RemoveAll(res.Model)
	res.Free.RemoveAll(res.Occupied)

	werr := e.writePhase(res)
	res.Duration = time.Since(start)
	diagf("frame %s: points=%d occupied=%d free=%d model=%d clip=%d in %v",
		f.FrameID, res.ValidPoints, res.Occupied.Len(), res.Free.Len(), res.Model.Len(), res.Clip.Len(), res.Duration)
	if werr != nil {
		opsf("frame %s partially applied: %d mutations failed: %v", f.FrameID, res.WriteFailures, werr)
		return res, fmt.Errorf("%w: frame %s: %w", ErrWritePhase, f.FrameID, werr)
	}
	return res, nil
}

func (e *Engine) lookup(f *l2cloud.Frame) (l2cloud.Transform, error) {
	if f.SensorFrame == e.mapFrame {
		return l2cloud.IdentityTransform(), nil
	}
	if e.resolver == nil {
		return l2cloud.Transform{}, fmt.Errorf("%w: %s -> %s: %w", ErrTransform, f.SensorFrame, e.mapFrame, l2cloud.ErrNoTransform)
	}
	tf, err := e.resolver.Lookup(e.mapFrame, f.SensorFrame, f.Stamp)
	if err != nil {
		return l2cloud.Transform{}, fmt.Errorf("%w: %w", ErrTransform, err)
	}
	return tf, nil
}

// classify walks the retained grid cells in row-major order, transforming
// each valid point into the map frame and classifying it once.
func (e *Engine) classify(f *l2cloud.Frame, tf l2cloud.Transform) []classifiedPoint {
	stride := e.cfg.Stride
	origin := tf.Origin()
	out := make([]classifiedPoint, 0, f.ValidPoints(stride))
	for row := 0; row < f.Height; row += stride {
		for col := 0; col < f.Width; col += stride {
			p := f.At(row, col)
			if !l2cloud.IsValidPoint(p) {
				continue
			}
			w := tf.Apply(p)
			out = append(out, classifiedPoint{
				sensor: p,
				world:  w,
				class:  e.classifier.Classify(w, origin, e.cfg.MaxRange),
			})
		}
	}
	return out
}

// readPhase buckets points into key sets and traces a ray to the centre of
// every endpoint key. It runs under the primary map's read lock.
func (e *Engine) readPhase(v l3occupancy.View, points []classifiedPoint, res *Result) error {
	for _, p := range points {
		k, err := v.CoordToKey(p.world)
		if err != nil {
			return fmt.Errorf("quantise %v: %w", p.world, err)
		}
		switch p.class {
		case l2cloud.ClassOwnBody:
			res.Model.Add(k)
		case l2cloud.ClassClipped:
			res.Clip.Add(k)
		default:
			res.Occupied.Add(k)
			if e.cfg.PublishFilteredCloud {
				res.FilteredCloud = append(res.FilteredCloud, p.sensor)
			}
		}
	}

	endpoints := make([]l3occupancy.Key, 0, res.Occupied.Len()+res.Model.Len()+res.Clip.Len())
	for _, s := range []l3occupancy.KeySet{res.Occupied, res.Model, res.Clip} {
		for k := range s {
			endpoints = append(endpoints, k)
		}
	}
	free, err := traceRays(v, res.Origin, endpoints, e.workers(len(endpoints)))
	if err != nil {
		return err
	}
	res.Free = free
	return nil
}

func (e *Engine) workers(jobs int) int {
	n := e.cfg.RayWorkers
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return max(1, min(n, jobs))
}

// traceRays unions the ray keys from origin to every endpoint centre.
// Endpoints are split into contiguous chunks, one per worker, each with
// its own ray buffer and partial set. The first failure stops the others;
// the caller context is not consulted mid-phase.
func traceRays(v l3occupancy.View, origin r3.Vec, endpoints []l3occupancy.Key, workers int) (l3occupancy.KeySet, error) {
	partial := make([]l3occupancy.KeySet, workers)
	chunk := (len(endpoints) + workers - 1) / workers
	g, gctx := errgroup.WithContext(context.Background())
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(endpoints))
		partial[w] = l3occupancy.NewKeySet()
		if lo >= hi {
			continue
		}
		set := partial[w]
		g.Go(func() error {
			var ray []l3occupancy.Key
			for _, k := range endpoints[lo:hi] {
				if err := gctx.Err(); err != nil {
					return err
				}
				var err error
				ray, err = v.ComputeRayKeys(origin, v.KeyToCoord(k), ray)
				if err != nil {
					return fmt.Errorf("ray to %v: %w", k, err)
				}
				set.AddSlice(ray)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	free := partial[0]
	for _, s := range partial[1:] {
		free.AddAll(s)
	}
	return free, nil
}

// writePhase applies misses, then hits, then the clamp-minimum override to
// both maps under their write locks, primary first. Every key is attempted;
// failures are counted and the first is returned.
func (e *Engine) writePhase(res *Result) error {
	var first error
	record := func(err error) {
		if err == nil {
			return
		}
		res.WriteFailures++
		if first == nil {
			first = err
		}
	}
	free := res.Free.Sorted()
	occupied := res.Occupied.Sorted()
	model := res.Model.Sorted()

	_ = e.primary.WithWrite(func(pe l3occupancy.Editor) error {
		return e.frontier.WithWrite(func(fe l3occupancy.Editor) error {
			for _, ed := range []l3occupancy.Editor{pe, fe} {
				for _, k := range free {
					_, err := ed.UpdateNode(k, false)
					record(err)
				}
				for _, k := range occupied {
					_, err := ed.UpdateNode(k, true)
					record(err)
				}
				for _, k := range model {
					_, err := ed.ForceClampMin(k)
					record(err)
				}
			}
			return nil
		})
	})
	return first
}

// isNilInterface reports whether v is nil or a typed nil pointer.
func isNilInterface(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
