package l2cloud

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNoTransform is returned when a resolver has no transform for a frame pair.
var ErrNoTransform = errors.New("no transform available")

// TransformResolver looks up the transform taking points from source into
// target at the given time.
type TransformResolver interface {
	Lookup(target, source string, stamp time.Time) (Transform, error)
}

// ResolverFunc adapts a function to TransformResolver.
type ResolverFunc func(target, source string, stamp time.Time) (Transform, error)

// Lookup implements TransformResolver.
func (f ResolverFunc) Lookup(target, source string, stamp time.Time) (Transform, error) {
	return f(target, source, stamp)
}

type stampedTransform struct {
	stamp time.Time
	t     Transform
}

// BufferResolver serves transforms into a single target frame. Each source
// frame has an optional static transform and a bounded, time-ordered
// history of stamped transforms. Lookup prefers the nearest stamped entry
// within Tolerance and falls back to the static transform.
// Safe for concurrent use.
type BufferResolver struct {
	mu      sync.RWMutex
	target  string
	static  map[string]Transform
	history map[string][]stampedTransform

	// Capacity bounds the per-source history; oldest entries are evicted.
	Capacity int
	// Tolerance is the maximum stamp distance accepted by Lookup.
	Tolerance time.Duration
}

// NewBufferResolver creates a resolver for transforms into target.
func NewBufferResolver(target string) *BufferResolver {
	return &BufferResolver{
		target:    target,
		static:    make(map[string]Transform),
		history:   make(map[string][]stampedTransform),
		Capacity:  256,
		Tolerance: 50 * time.Millisecond,
	}
}

// SetStatic registers a time-invariant transform for source.
func (r *BufferResolver) SetStatic(source string, t Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static[source] = t
}

// Add records the transform for source at stamp.
func (r *BufferResolver) Add(source string, stamp time.Time, t Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.history[source]
	i := sort.Search(len(h), func(i int) bool { return !h[i].stamp.Before(stamp) })
	if i < len(h) && h[i].stamp.Equal(stamp) {
		h[i].t = t
		return
	}
	h = append(h, stampedTransform{})
	copy(h[i+1:], h[i:])
	h[i] = stampedTransform{stamp: stamp, t: t}
	if r.Capacity > 0 && len(h) > r.Capacity {
		h = h[len(h)-r.Capacity:]
	}
	r.history[source] = h
}

// Lookup implements TransformResolver.
func (r *BufferResolver) Lookup(target, source string, stamp time.Time) (Transform, error) {
	if target != r.target {
		return Transform{}, fmt.Errorf("%w: target %q, resolver serves %q", ErrNoTransform, target, r.target)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h := r.history[source]; len(h) > 0 {
		i := sort.Search(len(h), func(i int) bool { return !h[i].stamp.Before(stamp) })
		best, bestGap := -1, time.Duration(0)
		for _, j := range []int{i - 1, i} {
			if j < 0 || j >= len(h) {
				continue
			}
			gap := h[j].stamp.Sub(stamp)
			if gap < 0 {
				gap = -gap
			}
			if best < 0 || gap < bestGap {
				best, bestGap = j, gap
			}
		}
		if best >= 0 && bestGap <= r.Tolerance {
			return h[best].t, nil
		}
	}
	if t, ok := r.static[source]; ok {
		return t, nil
	}
	return Transform{}, fmt.Errorf("%w: %s -> %s at %s", ErrNoTransform, source, target, stamp.Format(time.RFC3339Nano))
}
