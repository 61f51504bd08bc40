package l2cloud

import (
	"context"
	"time"

	"github.com/banshee-data/frontier.map/internal/timeutil"
)

// FrameSource produces frames until ctx is done or the source is
// exhausted. Run closes out before returning.
type FrameSource interface {
	Run(ctx context.Context, out chan<- *Frame) error
}

// SyntheticSource drives a SyntheticScanner on a ticker and registers each
// frame's sensor pose with Resolver before handing the frame on.
type SyntheticSource struct {
	Scanner  *SyntheticScanner
	Resolver *BufferResolver
	Clock    timeutil.Clock
	Period   time.Duration
	// Limit stops the source after this many frames; 0 runs until cancelled.
	Limit int
}

var _ FrameSource = (*SyntheticSource)(nil)

// Run implements FrameSource. A frame that cannot be delivered before the
// next tick is still delivered; ticks are not queued.
func (s *SyntheticSource) Run(ctx context.Context, out chan<- *Frame) error {
	defer close(out)
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	period := s.Period
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	ticker := clock.NewTicker(period)
	defer ticker.Stop()

	sent := 0
	for s.Limit == 0 || sent < s.Limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case stamp := <-ticker.C():
			f, tf := s.Scanner.NextFrame(stamp)
			if s.Resolver != nil {
				s.Resolver.Add(f.SensorFrame, stamp, tf)
			}
			select {
			case out <- f:
				sent++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
