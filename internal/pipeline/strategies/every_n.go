package strategies

import (
	"sync/atomic"

	"crowdcount/internal/occupancy"
	"crowdcount/internal/pipeline"
)

// EveryNStrategy counts one frame out of every n captured frames. The
// first frame is always counted so the background model is seeded early.
type EveryNStrategy struct {
	n    uint64
	seen atomic.Uint64
}

// NewEveryNStrategy creates an every-Nth-frame strategy; n < 1 means 1
func NewEveryNStrategy(n int) *EveryNStrategy {
	if n < 1 {
		n = 1
	}
	return &EveryNStrategy{n: uint64(n)}
}

func (s *EveryNStrategy) Name() string {
	return string(pipeline.SamplingModeEveryN)
}

func (s *EveryNStrategy) ShouldProcess(frame *pipeline.FrameData) bool {
	return (s.seen.Add(1)-1)%s.n == 0
}

func (s *EveryNStrategy) OnProcessed(result *occupancy.Result) {}

func (s *EveryNStrategy) Reset() {
	s.seen.Store(0)
}
