package strategies

import (
	"sync"
	"time"

	"crowdcount/internal/occupancy"
	"crowdcount/internal/pipeline"
)

// ContinuousStrategy counts every frame
// Optionally rate-limits to avoid overwhelming slow hosts
type ContinuousStrategy struct {
	minInterval time.Duration // Minimum time between counted frames
	lastRun     time.Time
	now         func() time.Time
	mu          sync.Mutex
}

// NewContinuousStrategy creates a continuous strategy
// minInterval can be 0 to process every frame, or a duration to rate-limit
func NewContinuousStrategy(minInterval time.Duration) *ContinuousStrategy {
	return &ContinuousStrategy{
		minInterval: minInterval,
		now:         time.Now,
	}
}

func (s *ContinuousStrategy) Name() string {
	return string(pipeline.SamplingModeContinuous)
}

func (s *ContinuousStrategy) ShouldProcess(frame *pipeline.FrameData) bool {
	if s.minInterval == 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastRun) >= s.minInterval
}

func (s *ContinuousStrategy) OnProcessed(result *occupancy.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = s.now()
}

func (s *ContinuousStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Time{}
}
