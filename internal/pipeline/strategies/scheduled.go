package strategies

import (
	"sync"
	"time"

	"crowdcount/internal/occupancy"
	"crowdcount/internal/pipeline"
)

// ScheduledStrategy counts at most one frame per interval
// Useful for low-rate occupancy sampling
type ScheduledStrategy struct {
	interval time.Duration
	lastRun  time.Time
	now      func() time.Time
	mu       sync.Mutex
}

// NewScheduledStrategy creates a scheduled strategy
func NewScheduledStrategy(interval time.Duration) *ScheduledStrategy {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ScheduledStrategy{
		interval: interval,
		now:      time.Now,
	}
}

func (s *ScheduledStrategy) Name() string {
	return string(pipeline.SamplingModeScheduled)
}

func (s *ScheduledStrategy) ShouldProcess(frame *pipeline.FrameData) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastRun) >= s.interval
}

func (s *ScheduledStrategy) OnProcessed(result *occupancy.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = s.now()
}

func (s *ScheduledStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Time{}
}

// SetInterval updates the sampling interval
func (s *ScheduledStrategy) SetInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
}
