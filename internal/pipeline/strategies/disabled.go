package strategies

import (
	"crowdcount/internal/occupancy"
	"crowdcount/internal/pipeline"
)

// DisabledStrategy never counts a frame
type DisabledStrategy struct{}

// NewDisabledStrategy creates a disabled strategy
func NewDisabledStrategy() *DisabledStrategy {
	return &DisabledStrategy{}
}

func (s *DisabledStrategy) Name() string {
	return string(pipeline.SamplingModeDisabled)
}

func (s *DisabledStrategy) ShouldProcess(frame *pipeline.FrameData) bool {
	return false
}

func (s *DisabledStrategy) OnProcessed(result *occupancy.Result) {}

func (s *DisabledStrategy) Reset() {}
