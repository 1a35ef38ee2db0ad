package strategies

import (
	"fmt"

	"crowdcount/internal/pipeline"
)

// Create creates a sampling strategy based on the effective configuration
func Create(config *pipeline.EffectiveConfig) (pipeline.SamplingStrategy, error) {
	if config == nil {
		return NewDisabledStrategy(), nil
	}

	switch config.Mode {
	case pipeline.SamplingModeDisabled:
		return NewDisabledStrategy(), nil

	case pipeline.SamplingModeContinuous:
		return NewContinuousStrategy(0), nil

	case pipeline.SamplingModeEveryN:
		return NewEveryNStrategy(config.EveryN), nil

	case pipeline.SamplingModeScheduled:
		return NewScheduledStrategy(config.Interval), nil

	default:
		return nil, fmt.Errorf("unknown sampling mode: %s", config.Mode)
	}
}

// CreateFromMode creates a strategy from just a mode and default settings
func CreateFromMode(mode pipeline.SamplingMode) (pipeline.SamplingStrategy, error) {
	defaults := pipeline.DefaultGlobalConfig()
	return Create(&pipeline.EffectiveConfig{
		Mode:     mode,
		EveryN:   defaults.EveryN,
		Interval: defaults.Interval,
	})
}
