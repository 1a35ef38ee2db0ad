package pipeline

import (
	"image"
	"time"

	"crowdcount/internal/occupancy"
)

// SamplingMode defines which captured frames reach the occupancy pipeline
type SamplingMode string

const (
	// SamplingModeDisabled - capture runs but no frame is counted
	SamplingModeDisabled SamplingMode = "disabled"
	// SamplingModeContinuous - count every captured frame
	SamplingModeContinuous SamplingMode = "continuous"
	// SamplingModeEveryN - count every Nth captured frame
	SamplingModeEveryN SamplingMode = "every_n"
	// SamplingModeScheduled - count at most one frame per interval
	SamplingModeScheduled SamplingMode = "scheduled"
)

// FrameData represents a captured, still encoded video frame
type FrameData struct {
	CameraID  string    // Camera identifier
	Data      []byte    // JPEG frame data
	Seq       uint64    // Frame sequence number
	Timestamp time.Time // Capture timestamp
	Width     int       // Frame width (if known)
	Height    int       // Frame height (if known)
}

// OccupancyEvent is published once per counted frame. View is the synthetic
// rendering of the same detections; it never contains camera pixels.
type OccupancyEvent struct {
	Result   *occupancy.Result
	View     *image.RGBA
	FrameSeq uint64
}

// CameraID returns the camera the event belongs to.
func (e *OccupancyEvent) CameraID() string {
	if e == nil || e.Result == nil {
		return ""
	}
	return e.Result.CameraID
}

// CameraSamplingConfig contains per-camera overrides.
// Nil/zero values mean "inherit from global config"
type CameraSamplingConfig struct {
	Mode      *SamplingMode     `json:"mode,omitempty" yaml:"mode,omitempty"`
	EveryN    *int              `json:"every_n,omitempty" yaml:"every_n,omitempty"`
	Interval  *time.Duration    `json:"interval,omitempty" yaml:"interval,omitempty"`
	Detection *occupancy.Config `json:"detection,omitempty" yaml:"detection,omitempty"`
}

// GlobalSamplingConfig contains global default settings
type GlobalSamplingConfig struct {
	Mode      SamplingMode     `json:"mode" yaml:"mode"`
	EveryN    int              `json:"every_n" yaml:"every_n"`
	Interval  time.Duration    `json:"interval" yaml:"interval"`
	Detection occupancy.Config `json:"detection" yaml:"detection"`
}

// EffectiveConfig represents the merged configuration for a camera
// (camera overrides applied to global defaults)
type EffectiveConfig struct {
	CameraID  string
	Mode      SamplingMode
	EveryN    int
	Interval  time.Duration
	Detection occupancy.Config
}

// DefaultGlobalConfig returns the defaults: every frame, default detector
// tuning.
func DefaultGlobalConfig() *GlobalSamplingConfig {
	return &GlobalSamplingConfig{
		Mode:      SamplingModeEveryN,
		EveryN:    1,
		Interval:  5 * time.Second,
		Detection: occupancy.DefaultConfig(),
	}
}

// MergeWithGlobal merges camera-specific config with global defaults
func (c *CameraSamplingConfig) MergeWithGlobal(cameraID string, global *GlobalSamplingConfig) *EffectiveConfig {
	if global == nil {
		global = DefaultGlobalConfig()
	}

	effective := &EffectiveConfig{
		CameraID:  cameraID,
		Mode:      global.Mode,
		EveryN:    global.EveryN,
		Interval:  global.Interval,
		Detection: global.Detection,
	}

	if c == nil {
		return effective
	}

	if c.Mode != nil {
		effective.Mode = *c.Mode
	}
	if c.EveryN != nil {
		effective.EveryN = *c.EveryN
	}
	if c.Interval != nil {
		effective.Interval = *c.Interval
	}
	if c.Detection != nil {
		effective.Detection = *c.Detection
	}

	return effective
}
