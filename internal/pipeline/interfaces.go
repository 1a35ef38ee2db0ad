package pipeline

import (
	"crowdcount/internal/occupancy"
)

// FrameSubscription represents an active subscription to frame data
type FrameSubscription struct {
	CameraID string
	Channel  chan *FrameData
	Done     chan struct{} // Closed when subscription is cancelled
}

// FrameProvider captures frames from camera sources and broadcasts to subscribers
type FrameProvider interface {
	// Start begins capturing frames from the specified camera
	Start(cameraID string, device string, fps int, width int, height int) error

	// Stop halts frame capture for a camera
	Stop(cameraID string) error

	// Subscribe returns a channel that receives frames for a camera
	// Caller must call Unsubscribe when done to prevent resource leaks
	Subscribe(cameraID string, bufferSize int) (*FrameSubscription, error)

	// Unsubscribe removes a frame subscription
	Unsubscribe(sub *FrameSubscription)

	// IsRunning returns true if a camera is actively capturing
	IsRunning(cameraID string) bool

	// GetStats returns capture statistics for a camera
	GetStats(cameraID string) *CaptureStats
}

// CaptureStats contains frame capture statistics
type CaptureStats struct {
	CameraID          string  `json:"camera_id"`
	FramesCaptured    uint64  `json:"frames_captured"`
	FramesDropped     uint64  `json:"frames_dropped"`
	CurrentFPS        float32 `json:"current_fps"`
	LastFrameTime     int64   `json:"last_frame_time"` // Unix timestamp
	ReconnectAttempts uint64  `json:"reconnect_attempts"`
}

// FrameDecoder turns an encoded capture into the raw frame the counter
// consumes.
type FrameDecoder interface {
	Decode(frame *FrameData) (*occupancy.Frame, error)
}

// SamplingStrategy decides which frames are counted
type SamplingStrategy interface {
	// Name returns the strategy identifier
	Name() string

	// ShouldProcess determines if this frame should be counted
	ShouldProcess(frame *FrameData) bool

	// OnProcessed is called after a frame was counted
	OnProcessed(result *occupancy.Result)

	// Reset clears internal state
	Reset()
}

// ResultHandler receives occupancy events
type ResultHandler interface {
	// OnOccupancy is called once per counted frame, in frame order
	OnOccupancy(event *OccupancyEvent)
}

// ResultHandlerFunc adapts a function to ResultHandler
type ResultHandlerFunc func(event *OccupancyEvent)

// OnOccupancy implements ResultHandler
func (f ResultHandlerFunc) OnOccupancy(event *OccupancyEvent) { f(event) }

// ViewSink is implemented by streaming components that display the
// synthetic anonymous view
type ViewSink interface {
	// SetView provides a rendered view for streaming.
	// Implementations should drop views with seq <= last received seq
	SetView(cameraID string, seq uint64, event *OccupancyEvent)
}

// PipelineManager orchestrates capture and counting for all cameras
type PipelineManager interface {
	// StartCamera initializes capture and counting for a camera
	// cameraConfig can be nil to use global defaults
	StartCamera(cameraID string, device string, cameraConfig *CameraSamplingConfig) error

	// StopCamera halts capture and counting for a camera
	StopCamera(cameraID string) error

	// UpdateConfig updates sampling configuration for a camera
	UpdateConfig(cameraID string, cameraConfig *CameraSamplingConfig) error

	// GetStats returns pipeline statistics
	GetStats(cameraID string) *PipelineStats

	// Latest returns the most recent result for a camera, or nil
	Latest(cameraID string) *occupancy.Result

	// SubscribeResults registers a handler for occupancy events
	SubscribeResults(handler ResultHandler) func() // Returns unsubscribe function

	// Close shuts down the pipeline manager
	Close() error
}

// PipelineStats contains pipeline performance metrics
type PipelineStats struct {
	CameraID        string        `json:"camera_id"`
	CaptureStats    *CaptureStats `json:"capture,omitempty"`
	FramesProcessed uint64        `json:"frames_processed"`
	FramesRejected  uint64        `json:"frames_rejected"`
	AvgProcessingMs float32       `json:"avg_processing_ms"`
	LastResultTime  int64         `json:"last_result_time"`
	LastCount       int           `json:"last_count"`
	CurrentMode     SamplingMode  `json:"current_mode"`
	State           string        `json:"state"`
}
