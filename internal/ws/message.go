package ws

import (
	"time"

	"crowdcount/internal/occupancy"
)

// Message types
const (
	TypeOccupancy = "occupancy"
	TypeStatus    = "status"
)

// OccupancyMessage carries one anonymous counting result
type OccupancyMessage struct {
	Type     string            `json:"type"` // "occupancy"
	CameraID string            `json:"camera_id"`
	Result   *occupancy.Result `json:"result"`
}

// NewOccupancyMessage wraps a result for broadcasting
func NewOccupancyMessage(result *occupancy.Result) *OccupancyMessage {
	return &OccupancyMessage{
		Type:     TypeOccupancy,
		CameraID: result.CameraID,
		Result:   result,
	}
}

// StatusMessage is sent when a client connects
type StatusMessage struct {
	Type      string    `json:"type"` // "status"
	CameraID  string    `json:"camera_id"`
	Timestamp time.Time `json:"timestamp"`
	Active    bool      `json:"active"`
}

// NewStatusMessage creates a status message
func NewStatusMessage(cameraID string, active bool, now time.Time) *StatusMessage {
	return &StatusMessage{
		Type:      TypeStatus,
		CameraID:  cameraID,
		Timestamp: now.UTC(),
		Active:    active,
	}
}
