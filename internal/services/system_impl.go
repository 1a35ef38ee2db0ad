package services

import (
	"context"
	"time"

	"crowdcount/internal/camera"
)

// ClientCounter reports connected streaming clients
type ClientCounter interface {
	ClientCount() int
}

// SystemStatus is an overview of the running service
type SystemStatus struct {
	Cameras       int   `json:"cameras"`
	ActiveCameras int   `json:"active_cameras"`
	PeopleNow     int   `json:"people_now"` // Sum of the latest counts of active cameras
	StreamClients int   `json:"stream_clients"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// SystemImplementation implements the system service
type SystemImplementation struct {
	cameraManager *camera.CameraManager
	latest        LatestSource
	clients       ClientCounter
	startTime     time.Time
}

// NewSystemService creates a new system service implementation. clients may
// be nil.
func NewSystemService(cameraManager *camera.CameraManager, latest LatestSource, clients ClientCounter) *SystemImplementation {
	return &SystemImplementation{
		cameraManager: cameraManager,
		latest:        latest,
		clients:       clients,
		startTime:     time.Now(),
	}
}

// Status returns the overall system status
func (s *SystemImplementation) Status(ctx context.Context) (*SystemStatus, error) {
	cameras := s.cameraManager.ListCameras()
	status := &SystemStatus{
		Cameras:       len(cameras),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}

	for _, cam := range cameras {
		if !cam.IsActive() {
			continue
		}
		status.ActiveCameras++
		if result := s.latest.Latest(cam.ID); result != nil {
			status.PeopleNow += result.PeopleCount
		}
	}

	if s.clients != nil {
		status.StreamClients = s.clients.ClientCount()
	}
	return status, nil
}
