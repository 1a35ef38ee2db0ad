package services

import (
	"context"
	"errors"
	"strings"

	"crowdcount/internal/camera"
	"crowdcount/internal/pipeline"
	"crowdcount/internal/pipeline/strategies"
)

// CameraInfo is a camera with the statistics of its running pipeline
type CameraInfo struct {
	camera.Info
	Stats *pipeline.PipelineStats `json:"stats,omitempty"`
}

// CreatePayload describes a camera to register
type CreatePayload struct {
	ID       string                         `json:"id,omitempty"`
	Name     string                         `json:"name"`
	Device   string                         `json:"device"`
	Capacity int                            `json:"capacity,omitempty"`
	Sampling *pipeline.CameraSamplingConfig `json:"sampling,omitempty"`
	Start    bool                           `json:"start,omitempty"` // Activate right after registering
}

// StatsSource reports per-camera pipeline statistics
type StatsSource interface {
	GetStats(cameraID string) *pipeline.PipelineStats
}

// CameraImplementation implements the camera service
type CameraImplementation struct {
	cameraManager *camera.CameraManager
	stats         StatsSource
	onRemove      []func(cameraID string)
}

// NewCameraService creates a new camera service implementation. stats may be
// nil.
func NewCameraService(cameraManager *camera.CameraManager, stats StatsSource) *CameraImplementation {
	return &CameraImplementation{
		cameraManager: cameraManager,
		stats:         stats,
	}
}

// OnRemove registers a callback run after a camera is deleted, used to drop
// per-camera state held outside the registry
func (c *CameraImplementation) OnRemove(fn func(cameraID string)) {
	c.onRemove = append(c.onRemove, fn)
}

func (c *CameraImplementation) info(cam *camera.Camera) *CameraInfo {
	info := &CameraInfo{Info: cam.Info()}
	if c.stats != nil && cam.IsActive() {
		info.Stats = c.stats.GetStats(cam.ID)
	}
	return info
}

// List returns all configured cameras
func (c *CameraImplementation) List(ctx context.Context) ([]*CameraInfo, error) {
	cameras := c.cameraManager.ListCameras()
	result := make([]*CameraInfo, len(cameras))
	for i, cam := range cameras {
		result[i] = c.info(cam)
	}
	return result, nil
}

// Get returns camera information by ID
func (c *CameraImplementation) Get(ctx context.Context, id string) (*CameraInfo, error) {
	cam, err := c.cameraManager.GetCamera(id)
	if err != nil {
		return nil, &NotFoundError{Message: "Camera not found", ID: id}
	}
	return c.info(cam), nil
}

// Create registers a new camera and optionally starts it
func (c *CameraImplementation) Create(ctx context.Context, p *CreatePayload) (*CameraInfo, error) {
	if p == nil {
		return nil, &BadRequestError{Message: "missing camera"}
	}
	name := strings.TrimSpace(p.Name)
	device := strings.TrimSpace(p.Device)
	if name == "" || device == "" {
		return nil, &BadRequestError{Message: "Failed to add camera", Details: "name and device are required"}
	}
	if p.Capacity < 0 {
		return nil, &BadRequestError{Message: "Failed to add camera", Details: "capacity must not be negative"}
	}
	if p.Sampling != nil {
		if err := validateSampling(p.Sampling); err != nil {
			return nil, &BadRequestError{Message: "Invalid sampling configuration", Details: err.Error()}
		}
	}

	cam := camera.NewCamera(p.ID, name, device, p.Capacity)
	cam.Sampling = p.Sampling

	if err := c.cameraManager.AddCamera(cam); err != nil {
		return nil, &BadRequestError{Message: "Failed to add camera", Details: err.Error()}
	}

	if p.Start {
		if err := c.cameraManager.ActivateCamera(cam.ID); err != nil {
			return nil, &InternalError{Message: "Camera added but failed to start: " + err.Error()}
		}
	}
	return c.info(cam), nil
}

// Delete stops and removes a camera
func (c *CameraImplementation) Delete(ctx context.Context, id string) error {
	if err := c.cameraManager.RemoveCamera(id); err != nil {
		if errors.Is(err, camera.ErrNotFound) {
			return &NotFoundError{Message: "Camera not found", ID: id}
		}
		return &InternalError{Message: err.Error()}
	}
	for _, fn := range c.onRemove {
		fn(id)
	}
	return nil
}

// Start activates counting for a camera. Starting an active camera is a
// no-op.
func (c *CameraImplementation) Start(ctx context.Context, id string) (*CameraInfo, error) {
	err := c.cameraManager.ActivateCamera(id)
	switch {
	case err == nil, errors.Is(err, camera.ErrAlreadyActive):
	case errors.Is(err, camera.ErrNotFound):
		return nil, &NotFoundError{Message: "Camera not found", ID: id}
	default:
		return nil, &InternalError{Message: "Failed to start camera: " + err.Error()}
	}
	return c.Get(ctx, id)
}

// Stop deactivates counting for a camera
func (c *CameraImplementation) Stop(ctx context.Context, id string) (*CameraInfo, error) {
	if err := c.cameraManager.DeactivateCamera(id); err != nil {
		if errors.Is(err, camera.ErrNotFound) {
			return nil, &NotFoundError{Message: "Camera not found", ID: id}
		}
		return nil, &InternalError{Message: "Failed to stop camera: " + err.Error()}
	}
	return c.Get(ctx, id)
}

// UpdateSampling replaces the per-camera sampling overrides
func (c *CameraImplementation) UpdateSampling(ctx context.Context, id string, sampling *pipeline.CameraSamplingConfig) (*CameraInfo, error) {
	if sampling != nil {
		if err := validateSampling(sampling); err != nil {
			return nil, &BadRequestError{Message: "Invalid sampling configuration", Details: err.Error()}
		}
	}
	if err := c.cameraManager.UpdateSampling(id, sampling); err != nil {
		if errors.Is(err, camera.ErrNotFound) {
			return nil, &NotFoundError{Message: "Camera not found", ID: id}
		}
		return nil, &InternalError{Message: err.Error()}
	}
	return c.Get(ctx, id)
}

// validateSampling checks overrides against the defaults they are merged into
func validateSampling(sampling *pipeline.CameraSamplingConfig) error {
	effective := sampling.MergeWithGlobal("", nil)
	if _, err := strategies.Create(effective); err != nil {
		return err
	}
	return effective.Detection.Validate()
}
