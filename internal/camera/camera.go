// Package camera keeps the registry of configured camera sources and drives
// their counting pipelines.
package camera

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crowdcount/internal/database"
	"crowdcount/internal/pipeline"
)

// Camera status values
const (
	StatusInactive = "inactive"
	StatusActive   = "active"
	StatusError    = "error"
)

var (
	// ErrNotFound is returned for unknown camera IDs
	ErrNotFound = errors.New("camera not found")
	// ErrAlreadyExists is returned when adding a duplicate camera ID
	ErrAlreadyExists = errors.New("camera already exists")
	// ErrDeviceUnavailable is returned when a local device cannot be opened
	ErrDeviceUnavailable = errors.New("camera device does not exist")
	// ErrAlreadyActive is returned when activating a running camera
	ErrAlreadyActive = errors.New("camera is already active")
)

// Camera represents a configured video source
type Camera struct {
	ID        string
	Name      string
	Device    string
	Capacity  int // Maximum comfortable occupancy, 0 when unknown
	Sampling  *pipeline.CameraSamplingConfig
	CreatedAt time.Time

	mu       sync.RWMutex
	status   string
	isActive bool
}

// Info is a point-in-time copy of a camera, safe to serialize
type Info struct {
	ID        string                         `json:"id"`
	Name      string                         `json:"name"`
	Device    string                         `json:"device"`
	Capacity  int                            `json:"capacity,omitempty"`
	Status    string                         `json:"status"`
	Sampling  *pipeline.CameraSamplingConfig `json:"sampling,omitempty"`
	CreatedAt time.Time                      `json:"created_at"`
}

// Store persists cameras
type Store interface {
	SaveCamera(cam *database.CameraRecord) error
	ListCameras() ([]*database.CameraRecord, error)
	DeleteCamera(id string) error
	UpdateCameraStatus(id, status string) error
}

// Pipelines starts and stops counting for a camera
type Pipelines interface {
	StartCamera(cameraID string, device string, cameraConfig *pipeline.CameraSamplingConfig) error
	StopCamera(cameraID string) error
	UpdateConfig(cameraID string, cameraConfig *pipeline.CameraSamplingConfig) error
}

// CameraManager manages multiple cameras
type CameraManager struct {
	cameras   map[string]*Camera
	mu        sync.RWMutex
	store     Store
	pipelines Pipelines
	logger    *zap.SugaredLogger

	// deviceExists is replaceable in tests
	deviceExists func(device string) bool
}

// NewCameraManager creates a camera manager and loads persisted cameras.
// store may be nil for an in-memory registry.
func NewCameraManager(store Store, pipelines Pipelines, logger *zap.Logger) *CameraManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	cm := &CameraManager{
		cameras:      make(map[string]*Camera),
		store:        store,
		pipelines:    pipelines,
		logger:       logger.Named("camera").Sugar(),
		deviceExists: deviceExists,
	}

	if store != nil {
		if err := cm.loadCamerasFromDB(); err != nil {
			cm.logger.Warnw("Failed to load cameras from database", "error", err)
		}
	}

	return cm
}

// loadCamerasFromDB loads cameras from the database
func (cm *CameraManager) loadCamerasFromDB() error {
	records, err := cm.store.ListCameras()
	if err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	for _, record := range records {
		cam := &Camera{
			ID:        record.ID,
			Name:      record.Name,
			Device:    record.Device,
			Capacity:  record.Capacity,
			CreatedAt: record.CreatedAt,
			status:    StatusInactive, // Always start inactive
		}
		if len(record.Sampling) > 0 {
			var sampling pipeline.CameraSamplingConfig
			if err := json.Unmarshal(record.Sampling, &sampling); err != nil {
				cm.logger.Warnw("Ignoring unreadable sampling config", "camera_id", record.ID, "error", err)
			} else {
				cam.Sampling = &sampling
			}
		}
		cm.cameras[cam.ID] = cam
	}

	cm.logger.Infow("Loaded cameras from database", "count", len(records))
	return nil
}

// NewCamera creates a new camera instance. An empty id is replaced by a
// random one.
func NewCamera(id, name, device string, capacity int) *Camera {
	if id == "" {
		id = uuid.NewString()
	}
	return &Camera{
		ID:        id,
		Name:      name,
		Device:    device,
		Capacity:  capacity,
		CreatedAt: time.Now().UTC(),
		status:    StatusInactive,
	}
}

// AddCamera adds a camera to the manager
func (cm *CameraManager) AddCamera(cam *Camera) error {
	if cam.Device == "" {
		return fmt.Errorf("camera %s has no device", cam.ID)
	}
	if !cm.deviceExists(cam.Device) {
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, cam.Device)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.cameras[cam.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, cam.ID)
	}

	if cm.store != nil {
		if err := cm.store.SaveCamera(toRecord(cam)); err != nil {
			return fmt.Errorf("failed to persist camera: %w", err)
		}
	}

	cm.cameras[cam.ID] = cam
	cm.logger.Infow("Camera added", "camera_id", cam.ID, "name", cam.Name)
	return nil
}

func toRecord(cam *Camera) *database.CameraRecord {
	record := &database.CameraRecord{
		ID:        cam.ID,
		Name:      cam.Name,
		Device:    cam.Device,
		Capacity:  cam.Capacity,
		Status:    cam.GetStatus(),
		CreatedAt: cam.CreatedAt,
	}
	if cam.Sampling != nil {
		if raw, err := json.Marshal(cam.Sampling); err == nil {
			record.Sampling = raw
		}
	}
	return record
}

// GetCamera retrieves a camera by ID
func (cm *CameraManager) GetCamera(id string) (*Camera, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	cam, exists := cm.cameras[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cam, nil
}

// ListCameras returns all cameras ordered by creation time
func (cm *CameraManager) ListCameras() []*Camera {
	cm.mu.RLock()
	cameras := make([]*Camera, 0, len(cm.cameras))
	for _, cam := range cm.cameras {
		cameras = append(cameras, cam)
	}
	cm.mu.RUnlock()

	sort.Slice(cameras, func(i, j int) bool {
		if cameras[i].CreatedAt.Equal(cameras[j].CreatedAt) {
			return cameras[i].ID < cameras[j].ID
		}
		return cameras[i].CreatedAt.Before(cameras[j].CreatedAt)
	})
	return cameras
}

// RemoveCamera stops and removes a camera together with its history
func (cm *CameraManager) RemoveCamera(id string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cam, exists := cm.cameras[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if cam.IsActive() && cm.pipelines != nil {
		if err := cm.pipelines.StopCamera(id); err != nil {
			cm.logger.Warnw("Failed to stop pipeline", "camera_id", id, "error", err)
		}
	}
	cam.setActive(false, StatusInactive)

	delete(cm.cameras, id)

	if cm.store != nil {
		if err := cm.store.DeleteCamera(id); err != nil {
			return fmt.Errorf("failed to delete camera: %w", err)
		}
	}

	cm.logger.Infow("Camera removed", "camera_id", id)
	return nil
}

// ActivateCamera starts capture and counting for a camera
func (cm *CameraManager) ActivateCamera(id string) error {
	cam, err := cm.GetCamera(id)
	if err != nil {
		return err
	}

	if cam.IsActive() {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, id)
	}

	if cm.pipelines != nil {
		if err := cm.pipelines.StartCamera(cam.ID, cam.Device, cam.Sampling); err != nil {
			cam.setActive(false, StatusError)
			cm.persistStatus(id, StatusError)
			return fmt.Errorf("failed to start camera %s: %w", id, err)
		}
	}

	cam.setActive(true, StatusActive)
	cm.persistStatus(id, StatusActive)
	cm.logger.Infow("Camera activated", "camera_id", id, "device", cam.Device)
	return nil
}

// DeactivateCamera stops capture and counting for a camera
func (cm *CameraManager) DeactivateCamera(id string) error {
	cam, err := cm.GetCamera(id)
	if err != nil {
		return err
	}

	if !cam.IsActive() {
		return nil
	}

	if cm.pipelines != nil {
		if err := cm.pipelines.StopCamera(id); err != nil {
			cm.logger.Warnw("Failed to stop pipeline", "camera_id", id, "error", err)
		}
	}

	cam.setActive(false, StatusInactive)
	cm.persistStatus(id, StatusInactive)
	cm.logger.Infow("Camera deactivated", "camera_id", id)
	return nil
}

// UpdateSampling replaces the sampling overrides of a camera. A running
// pipeline picks them up immediately.
func (cm *CameraManager) UpdateSampling(id string, sampling *pipeline.CameraSamplingConfig) error {
	cam, err := cm.GetCamera(id)
	if err != nil {
		return err
	}

	if cam.IsActive() && cm.pipelines != nil {
		if err := cm.pipelines.UpdateConfig(id, sampling); err != nil {
			return err
		}
	}

	cam.mu.Lock()
	cam.Sampling = sampling
	cam.mu.Unlock()

	if cm.store != nil {
		if err := cm.store.SaveCamera(toRecord(cam)); err != nil {
			return fmt.Errorf("failed to persist camera: %w", err)
		}
	}
	return nil
}

// StopAll deactivates every active camera
func (cm *CameraManager) StopAll() {
	for _, cam := range cm.ListCameras() {
		if cam.IsActive() {
			if err := cm.DeactivateCamera(cam.ID); err != nil {
				cm.logger.Warnw("Failed to deactivate camera", "camera_id", cam.ID, "error", err)
			}
		}
	}
}

func (cm *CameraManager) persistStatus(id, status string) {
	if cm.store == nil {
		return
	}
	if err := cm.store.UpdateCameraStatus(id, status); err != nil {
		cm.logger.Warnw("Failed to update camera status in database", "camera_id", id, "error", err)
	}
}

// isNetworkSource checks if device is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// deviceExists checks if a camera device exists
func deviceExists(device string) bool {
	// Network sources are checked when activating
	if isNetworkSource(device) {
		return true
	}

	if _, err := os.Stat(device); os.IsNotExist(err) {
		return false
	}

	// Try to open for read to check permissions
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer file.Close()

	return true
}

func (c *Camera) setActive(active bool, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isActive = active
	c.status = status
}

// IsActive returns whether the camera is currently active
func (c *Camera) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isActive
}

// GetStatus returns the current camera status
func (c *Camera) GetStatus() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Info returns a copy of the camera for serialization
func (c *Camera) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Info{
		ID:        c.ID,
		Name:      c.Name,
		Device:    c.Device,
		Capacity:  c.Capacity,
		Status:    c.status,
		Sampling:  c.Sampling,
		CreatedAt: c.CreatedAt,
	}
}
