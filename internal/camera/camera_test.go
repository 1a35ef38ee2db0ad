package camera

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"crowdcount/internal/database"
	"crowdcount/internal/pipeline"
)

type fakePipelines struct {
	mu       sync.Mutex
	started  map[string]string
	updated  map[string]*pipeline.CameraSamplingConfig
	startErr error
}

func newFakePipelines() *fakePipelines {
	return &fakePipelines{
		started: make(map[string]string),
		updated: make(map[string]*pipeline.CameraSamplingConfig),
	}
}

func (f *fakePipelines) StartCamera(cameraID, device string, cfg *pipeline.CameraSamplingConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started[cameraID] = device
	return nil
}

func (f *fakePipelines) StopCamera(cameraID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.started, cameraID)
	return nil
}

func (f *fakePipelines) UpdateConfig(cameraID string, cfg *pipeline.CameraSamplingConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[cameraID] = cfg
	return nil
}

func (f *fakePipelines) running(cameraID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.started[cameraID]
	return ok
}

func openStore(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "cams.db"), nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddAndActivate(t *testing.T) {
	db := openStore(t)
	pipes := newFakePipelines()
	cm := NewCameraManager(db, pipes, zaptest.NewLogger(t))

	cam := NewCamera("lobby", "Lobby", "rtsp://10.0.0.5/stream", 30)
	require.NoError(t, cm.AddCamera(cam))
	assert.ErrorIs(t, cm.AddCamera(NewCamera("lobby", "Dup", "rtsp://x", 0)), ErrAlreadyExists)

	require.NoError(t, cm.ActivateCamera("lobby"))
	assert.True(t, cam.IsActive())
	assert.Equal(t, StatusActive, cam.GetStatus())
	assert.True(t, pipes.running("lobby"))
	assert.ErrorIs(t, cm.ActivateCamera("lobby"), ErrAlreadyActive)

	stored, err := db.GetCamera("lobby")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, stored.Status)
	assert.Equal(t, 30, stored.Capacity)

	require.NoError(t, cm.DeactivateCamera("lobby"))
	assert.False(t, cam.IsActive())
	assert.False(t, pipes.running("lobby"))
	require.NoError(t, cm.DeactivateCamera("lobby"))
}

func TestActivateFailureMarksError(t *testing.T) {
	pipes := newFakePipelines()
	pipes.startErr = errors.New("ffmpeg missing")
	cm := NewCameraManager(nil, pipes, nil)

	require.NoError(t, cm.AddCamera(NewCamera("door", "Door", "http://cam/snapshot.jpg", 0)))
	err := cm.ActivateCamera("door")
	require.Error(t, err)

	cam, err := cm.GetCamera("door")
	require.NoError(t, err)
	assert.Equal(t, StatusError, cam.GetStatus())
	assert.False(t, cam.IsActive())
}

func TestUnknownCamera(t *testing.T) {
	cm := NewCameraManager(nil, nil, nil)
	_, err := cm.GetCamera("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, cm.ActivateCamera("nope"), ErrNotFound)
	assert.ErrorIs(t, cm.RemoveCamera("nope"), ErrNotFound)
}

func TestMissingLocalDevice(t *testing.T) {
	cm := NewCameraManager(nil, nil, nil)
	err := cm.AddCamera(NewCamera("", "USB", filepath.Join(t.TempDir(), "video9"), 0))
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestReloadFromStore(t *testing.T) {
	db := openStore(t)
	every := 15
	mode := pipeline.SamplingModeEveryN

	cm := NewCameraManager(db, newFakePipelines(), nil)
	cam := NewCamera("hall", "Hall", "rtsp://hall", 12)
	cam.Sampling = &pipeline.CameraSamplingConfig{Mode: &mode, EveryN: &every}
	require.NoError(t, cm.AddCamera(cam))
	require.NoError(t, cm.ActivateCamera("hall"))

	reloaded := NewCameraManager(db, newFakePipelines(), nil)
	got, err := reloaded.GetCamera("hall")
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, got.GetStatus(), "cameras always start inactive")
	require.NotNil(t, got.Sampling)
	assert.Equal(t, 15, *got.Sampling.EveryN)
	assert.Equal(t, pipeline.SamplingModeEveryN, *got.Sampling.Mode)
}

func TestRemoveStopsPipeline(t *testing.T) {
	db := openStore(t)
	pipes := newFakePipelines()
	cm := NewCameraManager(db, pipes, nil)

	require.NoError(t, cm.AddCamera(NewCamera("a", "A", "rtsp://a", 0)))
	require.NoError(t, cm.ActivateCamera("a"))
	require.NoError(t, cm.RemoveCamera("a"))

	assert.False(t, pipes.running("a"))
	assert.Empty(t, cm.ListCameras())
	stored, err := db.GetCamera("a")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestUpdateSamplingOnActiveCamera(t *testing.T) {
	pipes := newFakePipelines()
	cm := NewCameraManager(nil, pipes, nil)
	require.NoError(t, cm.AddCamera(NewCamera("a", "A", "rtsp://a", 0)))
	require.NoError(t, cm.ActivateCamera("a"))

	n := 3
	cfg := &pipeline.CameraSamplingConfig{EveryN: &n}
	require.NoError(t, cm.UpdateSampling("a", cfg))
	assert.Same(t, cfg, pipes.updated["a"])

	info := cm.ListCameras()[0].Info()
	assert.Equal(t, "a", info.ID)
	assert.Equal(t, StatusActive, info.Status)
	assert.Same(t, cfg, info.Sampling)

	cm.StopAll()
	assert.False(t, pipes.running("a"))
}
