package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdcount/internal/occupancy"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, occupancy.DefaultConfig(), cfg.Detection)
	assert.Equal(t, 640, cfg.Capture.Width)
	assert.Equal(t, 480, cfg.Capture.Height)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "crowdcount.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
detection:
  history_length: 200
  min_blob_area: 800
capture:
  mode: scheduled
  interval: 30s
cameras:
  - id: entrance
    name: Entrance
    source: rtsp://10.0.0.5/stream
    enabled: true
    capacity: 40
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 200, cfg.Detection.HistoryLength)
	assert.Equal(t, 800, cfg.Detection.MinBlobArea)
	assert.Equal(t, 50000, cfg.Detection.MaxBlobArea, "unset keys keep defaults")
	assert.Equal(t, occupancy.KernelEllipse, cfg.Detection.KernelShape)
	assert.Equal(t, 30*time.Second, cfg.Capture.Interval)
	require.Len(t, cfg.Cameras, 1)
	assert.Equal(t, 40, cfg.Cameras[0].Capacity)
}

func TestLoadRejectsInvalidDetection(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detection:\n  morphology_kernel_size: 4\n"), 0o600))

	_, err := Load(path)
	var cfgErr *occupancy.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "morphology_kernel_size", cfgErr.Field)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Cameras = []CameraConfig{{ID: "laptop-cam-001", Source: "/dev/video1", Capacity: 12}}

	cfg.ApplyEnv(envMap(map[string]string{
		"AUTH_ENABLED":       "true",
		"AUTH_PASSWORD":      "secret",
		"JWT_EXPIRY":         "2h",
		"CAMERA_ID":          "laptop-cam-001",
		"CAMERA_SOURCE":      "0",
		"UPLINK_ADDR":        "collector:9000",
		"TELEGRAM_BOT_TOKEN": "token",
		"TELEGRAM_CHAT_ID":   "42",
		"TELEGRAM_ENABLED":   "1",
		"PORT":               "8181",
	}))

	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "secret", cfg.Auth.Password)
	assert.Equal(t, 2*time.Hour, cfg.Auth.JWTExpiry)
	assert.Equal(t, "collector:9000", cfg.Uplink.Address)
	assert.True(t, cfg.Alerts.TelegramEnabled)
	assert.Equal(t, 8181, cfg.Server.Port)
	require.Len(t, cfg.Cameras, 1)
	assert.Equal(t, "/dev/video0", cfg.Cameras[0].Source)
	assert.Equal(t, 12, cfg.Cameras[0].Capacity)
}

func TestApplyEnvRTSPWins(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.ApplyEnv(envMap(map[string]string{
		"CAMERA_ID":     "cctv",
		"CAMERA_SOURCE": "0",
		"RTSP_URL":      "rtsp://cctv/live",
	}))
	require.Len(t, cfg.Cameras, 1)
	assert.Equal(t, "rtsp://cctv/live", cfg.Cameras[0].Source)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Capture.Mode = "motion"
	cfg.Cameras = []CameraConfig{{ID: "a", Source: "x"}, {ID: "a", Source: ""}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "capture.mode")
	assert.Contains(t, err.Error(), `duplicate camera id "a"`)
	assert.Contains(t, err.Error(), `camera "a" has no source`)
}

func TestBindFlags(t *testing.T) {
	t.Parallel()
	cfg := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)

	require.NoError(t, fs.Parse([]string{"--port", "7000", "--debug", "--uplink", "hq:9000"}))
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, "hq:9000", cfg.Uplink.Address)
}

func TestReadDefersValidation(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "crowdcount.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o644))

	cfg, err := Read(path)
	require.NoError(t, err)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--port", "8081"}))
	require.NoError(t, cfg.Validate())

	_, err = Load(path)
	assert.Error(t, err)
}
