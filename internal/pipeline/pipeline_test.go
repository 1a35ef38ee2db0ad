package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"crowdcount/internal/occupancy"
)

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestMergeWithGlobal(t *testing.T) {
	t.Parallel()
	global := DefaultGlobalConfig()

	var nilCfg *CameraSamplingConfig
	eff := nilCfg.MergeWithGlobal("cam", global)
	assert.Equal(t, SamplingModeEveryN, eff.Mode)
	assert.Equal(t, 1, eff.EveryN)
	assert.Equal(t, occupancy.DefaultConfig(), eff.Detection)

	mode := SamplingModeScheduled
	interval := 30 * time.Second
	detection := occupancy.DefaultConfig()
	detection.MinBlobArea = 2000
	eff = (&CameraSamplingConfig{Mode: &mode, Interval: &interval, Detection: &detection}).MergeWithGlobal("cam", global)
	assert.Equal(t, "cam", eff.CameraID)
	assert.Equal(t, SamplingModeScheduled, eff.Mode)
	assert.Equal(t, 30*time.Second, eff.Interval)
	assert.Equal(t, 2000, eff.Detection.MinBlobArea)
	assert.Equal(t, 1, eff.EveryN)
}

func TestEventBus(t *testing.T) {
	t.Parallel()
	bus := NewEventBus()

	var mu sync.Mutex
	var all, cam1 []string
	unsubAll := bus.Subscribe(ResultHandlerFunc(func(e *OccupancyEvent) {
		mu.Lock()
		defer mu.Unlock()
		all = append(all, e.CameraID())
	}))
	bus.SubscribeCamera("cam1", ResultHandlerFunc(func(e *OccupancyEvent) {
		mu.Lock()
		defer mu.Unlock()
		cam1 = append(cam1, e.CameraID())
	}))
	ch, unsubCh := bus.SubscribeCameraChannel("cam2", 1)

	bus.Publish(&OccupancyEvent{Result: &occupancy.Result{CameraID: "cam1"}})
	bus.Publish(&OccupancyEvent{Result: &occupancy.Result{CameraID: "cam2"}})
	bus.Publish(&OccupancyEvent{Result: &occupancy.Result{CameraID: "cam2"}}) // dropped, channel full
	bus.Publish(nil)

	assert.Equal(t, []string{"cam1", "cam2", "cam2"}, all)
	assert.Equal(t, []string{"cam1"}, cam1)
	got := <-ch
	assert.Equal(t, "cam2", got.CameraID())
	assert.Equal(t, 3, bus.SubscriberCount())

	unsubAll()
	unsubCh()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Close()
	assert.Zero(t, bus.SubscriberCount())
}

func TestExtractJPEGFrame(t *testing.T) {
	t.Parallel()
	buf := []byte{0x00, 0x01, 0xFF, 0xD8, 0x10, 0x20, 0xFF, 0xD9, 0xFF, 0xD8, 0x30}

	frame := extractJPEGFrame(&buf)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x10, 0x20, 0xFF, 0xD9}, frame)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x30}, buf)

	assert.Nil(t, extractJPEGFrame(&buf), "incomplete frame")
}

func TestFFmpegArgs(t *testing.T) {
	t.Parallel()
	rtsp := ffmpegArgs("rtsp://cam/stream", 5, 640, 480)
	assert.Equal(t, []string{"-rtsp_transport", "tcp", "-i", "rtsp://cam/stream"}, rtsp[:4])

	v4l2 := ffmpegArgs("/dev/video0", 10, 640, 480)
	assert.Contains(t, v4l2, "640x480")
	assert.Equal(t, "-", v4l2[len(v4l2)-1])
}

func TestFrameProvider_HTTPSnapshots(t *testing.T) {
	t.Parallel()
	jpg := encodeJPEG(t, solidImage(32, 24, color.Gray{Y: 100}))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpg)
	}))
	defer srv.Close()

	p := NewFFmpegFrameProvider(zaptest.NewLogger(t))
	require.NoError(t, p.Start("cam", srv.URL+"/snapshot.jpg", 10, 32, 24))
	defer p.Stop("cam")
	assert.Error(t, p.Start("cam", srv.URL+"/snapshot.jpg", 10, 32, 24))

	sub, err := p.Subscribe("cam", 2)
	require.NoError(t, err)

	select {
	case frame := <-sub.Channel:
		assert.Equal(t, "cam", frame.CameraID)
		assert.Equal(t, jpg, frame.Data)
		assert.NotZero(t, frame.Seq)
	case <-time.After(5 * time.Second):
		t.Fatal("no frame received")
	}

	stats := p.GetStats("cam")
	require.NotNil(t, stats)
	assert.NotZero(t, stats.FramesCaptured)

	p.Unsubscribe(sub)
	<-sub.Done
}

func TestFrameProvider_UnknownCamera(t *testing.T) {
	t.Parallel()
	p := NewFFmpegFrameProvider(nil)
	_, err := p.Subscribe("missing", 1)
	assert.Error(t, err)
	assert.Error(t, p.Stop("missing"))
	assert.False(t, p.IsRunning("missing"))
	assert.Nil(t, p.GetStats("missing"))
}

func TestJPEGDecoder(t *testing.T) {
	t.Parallel()
	data := encodeJPEG(t, solidImage(160, 120, color.RGBA{200, 200, 200, 255}))
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	gray := NewJPEGDecoder(DecoderOptions{Width: 64, Height: 48, Grayscale: true, BlurSigma: 1})
	f, err := gray.Decode(&FrameData{Data: data, Timestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, occupancy.Geometry{Width: 64, Height: 48, Channels: 1}, f.Geometry())
	assert.Len(t, f.Pix, 64*48)
	assert.InDelta(t, 200, int(f.Pix[len(f.Pix)/2]), 6)
	assert.Equal(t, ts, f.Timestamp)
	require.NoError(t, f.Validate())

	rgb := NewJPEGDecoder(DefaultDecoderOptions())
	f, err = rgb.Decode(&FrameData{Data: data})
	require.NoError(t, err)
	assert.Equal(t, occupancy.Geometry{Width: 640, Height: 480, Channels: 3}, f.Geometry())

	_, err = rgb.Decode(&FrameData{Data: []byte("not a jpeg")})
	assert.ErrorIs(t, err, ErrUndecodableFrame)
	_, err = rgb.Decode(nil)
	assert.ErrorIs(t, err, ErrUndecodableFrame)
}
