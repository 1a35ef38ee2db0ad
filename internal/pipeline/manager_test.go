package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"crowdcount/internal/occupancy"
)

type fakeProvider struct {
	mu      sync.Mutex
	running map[string]bool
	subs    map[string]*FrameSubscription
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{running: map[string]bool{}, subs: map[string]*FrameSubscription{}}
}

func (p *fakeProvider) Start(cameraID, device string, fps, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[cameraID] = true
	return nil
}

func (p *fakeProvider) Stop(cameraID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running[cameraID] {
		return fmt.Errorf("camera %s not found", cameraID)
	}
	delete(p.running, cameraID)
	return nil
}

func (p *fakeProvider) Subscribe(cameraID string, bufferSize int) (*FrameSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub := &FrameSubscription{CameraID: cameraID, Channel: make(chan *FrameData), Done: make(chan struct{})}
	p.subs[cameraID] = sub
	return sub, nil
}

func (p *fakeProvider) Unsubscribe(sub *FrameSubscription) {}

func (p *fakeProvider) IsRunning(cameraID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[cameraID]
}

func (p *fakeProvider) GetStats(cameraID string) *CaptureStats {
	return &CaptureStats{CameraID: cameraID}
}

func (p *fakeProvider) send(cameraID string, frame *FrameData) {
	p.mu.Lock()
	sub := p.subs[cameraID]
	p.mu.Unlock()
	sub.Channel <- frame
}

// offer delivers frame unless the pipeline is not receiving.
func (p *fakeProvider) offer(cameraID string, frame *FrameData) bool {
	p.mu.Lock()
	sub := p.subs[cameraID]
	p.mu.Unlock()
	select {
	case sub.Channel <- frame:
		return true
	default:
		return false
	}
}

// rawDecoder treats capture bytes as a 100x100 grayscale image.
type rawDecoder struct{}

func (rawDecoder) Decode(frame *FrameData) (*occupancy.Frame, error) {
	if len(frame.Data) != 100*100 {
		return nil, errors.New("bad size")
	}
	return &occupancy.Frame{Pix: frame.Data, Width: 100, Height: 100, Channels: 1, Timestamp: frame.Timestamp}, nil
}

type everyFrame struct{}

func (everyFrame) Name() string { return "continuous" }
func (everyFrame) ShouldProcess(*FrameData) bool { return true }
func (everyFrame) OnProcessed(*occupancy.Result) {}
func (everyFrame) Reset() {}

func testFactory(cfg *EffectiveConfig) (SamplingStrategy, error) {
	if cfg.Mode == SamplingModeDisabled {
		return nil, errors.New("disabled in test")
	}
	return everyFrame{}, nil
}

func sceneBytes(square bool) []byte {
	pix := make([]byte, 100*100)
	for i := range pix {
		pix[i] = 50
	}
	if square {
		for y := 30; y < 70; y++ {
			for x := 30; x < 70; x++ {
				pix[y*100+x] = 200
			}
		}
	}
	return pix
}

func TestManager_CountsAndPublishes(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider()
	bus := NewEventBus()
	m := NewManager(provider, rawDecoder{}, bus, testFactory, WithManagerLogger(zaptest.NewLogger(t)))
	defer m.Close()

	events, unsub := bus.SubscribeChannel(100)
	defer unsub()

	require.NoError(t, m.StartCamera("lobby", "rtsp://lobby", nil))
	assert.True(t, provider.IsRunning("lobby"))
	assert.Error(t, m.StartCamera("lobby", "rtsp://lobby", nil))

	ts := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		provider.send("lobby", &FrameData{CameraID: "lobby", Seq: uint64(i + 1), Data: sceneBytes(false), Timestamp: ts})
	}
	provider.send("lobby", &FrameData{CameraID: "lobby", Seq: 11, Data: []byte{1, 2, 3}, Timestamp: ts})
	provider.send("lobby", &FrameData{CameraID: "lobby", Seq: 12, Data: sceneBytes(true), Timestamp: ts})

	var last *OccupancyEvent
	for i := 0; i < 11; i++ {
		select {
		case last = <-events:
		case <-time.After(5 * time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	require.NotNil(t, last)
	assert.Equal(t, uint64(12), last.FrameSeq)
	assert.Equal(t, 1, last.Result.PeopleCount)
	require.NotNil(t, last.View)
	assert.Equal(t, 100, last.View.Bounds().Dx())

	assert.Eventually(t, func() bool {
		latest := m.Latest("lobby")
		return latest != nil && latest.PeopleCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	stats := m.GetStats("lobby")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(11), stats.FramesProcessed)
	assert.Equal(t, uint64(1), stats.FramesRejected)
	assert.Equal(t, 1, stats.LastCount)
	assert.Equal(t, "ready", stats.State)
}

func TestManager_StopCamera(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider()
	m := NewManager(provider, rawDecoder{}, NewEventBus(), testFactory)

	require.NoError(t, m.StartCamera("cam", "/dev/video0", nil))
	assert.True(t, m.IsActive("cam"))
	require.NoError(t, m.StopCamera("cam"))
	assert.False(t, m.IsActive("cam"))
	assert.False(t, provider.IsRunning("cam"))
	assert.Nil(t, m.Latest("cam"))
	assert.Nil(t, m.GetStats("cam"))
	assert.Error(t, m.StopCamera("cam"))
}

func TestManager_NoEventsAfterStopCamera(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider()
	bus := NewEventBus()
	m := NewManager(provider, rawDecoder{}, bus, testFactory, WithManagerLogger(zaptest.NewLogger(t)))
	defer m.Close()

	events, unsub := bus.SubscribeChannel(1000)
	defer unsub()

	require.NoError(t, m.StartCamera("gate", "rtsp://gate", nil))

	feeding := make(chan struct{})
	fed := make(chan struct{})
	go func() {
		defer close(fed)
		ts := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
		for seq := uint64(1); ; seq++ {
			select {
			case <-feeding:
				return
			default:
			}
			provider.offer("gate", &FrameData{CameraID: "gate", Seq: seq, Data: sceneBytes(seq%2 == 0), Timestamp: ts})
		}
	}()

	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("no event before stop")
	}

	require.NoError(t, m.StopCamera("gate"))
	for len(events) > 0 {
		<-events
	}

	time.Sleep(50 * time.Millisecond)
	close(feeding)
	<-fed
	assert.Empty(t, events)
	assert.False(t, m.IsActive("gate"))
}

func TestManager_RejectsBadConfig(t *testing.T) {
	t.Parallel()
	m := NewManager(newFakeProvider(), rawDecoder{}, NewEventBus(), testFactory)

	bad := occupancy.DefaultConfig()
	bad.MorphologyKernelSize = 4
	err := m.StartCamera("cam", "x", &CameraSamplingConfig{Detection: &bad})
	var cfgErr *occupancy.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.False(t, m.IsActive("cam"))

	mode := SamplingModeDisabled
	assert.Error(t, m.StartCamera("cam", "x", &CameraSamplingConfig{Mode: &mode}))

	global := DefaultGlobalConfig()
	global.Detection = bad
	assert.Error(t, m.SetGlobalConfig(global))
}

func TestManager_UpdateConfigResetsModelOnTuningChange(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider()
	m := NewManager(provider, rawDecoder{}, NewEventBus(), testFactory)
	defer m.Close()

	require.NoError(t, m.StartCamera("cam", "x", nil))
	provider.send("cam", &FrameData{Data: sceneBytes(false)})
	assert.Eventually(t, func() bool { return m.GetStats("cam").State == "ready" }, 5*time.Second, 10*time.Millisecond)

	tuning := occupancy.DefaultConfig()
	tuning.HistoryLength = 100
	require.NoError(t, m.UpdateConfig("cam", &CameraSamplingConfig{Detection: &tuning}))
	assert.Equal(t, "uninitialized", m.GetStats("cam").State)
	assert.Equal(t, 100, m.GetEffectiveConfig("cam").Detection.HistoryLength)

	assert.Error(t, m.UpdateConfig("other", nil))
}
