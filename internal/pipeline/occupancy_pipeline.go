package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"crowdcount/internal/occupancy"
)

// CaptureSettings describes how cameras are opened by the frame provider
type CaptureSettings struct {
	FPS    int
	Width  int
	Height int
}

// CameraPipeline feeds the frames of a single camera through sampling,
// decoding and counting
type CameraPipeline struct {
	cameraID      string
	config        *EffectiveConfig
	strategy      SamplingStrategy
	counter       *occupancy.Pipeline
	decoder       FrameDecoder
	frameProvider FrameProvider
	eventBus      *EventBus
	logger        *zap.SugaredLogger
	stopCh        chan struct{}
	doneCh        chan struct{}
	stopOnce      sync.Once
	mu            sync.RWMutex
	latest        *occupancy.Result
	stats         *PipelineStats
	statsMu       sync.RWMutex
}

// Manager manages occupancy pipelines for all cameras
type Manager struct {
	pipelines       map[string]*CameraPipeline
	frameProvider   FrameProvider
	decoder         FrameDecoder
	eventBus        *EventBus
	strategyFactory func(*EffectiveConfig) (SamplingStrategy, error)
	capture         CaptureSettings
	observer        occupancy.Observer
	logger          *zap.Logger
	mu              sync.RWMutex
	globalConfig    *GlobalSamplingConfig
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger
func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObserver registers an observer passed to every camera's counter
func WithObserver(o occupancy.Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// WithCaptureSettings overrides the capture frame rate and size
func WithCaptureSettings(s CaptureSettings) ManagerOption {
	return func(m *Manager) { m.capture = s }
}

// WithGlobalConfig sets the initial global sampling configuration
func WithGlobalConfig(cfg *GlobalSamplingConfig) ManagerOption {
	return func(m *Manager) {
		if cfg != nil {
			m.globalConfig = cfg
		}
	}
}

// NewManager creates a new pipeline manager
func NewManager(
	frameProvider FrameProvider,
	decoder FrameDecoder,
	eventBus *EventBus,
	strategyFactory func(*EffectiveConfig) (SamplingStrategy, error),
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		pipelines:       make(map[string]*CameraPipeline),
		frameProvider:   frameProvider,
		decoder:         decoder,
		eventBus:        eventBus,
		strategyFactory: strategyFactory,
		capture:         CaptureSettings{FPS: 15, Width: 640, Height: 480},
		logger:          zap.NewNop(),
		globalConfig:    DefaultGlobalConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetGlobalConfig updates the global configuration. Running cameras keep
// their configuration until UpdateConfig is called.
func (m *Manager) SetGlobalConfig(config *GlobalSamplingConfig) error {
	if config == nil {
		return errors.New("nil global config")
	}
	if err := config.Detection.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalConfig = config
	return nil
}

// GetGlobalConfig returns the current global configuration
func (m *Manager) GetGlobalConfig() *GlobalSamplingConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.globalConfig
	return &cfg
}

// StartCamera starts capture (if needed) and counting for a camera
func (m *Manager) StartCamera(cameraID string, device string, cameraConfig *CameraSamplingConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pipelines[cameraID]; exists {
		return fmt.Errorf("pipeline already exists for camera %s", cameraID)
	}

	effectiveConfig := cameraConfig.MergeWithGlobal(cameraID, m.globalConfig)

	strategy, err := m.strategyFactory(effectiveConfig)
	if err != nil {
		return fmt.Errorf("failed to create strategy: %w", err)
	}

	counter, err := m.newCounter(effectiveConfig)
	if err != nil {
		return fmt.Errorf("failed to create occupancy pipeline: %w", err)
	}

	if !m.frameProvider.IsRunning(cameraID) {
		if err := m.frameProvider.Start(cameraID, device, m.capture.FPS, m.capture.Width, m.capture.Height); err != nil {
			return fmt.Errorf("failed to start capture: %w", err)
		}
	}

	sub, err := m.frameProvider.Subscribe(cameraID, 5)
	if err != nil {
		m.frameProvider.Stop(cameraID)
		return fmt.Errorf("failed to subscribe to frames: %w", err)
	}

	p := &CameraPipeline{
		cameraID:      cameraID,
		config:        effectiveConfig,
		strategy:      strategy,
		counter:       counter,
		decoder:       m.decoder,
		frameProvider: m.frameProvider,
		eventBus:      m.eventBus,
		logger:        m.logger.Named("pipeline").Sugar().With("camera_id", cameraID),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		stats: &PipelineStats{
			CameraID:    cameraID,
			CurrentMode: effectiveConfig.Mode,
		},
	}

	m.pipelines[cameraID] = p

	go p.run(sub)

	p.logger.Infof("Started occupancy pipeline for camera %s (mode: %s)", cameraID, effectiveConfig.Mode)
	return nil
}

func (m *Manager) newCounter(cfg *EffectiveConfig) (*occupancy.Pipeline, error) {
	opts := []occupancy.Option{occupancy.WithLogger(m.logger.Named("occupancy"))}
	if m.observer != nil {
		opts = append(opts, occupancy.WithObserver(m.observer))
	}
	return occupancy.NewPipeline(cfg.CameraID, cfg.Detection, opts...)
}

// StopCamera stops counting and capture for a camera
func (m *Manager) StopCamera(cameraID string) error {
	m.mu.Lock()
	p, exists := m.pipelines[cameraID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("pipeline not found for camera %s", cameraID)
	}
	delete(m.pipelines, cameraID)
	m.mu.Unlock()

	p.stop()
	if err := m.frameProvider.Stop(cameraID); err != nil {
		p.logger.Warnf("Failed to stop capture: %v", err)
	}
	p.logger.Infof("Stopped occupancy pipeline for camera %s", cameraID)
	return nil
}

// UpdateConfig updates sampling and detection configuration for a camera.
// A change of detection tuning restarts the background model.
func (m *Manager) UpdateConfig(cameraID string, cameraConfig *CameraSamplingConfig) error {
	m.mu.RLock()
	p, exists := m.pipelines[cameraID]
	global := m.globalConfig
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("pipeline not found for camera %s", cameraID)
	}

	effectiveConfig := cameraConfig.MergeWithGlobal(cameraID, global)

	strategy, err := m.strategyFactory(effectiveConfig)
	if err != nil {
		return fmt.Errorf("failed to create strategy: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if effectiveConfig.Detection != p.config.Detection {
		counter, err := m.newCounter(effectiveConfig)
		if err != nil {
			return fmt.Errorf("failed to create occupancy pipeline: %w", err)
		}
		p.counter.Stop()
		p.counter = counter
	}
	p.strategy = strategy
	p.config = effectiveConfig

	p.statsMu.Lock()
	p.stats.CurrentMode = effectiveConfig.Mode
	p.statsMu.Unlock()

	p.logger.Infof("Updated config for camera %s (mode: %s)", cameraID, effectiveConfig.Mode)
	return nil
}

// GetStats returns pipeline statistics for a camera
func (m *Manager) GetStats(cameraID string) *PipelineStats {
	m.mu.RLock()
	p, exists := m.pipelines[cameraID]
	m.mu.RUnlock()

	if !exists {
		return nil
	}

	p.statsMu.RLock()
	stats := *p.stats
	p.statsMu.RUnlock()

	stats.CaptureStats = m.frameProvider.GetStats(cameraID)
	p.mu.RLock()
	stats.State = p.counter.State().String()
	p.mu.RUnlock()
	return &stats
}

// GetEffectiveConfig returns the effective configuration for a camera,
// or nil when the camera has no active pipeline
func (m *Manager) GetEffectiveConfig(cameraID string) *EffectiveConfig {
	m.mu.RLock()
	p, exists := m.pipelines[cameraID]
	m.mu.RUnlock()

	if !exists {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	config := *p.config
	return &config
}

// Latest returns the most recent result for a camera
func (m *Manager) Latest(cameraID string) *occupancy.Result {
	m.mu.RLock()
	p, exists := m.pipelines[cameraID]
	m.mu.RUnlock()

	if !exists {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// IsActive reports whether a camera has a running pipeline
func (m *Manager) IsActive(cameraID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.pipelines[cameraID]
	return exists
}

// SubscribeResults registers a handler for occupancy events
func (m *Manager) SubscribeResults(handler ResultHandler) func() {
	return m.eventBus.Subscribe(handler)
}

// Close shuts down all pipelines
func (m *Manager) Close() error {
	m.mu.Lock()
	pipelines := m.pipelines
	m.pipelines = make(map[string]*CameraPipeline)
	m.mu.Unlock()

	for cameraID, p := range pipelines {
		p.stop()
		m.frameProvider.Stop(cameraID)
	}

	m.logger.Named("pipeline").Info("Closed all occupancy pipelines")
	return nil
}

// run is the main processing loop for a single camera pipeline. A stop
// request is honoured before the next frame is counted, never mid-frame.
func (p *CameraPipeline) run(sub *FrameSubscription) {
	defer close(p.doneCh)
	defer p.frameProvider.Unsubscribe(sub)

	for {
		if p.stopping() {
			return
		}

		select {
		case <-p.stopCh:
			return
		case <-sub.Done:
			return
		case frame := <-sub.Channel:
			if frame == nil || p.stopping() {
				continue
			}
			p.processFrame(frame)
		}
	}
}

func (p *CameraPipeline) stopping() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// stop halts the counter first, so a frame in flight finishes and nothing
// after it is counted, then waits for the loop to exit.
func (p *CameraPipeline) stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)

		p.mu.RLock()
		counter := p.counter
		p.mu.RUnlock()
		counter.Stop()

		<-p.doneCh
	})
}

func (p *CameraPipeline) processFrame(frame *FrameData) {
	p.mu.RLock()
	strategy := p.strategy
	counter := p.counter
	p.mu.RUnlock()

	if !strategy.ShouldProcess(frame) {
		return
	}

	start := time.Now()
	raw, err := p.decoder.Decode(frame)
	if err != nil {
		p.rejected(err)
		return
	}

	result, view, err := counter.ProcessWithView(raw)
	if errors.Is(err, occupancy.ErrPipelineStopped) {
		return
	}
	if err != nil {
		p.rejected(err)
		return
	}
	elapsed := time.Since(start)

	strategy.OnProcessed(result)

	p.mu.Lock()
	p.latest = result
	p.mu.Unlock()

	p.statsMu.Lock()
	p.stats.FramesProcessed++
	p.stats.LastResultTime = result.Timestamp.Unix()
	p.stats.LastCount = result.PeopleCount
	ms := float32(elapsed.Microseconds()) / 1000
	if p.stats.AvgProcessingMs == 0 {
		p.stats.AvgProcessingMs = ms
	} else {
		p.stats.AvgProcessingMs = (p.stats.AvgProcessingMs + ms) / 2
	}
	p.statsMu.Unlock()

	if p.stopping() {
		return
	}
	p.eventBus.Publish(&OccupancyEvent{Result: result, View: view, FrameSeq: frame.Seq})
}

func (p *CameraPipeline) rejected(err error) {
	p.statsMu.Lock()
	p.stats.FramesRejected++
	n := p.stats.FramesRejected
	p.statsMu.Unlock()

	// Log the first rejection and then every 100th to keep a broken feed quiet.
	if n == 1 || n%100 == 0 {
		p.logger.Warnf("Frame rejected for camera %s (%d total): %v", p.cameraID, n, err)
	}
}

// Ensure Manager implements PipelineManager
var _ PipelineManager = (*Manager)(nil)
