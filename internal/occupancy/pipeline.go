package occupancy

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of a Pipeline.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Observer receives per-frame outcomes. Implementations must be safe for
// concurrent use across pipelines.
type Observer interface {
	FrameProcessed(cameraID string, peopleCount int, elapsed time.Duration)
	FrameRejected(cameraID string, reason string)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock sets the time source used for frames without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithObserver registers an observer for processed and rejected frames.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// Pipeline runs frames of one camera through background subtraction, mask
// cleanup, blob extraction and result building. Calls are serialized.
type Pipeline struct {
	cameraID string
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	observer Observer

	mu      sync.Mutex
	state   State
	model   *BackgroundModel
	cleaner *Cleaner

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPipeline validates cfg and returns a pipeline in the Uninitialized state.
func NewPipeline(cameraID string, cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cleaner, err := NewCleaner(cfg.MorphologyKernelSize, cfg.KernelShape)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cameraID: cameraID,
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
		model:    NewBackgroundModel(cfg.HistoryLength, cfg.VarianceThreshold),
		cleaner:  cleaner,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("camera_id", cameraID))
	return p, nil
}

// CameraID returns the camera this pipeline belongs to.
func (p *Pipeline) CameraID() string { return p.cameraID }

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config { return p.cfg }

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Process runs one frame through the pipeline.
func (p *Pipeline) Process(frame *Frame) (*Result, error) {
	result, _, err := p.process(frame)
	return result, err
}

// ProcessWithView is Process plus the synthetic view of the same blobs.
func (p *Pipeline) ProcessWithView(frame *Frame) (*Result, *image.RGBA, error) {
	result, blobs, err := p.process(frame)
	if err != nil {
		return nil, nil, err
	}
	return result, RenderAnonymousView(frame.Width, frame.Height, blobs), nil
}

func (p *Pipeline) process(frame *Frame) (*Result, []Blob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateStopped {
		return nil, nil, ErrPipelineStopped
	}

	start := time.Now()
	raw, err := p.model.Apply(frame)
	if err != nil {
		p.rejected(err)
		return nil, nil, err
	}

	cleaned := p.cleaner.Clean(raw)
	blobs := Extract(cleaned, p.cfg.MinBlobArea, p.cfg.MaxBlobArea, p.cfg.Confidence)

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}
	result := Build(p.cameraID, ts, blobs)

	if p.state == StateUninitialized {
		p.state = StateReady
		p.logger.Info("background model seeded", zap.Stringer("geometry", p.model.Geometry()))
	}
	if p.observer != nil {
		p.observer.FrameProcessed(p.cameraID, result.PeopleCount, time.Since(start))
	}
	return result, blobs, nil
}

func (p *Pipeline) rejected(err error) {
	reason := "invalid"
	var mismatch *GeometryMismatchError
	switch {
	case errors.Is(err, ErrEmptyFrame):
		reason = "empty_frame"
	case errors.As(err, &mismatch):
		reason = "geometry_mismatch"
	}
	p.logger.Warn("frame rejected", zap.String("reason", reason), zap.Error(err))
	if p.observer != nil {
		p.observer.FrameRejected(p.cameraID, reason)
	}
}

// Stop moves the pipeline to Stopped. A frame in flight completes first.
// Stop is idempotent.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.mu.Lock()
		p.state = StateStopped
		p.mu.Unlock()
		p.logger.Info("pipeline stopped")
	})
}

// Done is closed once Stop has been called.
func (p *Pipeline) Done() <-chan struct{} {
	return p.stopCh
}

// Run processes frames until the channel closes, ctx is cancelled or Stop is
// called. The stop signals are checked before each frame is taken, never
// mid-frame, and cancellation moves the pipeline to Stopped. Rejected frames
// are logged and skipped. Run returns ctx.Err() on cancellation and nil
// otherwise.
func (p *Pipeline) Run(ctx context.Context, frames <-chan *Frame, sink func(*Result)) error {
	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				p.Stop()
				return ctx.Err()
			}
			result, err := p.Process(frame)
			if errors.Is(err, ErrPipelineStopped) {
				return nil
			}
			if err != nil {
				continue
			}
			if sink != nil {
				sink(result)
			}
		}
	}
}
