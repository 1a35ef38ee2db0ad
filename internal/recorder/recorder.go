// Package recorder persists the aggregate side of occupancy results: count
// samples and heatmap hits. It also prunes samples past their retention.
package recorder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"crowdcount/internal/database"
	"crowdcount/internal/heatmap"
	"crowdcount/internal/pipeline"
)

// Store is the persistence the recorder writes to
type Store interface {
	SaveSample(sample *database.SampleRecord) error
	AddHeatmapHits(cameraID string, cols, rows int, cells []database.HeatmapCell) error
	DeleteSamplesBefore(before time.Time) (int64, error)
}

// Options tune the recorder
type Options struct {
	Grid           heatmap.Grid
	Retention      time.Duration // Samples older than this are deleted
	PruneInterval  time.Duration
	SampleInterval time.Duration // Minimum spacing of stored samples per camera
	QueueSize      int
}

// Recorder is a pipeline.ResultHandler that writes asynchronously
type Recorder struct {
	store  Store
	opts   Options
	logger *zap.SugaredLogger
	now    func() time.Time
	queue  chan *pipeline.OccupancyEvent

	mu         sync.Mutex
	lastSample map[string]time.Time

	dropped atomic.Uint64
}

// New creates a recorder
func New(store Store, opts Options, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = time.Hour
	}
	return &Recorder{
		store:      store,
		opts:       opts,
		logger:     logger.Named("recorder").Sugar(),
		now:        time.Now,
		queue:      make(chan *pipeline.OccupancyEvent, opts.QueueSize),
		lastSample: make(map[string]time.Time),
	}
}

// OnOccupancy implements pipeline.ResultHandler
func (r *Recorder) OnOccupancy(event *pipeline.OccupancyEvent) {
	if event == nil || event.Result == nil {
		return
	}
	select {
	case r.queue <- event:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warnw("Recorder queue full, dropping results", "dropped_total", n)
		}
	}
}

// Run writes queued events and prunes old samples until ctx is cancelled
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.PruneInterval)
	defer ticker.Stop()

	r.Prune()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case event := <-r.queue:
			r.record(event)
		case <-ticker.C:
			r.Prune()
		}
	}
}

// drain writes what is still queued
func (r *Recorder) drain() {
	for {
		select {
		case event := <-r.queue:
			r.record(event)
		default:
			return
		}
	}
}

func (r *Recorder) record(event *pipeline.OccupancyEvent) {
	result := event.Result
	cameraID := result.CameraID

	if r.dueForSample(cameraID, result.Timestamp) {
		sample := &database.SampleRecord{
			CameraID:    cameraID,
			Timestamp:   result.Timestamp,
			PeopleCount: result.PeopleCount,
		}
		if err := r.store.SaveSample(sample); err != nil {
			r.logger.Warnw("Failed to save sample", "camera_id", cameraID, "error", err)
		}
	}

	if event.View == nil || len(result.Detections) == 0 {
		return
	}
	bounds := event.View.Bounds()
	cells := r.opts.Grid.Bin(result, bounds.Dx(), bounds.Dy())
	if err := r.store.AddHeatmapHits(cameraID, r.opts.Grid.Cols, r.opts.Grid.Rows, cells); err != nil {
		r.logger.Warnw("Failed to update heatmap", "camera_id", cameraID, "error", err)
	}
}

func (r *Recorder) dueForSample(cameraID string, ts time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.lastSample[cameraID]
	if ok && ts.Sub(last) < r.opts.SampleInterval {
		return false
	}
	r.lastSample[cameraID] = ts
	return true
}

// Forget clears the sampling state of a camera
func (r *Recorder) Forget(cameraID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastSample, cameraID)
}

// Prune deletes samples older than the retention window
func (r *Recorder) Prune() {
	if r.opts.Retention <= 0 {
		return
	}
	deleted, err := r.store.DeleteSamplesBefore(r.now().Add(-r.opts.Retention))
	if err != nil {
		r.logger.Warnw("Failed to prune samples", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.Infow("Pruned old samples", "deleted", deleted)
	}
}
