package services

import (
	"context"
	"time"

	"crowdcount/internal/camera"
	"crowdcount/internal/database"
	"crowdcount/internal/heatmap"
	"crowdcount/internal/insights"
	"crowdcount/internal/occupancy"
)

const (
	defaultHistoryLimit = 500
	maxHistoryLimit     = 10000
	defaultInsightsSpan = time.Hour
)

// LatestSource returns the newest live result of a camera
type LatestSource interface {
	Latest(cameraID string) *occupancy.Result
}

// SampleStore is the read side of the persisted aggregates
type SampleStore interface {
	ListSamples(cameraID string, since *time.Time, limit int) ([]*database.SampleRecord, error)
	GetHeatmap(cameraID string, cols, rows int) ([]database.HeatmapCell, error)
	ResetHeatmap(cameraID string) error
}

// HistoryPayload selects stored samples
type HistoryPayload struct {
	CameraID string
	Since    *time.Time
	Limit    int
}

// Sample is one stored count
type Sample struct {
	Timestamp   time.Time `json:"timestamp"`
	PeopleCount int       `json:"people_count"`
}

// HistoryResult lists samples, newest first
type HistoryResult struct {
	CameraID string   `json:"camera_id"`
	Samples  []Sample `json:"samples"`
}

// OccupancyImplementation serves live counts and the aggregates derived
// from them
type OccupancyImplementation struct {
	cameraManager *camera.CameraManager
	latest        LatestSource
	store         SampleStore
	grid          heatmap.Grid
	span          time.Duration
	now           func() time.Time
}

// NewOccupancyService creates the occupancy service. span is the window the
// recommendations summarize; zero selects one hour.
func NewOccupancyService(cameraManager *camera.CameraManager, latest LatestSource, store SampleStore, grid heatmap.Grid, span time.Duration) *OccupancyImplementation {
	if span <= 0 {
		span = defaultInsightsSpan
	}
	return &OccupancyImplementation{
		cameraManager: cameraManager,
		latest:        latest,
		store:         store,
		grid:          grid,
		span:          span,
		now:           time.Now,
	}
}

func (o *OccupancyImplementation) camera(id string) (*camera.Camera, error) {
	cam, err := o.cameraManager.GetCamera(id)
	if err != nil {
		return nil, &NotFoundError{Message: "Camera not found", ID: id}
	}
	return cam, nil
}

// Latest returns the most recent result of a camera
func (o *OccupancyImplementation) Latest(ctx context.Context, cameraID string) (*occupancy.Result, error) {
	if _, err := o.camera(cameraID); err != nil {
		return nil, err
	}
	result := o.latest.Latest(cameraID)
	if result == nil {
		return nil, &NotFoundError{Message: "No occupancy result yet", ID: cameraID}
	}
	return result, nil
}

// History returns stored count samples
func (o *OccupancyImplementation) History(ctx context.Context, p *HistoryPayload) (*HistoryResult, error) {
	if _, err := o.camera(p.CameraID); err != nil {
		return nil, err
	}

	limit := p.Limit
	switch {
	case limit < 0:
		return nil, &BadRequestError{Message: "limit must not be negative"}
	case limit == 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	records, err := o.store.ListSamples(p.CameraID, p.Since, limit)
	if err != nil {
		return nil, &InternalError{Message: err.Error()}
	}

	result := &HistoryResult{CameraID: p.CameraID, Samples: make([]Sample, len(records))}
	for i, r := range records {
		result.Samples[i] = Sample{Timestamp: r.Timestamp, PeopleCount: r.PeopleCount}
	}
	return result, nil
}

// Heatmap returns the normalized heatmap of a camera
func (o *OccupancyImplementation) Heatmap(ctx context.Context, cameraID string) (*heatmap.Map, error) {
	if _, err := o.camera(cameraID); err != nil {
		return nil, err
	}
	cells, err := o.store.GetHeatmap(cameraID, o.grid.Cols, o.grid.Rows)
	if err != nil {
		return nil, &InternalError{Message: err.Error()}
	}
	return heatmap.Build(cameraID, o.grid, cells), nil
}

// ResetHeatmap clears the accumulated heatmap of a camera
func (o *OccupancyImplementation) ResetHeatmap(ctx context.Context, cameraID string) error {
	if _, err := o.camera(cameraID); err != nil {
		return err
	}
	if err := o.store.ResetHeatmap(cameraID); err != nil {
		return &InternalError{Message: err.Error()}
	}
	return nil
}

// Recommendations summarizes the recent window and classifies the current
// density
func (o *OccupancyImplementation) Recommendations(ctx context.Context, cameraID string) (*insights.Summary, error) {
	cam, err := o.camera(cameraID)
	if err != nil {
		return nil, err
	}

	since := o.now().Add(-o.span)
	samples, err := o.store.ListSamples(cameraID, &since, maxHistoryLimit)
	if err != nil {
		return nil, &InternalError{Message: err.Error()}
	}

	current := -1
	if result := o.latest.Latest(cameraID); result != nil {
		current = result.PeopleCount
	}
	return insights.Summarize(cameraID, samples, current, cam.Capacity), nil
}
