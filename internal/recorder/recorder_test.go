package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"crowdcount/internal/database"
	"crowdcount/internal/heatmap"
	"crowdcount/internal/occupancy"
	"crowdcount/internal/pipeline"
)

func openDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "rec.db"), nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.SaveCamera(&database.CameraRecord{ID: "cam", Name: "Cam", Device: "rtsp://cam", Status: "active"}))
	t.Cleanup(func() { db.Close() })
	return db
}

func eventAt(ts time.Time, centroids ...occupancy.Point) *pipeline.OccupancyEvent {
	blobs := make([]occupancy.Blob, len(centroids))
	for i, c := range centroids {
		blobs[i] = occupancy.Blob{
			Box:      occupancy.BoundingBox{X: c.X - 5, Y: c.Y - 5, W: 10, H: 10},
			Centroid: c,
		}
	}
	return &pipeline.OccupancyEvent{
		Result: occupancy.Build("cam", ts, blobs),
		View:   occupancy.RenderAnonymousView(100, 100, blobs),
	}
}

func runUntilDrained(t *testing.T, r *Recorder, events ...*pipeline.OccupancyEvent) {
	t.Helper()
	for _, e := range events {
		r.OnOccupancy(e)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(r.queue) == 0 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRecorderWritesSamplesAndHeatmap(t *testing.T) {
	db := openDB(t)
	grid := heatmap.Grid{Cols: 2, Rows: 2}
	r := New(db, Options{Grid: grid, SampleInterval: 5 * time.Second, Retention: time.Hour}, zaptest.NewLogger(t))

	base := time.Now().UTC().Truncate(time.Second)
	r.now = func() time.Time { return base }

	runUntilDrained(t, r,
		eventAt(base, occupancy.Point{X: 10, Y: 10}, occupancy.Point{X: 90, Y: 90}),
		eventAt(base.Add(2*time.Second), occupancy.Point{X: 10, Y: 10}),
		eventAt(base.Add(6*time.Second)),
	)

	samples, err := db.ListSamples("cam", nil, 0)
	require.NoError(t, err)
	require.Len(t, samples, 2, "second event falls inside the sample interval")
	assert.Equal(t, 0, samples[0].PeopleCount)
	assert.Equal(t, 2, samples[1].PeopleCount)

	cells, err := db.GetHeatmap("cam", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []database.HeatmapCell{
		{Col: 0, Row: 0, Hits: 2},
		{Col: 1, Row: 1, Hits: 1},
	}, cells)
}

func TestRecorderPrunes(t *testing.T) {
	db := openDB(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.SaveSample(&database.SampleRecord{CameraID: "cam", Timestamp: now.Add(-48 * time.Hour), PeopleCount: 1}))
	require.NoError(t, db.SaveSample(&database.SampleRecord{CameraID: "cam", Timestamp: now.Add(-time.Hour), PeopleCount: 2}))

	r := New(db, Options{Grid: heatmap.Grid{Cols: 1, Rows: 1}, Retention: 24 * time.Hour}, nil)
	r.now = func() time.Time { return now }
	r.Prune()

	samples, err := db.ListSamples("cam", nil, 0)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 2, samples[0].PeopleCount)
}

func TestRecorderDropsWhenQueueFull(t *testing.T) {
	r := New(openDB(t), Options{Grid: heatmap.Grid{Cols: 1, Rows: 1}, QueueSize: 1}, nil)
	now := time.Now()
	r.OnOccupancy(eventAt(now))
	r.OnOccupancy(eventAt(now))
	r.OnOccupancy(nil)
	assert.Equal(t, uint64(1), r.dropped.Load())
}
