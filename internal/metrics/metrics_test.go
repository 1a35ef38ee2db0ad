package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver(t *testing.T) {
	t.Parallel()
	m := New()

	m.FrameProcessed("lobby", 3, 5*time.Millisecond)
	m.FrameProcessed("lobby", 4, 5*time.Millisecond)
	m.FrameRejected("lobby", "empty_frame")
	m.UplinkFailed()
	m.AlertSent("lobby")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesProcessed.WithLabelValues("lobby")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.peopleCount.WithLabelValues("lobby")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesRejected.WithLabelValues("lobby", "empty_frame")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uplinkFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertsSent.WithLabelValues("lobby")))

	m.ForgetCamera("lobby")
	assert.Equal(t, 0, testutil.CollectAndCount(m.peopleCount))
	assert.Equal(t, 0, testutil.CollectAndCount(m.framesRejected))
}

func TestHandler(t *testing.T) {
	t.Parallel()
	m := New()
	m.FrameProcessed("cam", 1, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `crowdcount_occupancy_people{camera_id="cam"} 1`)
	assert.Contains(t, string(body), "crowdcount_pipeline_frame_duration_seconds_bucket")
}
