package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"crowdcount/internal/occupancy"
	"crowdcount/internal/pipeline"
)

type fakeStatus struct {
	latest *occupancy.Result
}

func (f *fakeStatus) IsActive(string) bool            { return true }
func (f *fakeStatus) Latest(string) *occupancy.Result { return f.latest }

func result(cameraID string, count int) *occupancy.Result {
	blobs := make([]occupancy.Blob, count)
	for i := range blobs {
		blobs[i] = occupancy.Blob{
			Box:        occupancy.BoundingBox{X: i * 50, Y: 10, W: 40, H: 40},
			Centroid:   occupancy.Point{X: i*50 + 20, Y: 30},
			Area:       1600,
			Confidence: 0.85,
		}
	}
	return occupancy.Build(cameraID, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), blobs)
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandlerStreamsResults(t *testing.T) {
	hub := NewOccupancyHub(zaptest.NewLogger(t))
	defer hub.Close()
	status := &fakeStatus{latest: result("lobby", 1)}
	srv := httptest.NewServer(NewHandler(hub, status))
	defer srv.Close()

	conn := dial(t, srv, "/ws/occupancy/lobby")

	hello := readJSON(t, conn)
	assert.Equal(t, TypeStatus, hello["type"])
	assert.Equal(t, "lobby", hello["camera_id"])
	assert.Equal(t, true, hello["active"])

	latest := readJSON(t, conn)
	assert.Equal(t, TypeOccupancy, latest["type"])

	require.True(t, hub.HasClients("lobby"))
	hub.OnOccupancy(&pipeline.OccupancyEvent{Result: result("lobby", 2)})
	hub.OnOccupancy(&pipeline.OccupancyEvent{Result: result("other", 5)})

	msg := readJSON(t, conn)
	assert.Equal(t, TypeOccupancy, msg["type"])
	res := msg["result"].(map[string]any)
	assert.Equal(t, float64(2), res["people_count"])
	assert.Equal(t, true, res["privacy_compliant"])
	assert.Equal(t, "none", res["data_retention"])
	assert.Len(t, res["detections"], 2)
}

func TestHandlerRequiresCameraID(t *testing.T) {
	hub := NewOccupancyHub(nil)
	srv := httptest.NewServer(NewHandler(hub, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/occupancy/"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := NewOccupancyHub(nil)
	srv := httptest.NewServer(NewHandler(hub, &fakeStatus{}))
	defer srv.Close()

	conn := dial(t, srv, "/ws/occupancy/door")
	readJSON(t, conn)
	require.Equal(t, 1, hub.ClientCount())

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestOnOccupancyWithoutClients(t *testing.T) {
	hub := NewOccupancyHub(nil)
	hub.OnOccupancy(nil)
	hub.OnOccupancy(&pipeline.OccupancyEvent{Result: result("x", 1)})
	assert.Zero(t, hub.ClientCount())
}
