package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"crowdcount/internal/occupancy"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Status reports camera state to newly connected clients
type Status interface {
	IsActive(cameraID string) bool
	Latest(cameraID string) *occupancy.Result
}

// Handler handles WebSocket connections for real-time occupancy results
type Handler struct {
	hub    *OccupancyHub
	status Status
	prefix string
}

// NewHandler creates a new WebSocket handler serving /ws/occupancy/{camera_id}.
// status may be nil.
func NewHandler(hub *OccupancyHub, status Status) *Handler {
	return &Handler{hub: hub, status: status, prefix: "/ws/occupancy/"}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, h.prefix), "/")
	if cameraID == "" || strings.Contains(cameraID, "/") {
		http.Error(w, "camera_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warnw("Upgrade failed", "error", err)
		return
	}

	h.hub.logger.Infow("New connection", "camera_id", cameraID, "remote", r.RemoteAddr)

	c := h.hub.register(cameraID, conn)
	h.greet(c)

	go h.readPump(c)
}

// greet queues the camera status and the latest result, if any
func (h *Handler) greet(c *client) {
	if h.status == nil {
		return
	}

	if data, err := json.Marshal(NewStatusMessage(c.cameraID, h.status.IsActive(c.cameraID), time.Now())); err == nil {
		c.send <- data
	}
	if latest := h.status.Latest(c.cameraID); latest != nil {
		if data, err := json.Marshal(NewOccupancyMessage(latest)); err == nil {
			c.send <- data
		}
	}
}

// readPump detects client disconnection. Clients are not expected to send
// anything.
func (h *Handler) readPump(c *client) {
	defer h.hub.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.hub.logger.Debugw("Read error", "camera_id", c.cameraID, "error", err)
			}
			return
		}
	}
}
