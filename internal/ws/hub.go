package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crowdcount/internal/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// Messages queued per client before new ones are dropped
	sendBuffer = 16
)

// client is one WebSocket connection. Only writePump writes to conn.
type client struct {
	cameraID string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// OccupancyHub fans occupancy results out to WebSocket clients
type OccupancyHub struct {
	// clients maps camera_id -> set of connections
	clients map[string]map[*client]struct{}
	mu      sync.RWMutex
	logger  *zap.SugaredLogger
	dropped atomic.Uint64
}

// NewOccupancyHub creates a new hub
func NewOccupancyHub(logger *zap.Logger) *OccupancyHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OccupancyHub{
		clients: make(map[string]map[*client]struct{}),
		logger:  logger.Named("ws").Sugar(),
	}
}

// register adds a connection for a specific camera and starts its writer
func (h *OccupancyHub) register(cameraID string, conn *websocket.Conn) *client {
	c := &client{
		cameraID: cameraID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.clients[cameraID] == nil {
		h.clients[cameraID] = make(map[*client]struct{})
	}
	h.clients[cameraID][c] = struct{}{}
	total := len(h.clients[cameraID])
	h.mu.Unlock()

	h.logger.Infow("Client registered", "camera_id", cameraID, "total", total)
	go h.writePump(c)
	return c
}

// unregister removes a connection for a specific camera
func (h *OccupancyHub) unregister(c *client) {
	h.mu.Lock()
	if conns, ok := h.clients[c.cameraID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.clients, c.cameraID)
			}
			h.logger.Infow("Client unregistered", "camera_id", c.cameraID)
		}
	}
	h.mu.Unlock()
	c.close()
}

// HasClients returns true if there are any clients connected for a camera
func (h *OccupancyHub) HasClients(cameraID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[cameraID]) > 0
}

// ClientCount returns the total number of connected clients
func (h *OccupancyHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// BroadcastToCamera queues a message for all clients of a camera. Clients
// whose queue is full miss the message.
func (h *OccupancyHub) BroadcastToCamera(cameraID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[cameraID] {
		select {
		case c.send <- message:
		default:
			if n := h.dropped.Add(1); n == 1 || n%100 == 0 {
				h.logger.Warnw("Slow client, dropping messages", "camera_id", cameraID, "dropped_total", n)
			}
		}
	}
}

// OnOccupancy implements pipeline.ResultHandler
func (h *OccupancyHub) OnOccupancy(event *pipeline.OccupancyEvent) {
	if event == nil || event.Result == nil {
		return
	}
	cameraID := event.CameraID()
	if !h.HasClients(cameraID) {
		return
	}

	data, err := json.Marshal(NewOccupancyMessage(event.Result))
	if err != nil {
		h.logger.Errorw("Failed to marshal occupancy message", "camera_id", cameraID, "error", err)
		return
	}
	h.BroadcastToCamera(cameraID, data)
}

// Close disconnects every client
func (h *OccupancyHub) Close() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, conns := range all {
		for c := range conns {
			c.close()
		}
	}
}

// writePump owns all writes to the connection
func (h *OccupancyHub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debugw("Write failed", "camera_id", c.cameraID, "error", err)
				h.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
