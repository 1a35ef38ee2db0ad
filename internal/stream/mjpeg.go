// Package stream serves the synthetic anonymous view of each camera as MJPEG.
// Only views rendered from detections are ever streamed; camera pixels never
// reach this package.
package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"crowdcount/internal/pipeline"
)

const (
	jpegQuality = 80

	// Frames buffered per client before frames are skipped
	clientBuffer = 5
)

// AnonymousStream holds the latest view of one camera and its clients
type AnonymousStream struct {
	cameraID string

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	current *image.RGBA
	encoded []byte // JPEG of current, encoded lazily
	lastSeq uint64
	closed  bool
}

// AnonymousStreamManager manages anonymous streams for all cameras. It is a
// pipeline.ViewSink.
type AnonymousStreamManager struct {
	streams map[string]*AnonymousStream
	mu      sync.RWMutex
	logger  *zap.SugaredLogger
}

// NewAnonymousStreamManager creates a new stream manager
func NewAnonymousStreamManager(logger *zap.Logger) *AnonymousStreamManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnonymousStreamManager{
		streams: make(map[string]*AnonymousStream),
		logger:  logger.Named("stream").Sugar(),
	}
}

// stream returns the stream of a camera, creating it if needed
func (m *AnonymousStreamManager) stream(cameraID string) *AnonymousStream {
	m.mu.RLock()
	s := m.streams[cameraID]
	m.mu.RUnlock()
	if s != nil {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s = m.streams[cameraID]; s == nil {
		s = &AnonymousStream{cameraID: cameraID, clients: make(map[chan []byte]struct{})}
		m.streams[cameraID] = s
	}
	return s
}

// GetStream returns a stream by camera ID, or nil
func (m *AnonymousStreamManager) GetStream(cameraID string) *AnonymousStream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[cameraID]
}

// SetView implements pipeline.ViewSink. Views older than the last one
// received are dropped.
func (m *AnonymousStreamManager) SetView(cameraID string, seq uint64, event *pipeline.OccupancyEvent) {
	if event == nil || event.View == nil {
		return
	}
	if err := m.stream(cameraID).setView(seq, event.View); err != nil {
		m.logger.Warnw("Failed to encode anonymous view", "camera_id", cameraID, "error", err)
	}
}

// DeleteStream disconnects the clients of a camera and forgets its view
func (m *AnonymousStreamManager) DeleteStream(cameraID string) {
	m.mu.Lock()
	s := m.streams[cameraID]
	delete(m.streams, cameraID)
	m.mu.Unlock()

	if s != nil {
		s.close()
		m.logger.Infow("Deleted stream", "camera_id", cameraID)
	}
}

// Close disconnects every client
func (m *AnonymousStreamManager) Close() {
	m.mu.Lock()
	streams := m.streams
	m.streams = make(map[string]*AnonymousStream)
	m.mu.Unlock()

	for _, s := range streams {
		s.close()
	}
}

// ServeHTTP serves /video/anonymous/{camera_id}
func (m *AnonymousStreamManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := lastSegment(r.URL.Path)
	if cameraID == "" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	m.logger.Infow("Client connected", "camera_id", cameraID)
	m.stream(cameraID).ServeHTTP(w, r)
	m.logger.Infow("Client disconnected", "camera_id", cameraID)
}

func lastSegment(path string) string {
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-1]
}

func (s *AnonymousStream) setView(seq uint64, view *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || (s.current != nil && seq <= s.lastSeq) {
		return nil
	}
	s.current = view
	s.encoded = nil
	s.lastSeq = seq

	if len(s.clients) == 0 {
		return nil
	}

	frame, err := s.encodeLocked()
	if err != nil {
		return err
	}
	for ch := range s.clients {
		select {
		case ch <- frame:
		default:
			// Client is slow, skip frame
		}
	}
	return nil
}

// encodeLocked returns the JPEG of the current view. Caller holds mu.
func (s *AnonymousStream) encodeLocked() ([]byte, error) {
	if s.encoded != nil || s.current == nil {
		return s.encoded, nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, s.current, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	s.encoded = buf.Bytes()
	return s.encoded, nil
}

// Snapshot returns the current view as JPEG, or nil before the first view
func (s *AnonymousStream) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encodeLocked()
}

// LastSeq returns the sequence number of the current view
func (s *AnonymousStream) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

func (s *AnonymousStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
		delete(s.clients, ch)
	}
}

func (s *AnonymousStream) subscribe() (chan []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}

	ch := make(chan []byte, clientBuffer)
	s.clients[ch] = struct{}{}
	if frame, err := s.encodeLocked(); err == nil && frame != nil {
		ch <- frame
	}
	return ch, true
}

func (s *AnonymousStream) unsubscribe(ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, ch)
}

// ServeHTTP serves the MJPEG stream to a client
func (s *AnonymousStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	clientCh, ok := s.subscribe()
	if !ok {
		http.Error(w, "Stream closed", http.StatusGone)
		return
	}
	defer s.unsubscribe(clientCh)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-clientCh:
			if !ok {
				return
			}
			if err := writePart(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}

// SnapshotHandler serves single anonymous JPEG snapshots
type SnapshotHandler struct {
	manager *AnonymousStreamManager
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(manager *AnonymousStreamManager) *SnapshotHandler {
	return &SnapshotHandler{manager: manager}
}

// ServeHTTP serves /video/snapshot/{camera_id}
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := lastSegment(r.URL.Path)
	if cameraID == "" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	stream := h.manager.GetStream(cameraID)
	if stream == nil {
		http.Error(w, fmt.Sprintf("No view for camera %s", cameraID), http.StatusNotFound)
		return
	}

	frame, err := stream.Snapshot()
	if err != nil {
		http.Error(w, "Failed to encode view", http.StatusInternalServerError)
		return
	}
	if frame == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Write(frame)
}
