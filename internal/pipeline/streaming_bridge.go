package pipeline

import (
	"sync"
)

// StreamingBridge connects the occupancy pipeline to streaming
// infrastructure. Only rendered views are forwarded, never captures.
type StreamingBridge struct {
	sinks []ViewSink
	mu    sync.RWMutex
}

// NewStreamingBridge creates a new streaming bridge
func NewStreamingBridge(sinks ...ViewSink) *StreamingBridge {
	return &StreamingBridge{
		sinks: sinks,
	}
}

// AddSink adds a view sink to the bridge
func (b *StreamingBridge) AddSink(sink ViewSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// OnOccupancy implements ResultHandler
func (b *StreamingBridge) OnOccupancy(event *OccupancyEvent) {
	if event == nil || event.View == nil {
		return
	}

	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		sink.SetView(event.CameraID(), event.FrameSeq, event)
	}
}

// Ensure StreamingBridge implements ResultHandler
var _ ResultHandler = (*StreamingBridge)(nil)
