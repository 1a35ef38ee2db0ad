package pipeline

import (
	"sync"
)

// EventBus provides pub/sub for occupancy events
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	cameraFilter string // Empty string means receive all cameras
	channel      chan *OccupancyEvent
	handler      ResultHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for events from all cameras
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler ResultHandler) func() {
	return b.add(&eventSubscription{handler: handler})
}

// SubscribeCamera registers a handler for events from a specific camera
// Returns an unsubscribe function
func (b *EventBus) SubscribeCamera(cameraID string, handler ResultHandler) func() {
	return b.add(&eventSubscription{cameraFilter: cameraID, handler: handler})
}

// SubscribeChannel returns a channel that receives events from all cameras.
// Events are dropped when the channel is full.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *OccupancyEvent, func()) {
	return b.SubscribeCameraChannel("", bufferSize)
}

// SubscribeCameraChannel returns a channel that receives events for a specific camera
func (b *EventBus) SubscribeCameraChannel(cameraID string, bufferSize int) (<-chan *OccupancyEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *OccupancyEvent, bufferSize)
	sub := &eventSubscription{
		cameraFilter: cameraID,
		channel:      ch,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

func (b *EventBus) add(sub *eventSubscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// Publish sends an event to all subscribers
func (b *EventBus) Publish(event *OccupancyEvent) {
	if event == nil || event.Result == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.cameraFilter != "" && sub.cameraFilter != event.Result.CameraID {
			continue
		}

		// Handlers run synchronously so per-camera ordering is preserved.
		if sub.handler != nil {
			sub.handler.OnOccupancy(event)
		} else if sub.channel != nil {
			select {
			case sub.channel <- event:
			default:
				// Channel full, skip this event
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
