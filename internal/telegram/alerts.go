package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"crowdcount/internal/pipeline"
)

// alertLevel orders capacity states
type alertLevel int

const (
	levelNormal alertLevel = iota
	levelWarning
	levelOver
)

func (l alertLevel) String() string {
	switch l {
	case levelWarning:
		return "warning"
	case levelOver:
		return "over_capacity"
	default:
		return "normal"
	}
}

// CameraLookup returns the display name and capacity of a camera
type CameraLookup func(cameraID string) (name string, capacity int, ok bool)

// AlertRecorder counts sent alerts
type AlertRecorder interface {
	AlertSent(cameraID string)
}

type capacityAlert struct {
	cameraID string
	name     string
	count    int
	capacity int
	level    alertLevel
}

// CapacityAlerter watches occupancy events and notifies when a camera
// reaches its warning threshold or capacity. An alert fires when the level
// rises and re-arms once occupancy drops back.
type CapacityAlerter struct {
	bot       *TelegramBot
	lookup    CameraLookup
	warnRatio float64
	recorder  AlertRecorder
	logger    *zap.SugaredLogger

	mu     sync.Mutex
	levels map[string]alertLevel
	queue  chan capacityAlert
}

// NewCapacityAlerter creates an alerter. recorder may be nil.
func NewCapacityAlerter(bot *TelegramBot, lookup CameraLookup, warnRatio float64, recorder AlertRecorder, logger *zap.Logger) *CapacityAlerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityAlerter{
		bot:       bot,
		lookup:    lookup,
		warnRatio: warnRatio,
		recorder:  recorder,
		logger:    logger.Named("alerts").Sugar(),
		levels:    make(map[string]alertLevel),
		queue:     make(chan capacityAlert, 32),
	}
}

func (a *CapacityAlerter) classify(count, capacity int) alertLevel {
	switch {
	case count >= capacity:
		return levelOver
	case a.warnRatio > 0 && float64(count) >= a.warnRatio*float64(capacity):
		return levelWarning
	default:
		return levelNormal
	}
}

// OnOccupancy implements pipeline.ResultHandler. It never blocks on the
// network.
func (a *CapacityAlerter) OnOccupancy(event *pipeline.OccupancyEvent) {
	if event == nil || event.Result == nil {
		return
	}
	cameraID := event.CameraID()
	name, capacity, ok := a.lookup(cameraID)
	if !ok || capacity <= 0 {
		return
	}

	count := event.Result.PeopleCount
	level := a.classify(count, capacity)

	a.mu.Lock()
	previous := a.levels[cameraID]
	a.levels[cameraID] = level
	a.mu.Unlock()

	if level <= previous {
		return
	}

	select {
	case a.queue <- capacityAlert{cameraID: cameraID, name: name, count: count, capacity: capacity, level: level}:
	default:
		a.logger.Warnw("Alert queue full, dropping alert", "camera_id", cameraID, "level", level.String())
	}
}

// Run sends queued alerts until ctx is cancelled
func (a *CapacityAlerter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-a.queue:
			a.send(ctx, alert)
		}
	}
}

func (a *CapacityAlerter) send(ctx context.Context, alert capacityAlert) {
	key := fmt.Sprintf("capacity:%s:%s", alert.cameraID, alert.level)
	if err := a.bot.SendMessage(ctx, key, formatCapacityAlert(alert, a.bot.now())); err != nil {
		a.logger.Warnw("Failed to send capacity alert", "camera_id", alert.cameraID, "level", alert.level.String(), "error", err)
		return
	}
	if a.recorder != nil {
		a.recorder.AlertSent(alert.cameraID)
	}
	a.logger.Infow("Capacity alert sent", "camera_id", alert.cameraID, "count", alert.count, "capacity", alert.capacity)
}

// Forget drops the alert state of a camera
func (a *CapacityAlerter) Forget(cameraID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.levels, cameraID)
}

func formatCapacityAlert(alert capacityAlert, now time.Time) string {
	header := "⚠️ <b>Occupancy warning</b>"
	if alert.level == levelOver {
		header = "🚨 <b>Capacity reached</b>"
	}
	return fmt.Sprintf(
		"%s\n\n"+
			"📹 Camera: %s\n"+
			"👥 People: %d / %d\n"+
			"🕐 Time: %s",
		header,
		alert.name,
		alert.count,
		alert.capacity,
		formatTimestamp(now),
	)
}
