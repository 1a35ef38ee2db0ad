package services

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"crowdcount/internal/pipeline"
	"crowdcount/internal/pipeline/strategies"
)

const (
	samplingConfigKey     = "sampling_config"
	notificationConfigKey = "notification_config"
)

// SamplingManager holds the global sampling defaults
type SamplingManager interface {
	GetGlobalConfig() *pipeline.GlobalSamplingConfig
	SetGlobalConfig(config *pipeline.GlobalSamplingConfig) error
}

// ConfigStore persists settings as key/value pairs
type ConfigStore interface {
	SaveConfig(key, value string) error
	GetConfig(key string) (string, error)
}

// Notifier is the alert channel that can be toggled at runtime
type Notifier interface {
	IsEnabled() bool
	SetEnabled(enabled bool)
	SendTestMessage(ctx context.Context) error
}

// NotificationConfig is the runtime notification state. Credentials come from
// the environment and are never returned.
type NotificationConfig struct {
	TelegramEnabled bool `json:"telegram_enabled"`
}

// TestNotificationResult reports the outcome of a test message
type TestNotificationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ConfigImplementation implements the settings service. Changes are applied
// at once and persisted so they survive a restart.
type ConfigImplementation struct {
	mu       sync.Mutex
	sampling SamplingManager
	store    ConfigStore
	notifier Notifier
	logger   *zap.SugaredLogger
}

// NewConfigService creates the settings service and applies settings saved
// by a previous run. store and notifier may be nil.
func NewConfigService(sampling SamplingManager, store ConfigStore, notifier Notifier, logger *zap.Logger) *ConfigImplementation {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &ConfigImplementation{
		sampling: sampling,
		store:    store,
		notifier: notifier,
		logger:   logger.Named("config").Sugar(),
	}
	c.loadConfigFromDB()
	return c
}

func (c *ConfigImplementation) loadConfigFromDB() {
	if c.store == nil {
		return
	}

	if raw, err := c.store.GetConfig(samplingConfigKey); err != nil {
		c.logger.Warnw("Failed to read sampling config", "error", err)
	} else if raw != "" {
		var cfg pipeline.GlobalSamplingConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			c.logger.Warnw("Ignoring malformed sampling config", "error", err)
		} else if err := c.applySampling(&cfg); err != nil {
			c.logger.Warnw("Ignoring invalid sampling config", "error", err)
		} else {
			c.logger.Infow("Loaded sampling config from database", "mode", cfg.Mode)
		}
	}

	if c.notifier == nil {
		return
	}
	if raw, err := c.store.GetConfig(notificationConfigKey); err == nil && raw != "" {
		var cfg NotificationConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err == nil {
			c.notifier.SetEnabled(cfg.TelegramEnabled)
			c.logger.Infow("Loaded notification config from database", "telegram_enabled", cfg.TelegramEnabled)
		}
	}
}

func (c *ConfigImplementation) applySampling(cfg *pipeline.GlobalSamplingConfig) error {
	effective := &pipeline.EffectiveConfig{Mode: cfg.Mode, EveryN: cfg.EveryN, Interval: cfg.Interval}
	if _, err := strategies.Create(effective); err != nil {
		return err
	}
	return c.sampling.SetGlobalConfig(cfg)
}

func (c *ConfigImplementation) save(key string, v any) {
	if c.store == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.store.SaveConfig(key, string(raw)); err != nil {
		c.logger.Warnw("Failed to save config to database", "key", key, "error", err)
	}
}

// GetSampling returns the global sampling defaults
func (c *ConfigImplementation) GetSampling(ctx context.Context) (*pipeline.GlobalSamplingConfig, error) {
	return c.sampling.GetGlobalConfig(), nil
}

// UpdateSampling replaces the global sampling defaults. Running cameras keep
// their configuration until restarted.
func (c *ConfigImplementation) UpdateSampling(ctx context.Context, cfg *pipeline.GlobalSamplingConfig) (*pipeline.GlobalSamplingConfig, error) {
	if cfg == nil {
		return nil, &BadRequestError{Message: "missing sampling configuration"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.applySampling(cfg); err != nil {
		return nil, &BadRequestError{Message: "Invalid sampling configuration", Details: err.Error()}
	}
	c.save(samplingConfigKey, cfg)
	return c.sampling.GetGlobalConfig(), nil
}

// GetNotifications returns the notification state
func (c *ConfigImplementation) GetNotifications(ctx context.Context) (*NotificationConfig, error) {
	if c.notifier == nil {
		return &NotificationConfig{}, nil
	}
	return &NotificationConfig{TelegramEnabled: c.notifier.IsEnabled()}, nil
}

// UpdateNotifications toggles capacity alerts
func (c *ConfigImplementation) UpdateNotifications(ctx context.Context, cfg *NotificationConfig) (*NotificationConfig, error) {
	if cfg == nil {
		return nil, &BadRequestError{Message: "missing notification configuration"}
	}
	if c.notifier == nil {
		if cfg.TelegramEnabled {
			return nil, &BadRequestError{Message: "Telegram is not configured"}
		}
		return &NotificationConfig{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.notifier.SetEnabled(cfg.TelegramEnabled)
	c.save(notificationConfigKey, cfg)
	return &NotificationConfig{TelegramEnabled: c.notifier.IsEnabled()}, nil
}

// TestNotification sends a test notification
func (c *ConfigImplementation) TestNotification(ctx context.Context) (*TestNotificationResult, error) {
	if c.notifier == nil {
		return &TestNotificationResult{Success: false, Message: "Telegram bot is not configured"}, nil
	}
	if !c.notifier.IsEnabled() {
		return &TestNotificationResult{Success: false, Message: "Telegram notifications are disabled"}, nil
	}
	if err := c.notifier.SendTestMessage(ctx); err != nil {
		return &TestNotificationResult{Success: false, Message: "Failed to send test notification: " + err.Error()}, nil
	}
	return &TestNotificationResult{Success: true, Message: "Test notification sent successfully"}, nil
}
