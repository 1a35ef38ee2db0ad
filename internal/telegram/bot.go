// Package telegram sends capacity alerts and answers status commands over the
// Telegram Bot API. Messages only ever contain counts.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultAPIURL = "https://api.telegram.org"

var (
	// ErrDisabled is returned when sending while the bot is disabled
	ErrDisabled = errors.New("telegram bot is disabled")
	// ErrNotConfigured is returned when token or chat ID are missing
	ErrNotConfigured = errors.New("telegram bot token or chat ID not configured")
	// ErrCooldown is returned when a message with the same key was sent recently
	ErrCooldown = errors.New("cooldown period not yet elapsed")
)

// TelegramBot handles Telegram bot operations
type TelegramBot struct {
	botToken        string
	chatID          string
	apiURL          string
	httpClient      *http.Client
	mu              sync.RWMutex
	enabled         bool
	cooldownTracker map[string]time.Time
	cooldownPeriod  time.Duration
	now             func() time.Time
	logger          *zap.SugaredLogger
}

// Config holds Telegram bot configuration
type Config struct {
	BotToken        string
	ChatID          string
	Enabled         bool
	CooldownSeconds int
	APIURL          string // Defaults to the public Bot API
}

// TelegramResponse represents the response from Telegram API
type TelegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// NewTelegramBot creates a new Telegram bot instance
func NewTelegramBot(config Config, logger *zap.Logger) *TelegramBot {
	if logger == nil {
		logger = zap.NewNop()
	}

	cooldownPeriod := time.Duration(config.CooldownSeconds) * time.Second
	if cooldownPeriod == 0 {
		cooldownPeriod = 30 * time.Second
	}

	apiURL := config.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	return &TelegramBot{
		botToken:        config.BotToken,
		chatID:          config.ChatID,
		apiURL:          apiURL,
		enabled:         config.Enabled,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		cooldownTracker: make(map[string]time.Time),
		cooldownPeriod:  cooldownPeriod,
		now:             time.Now,
		logger:          logger.Named("telegram").Sugar(),
	}
}

// IsEnabled returns whether the bot is enabled
func (tb *TelegramBot) IsEnabled() bool {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.enabled
}

// SetEnabled enables or disables the bot
func (tb *TelegramBot) SetEnabled(enabled bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.enabled = enabled
}

// SendMessage sends a text message, subject to the cooldown of key. An
// empty key bypasses the cooldown.
func (tb *TelegramBot) SendMessage(ctx context.Context, key, message string) error {
	tb.mu.Lock()
	if !tb.enabled {
		tb.mu.Unlock()
		return ErrDisabled
	}
	if tb.botToken == "" || tb.chatID == "" {
		tb.mu.Unlock()
		return ErrNotConfigured
	}
	if key != "" && !tb.checkCooldown(key) {
		tb.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCooldown, key)
	}
	token, chatID := tb.botToken, tb.chatID
	tb.mu.Unlock()

	payload := map[string]any{
		"chat_id":    chatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	if _, err := tb.call(ctx, token, "sendMessage", payload); err != nil {
		return err
	}

	if key != "" {
		tb.mu.Lock()
		tb.updateCooldown(key)
		tb.mu.Unlock()
	}
	return nil
}

// SendTestMessage sends a test message to verify the bot configuration
func (tb *TelegramBot) SendTestMessage(ctx context.Context) error {
	message := fmt.Sprintf(
		"🤖 <b>crowdcount test message</b>\n\n"+
			"✅ Telegram bot is working correctly!\n"+
			"🕐 Test sent at: %s",
		formatTimestamp(tb.now()),
	)
	return tb.SendMessage(ctx, "", message)
}

// GetBotInfo retrieves information about the bot
func (tb *TelegramBot) GetBotInfo(ctx context.Context) (map[string]any, error) {
	tb.mu.RLock()
	token := tb.botToken
	tb.mu.RUnlock()

	if token == "" {
		return nil, ErrNotConfigured
	}

	raw, err := tb.call(ctx, token, "getMe", nil)
	if err != nil {
		return nil, err
	}

	var info map[string]any
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("unexpected response format: %w", err)
	}
	return info, nil
}

// call posts a JSON request to a Bot API method and returns its result
func (tb *TelegramBot) call(ctx context.Context, token, method string, payload any) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/bot%s/%s", tb.apiURL, token, method)

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// handleResponse processes the Telegram API response
func handleResponse(resp *http.Response) (json.RawMessage, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !telegramResp.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}
	return telegramResp.Result, nil
}

// checkCooldown reports whether key may be sent. Caller holds mu.
func (tb *TelegramBot) checkCooldown(key string) bool {
	lastTime, exists := tb.cooldownTracker[key]
	if !exists {
		return true
	}
	return tb.now().Sub(lastTime) >= tb.cooldownPeriod
}

// updateCooldown records a send of key. Caller holds mu.
func (tb *TelegramBot) updateCooldown(key string) {
	tb.cooldownTracker[key] = tb.now()
}

// CleanupCooldownTracking removes old cooldown entries
func (tb *TelegramBot) CleanupCooldownTracking() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	for key, lastTime := range tb.cooldownTracker {
		if now.Sub(lastTime) > tb.cooldownPeriod*2 {
			delete(tb.cooldownTracker, key)
		}
	}
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(config Config) error {
	if config.Enabled {
		if config.BotToken == "" {
			return fmt.Errorf("telegram bot token is required when enabled")
		}
		if config.ChatID == "" {
			return fmt.Errorf("telegram chat ID is required when enabled")
		}
	}

	if config.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown seconds cannot be negative")
	}

	return nil
}

func formatTimestamp(t time.Time) string {
	zoneName, _ := t.Zone()
	return fmt.Sprintf("%s %s", t.Format("2 Jan 2006, 15:04:05"), zoneName)
}
