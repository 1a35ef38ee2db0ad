package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"crowdcount/internal/camera"
	"crowdcount/internal/insights"
	"crowdcount/internal/occupancy"
)

// Cameras is the camera registry as seen by the command handler
type Cameras interface {
	ListCameras() []*camera.Camera
	ActivateCamera(id string) error
	DeactivateCamera(id string) error
}

// Counts returns the latest result of a camera
type Counts interface {
	Latest(cameraID string) *occupancy.Result
}

// Update represents a Telegram update
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage represents an incoming Telegram message
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	Chat      *TelegramChat `json:"chat,omitempty"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
}

// TelegramChat represents a Telegram chat
type TelegramChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// CommandHandler handles Telegram bot commands
type CommandHandler struct {
	bot          *TelegramBot
	cameras      Cameras
	counts       Counts
	lastUpdateID int64
	startTime    time.Time
	mu           sync.Mutex
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(bot *TelegramBot, cameras Cameras, counts Counts) *CommandHandler {
	return &CommandHandler{
		bot:       bot,
		cameras:   cameras,
		counts:    counts,
		startTime: bot.now(),
	}
}

// StartPolling polls Telegram for updates until ctx is cancelled
func (ch *CommandHandler) StartPolling(ctx context.Context, interval time.Duration) error {
	if !ch.bot.IsEnabled() {
		return ErrDisabled
	}

	ch.bot.mu.RLock()
	configured := ch.bot.botToken != "" && ch.bot.chatID != ""
	ch.bot.mu.RUnlock()
	if !configured {
		return ErrNotConfigured
	}

	ch.bot.logger.Info("Starting command polling")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ch.bot.logger.Info("Command polling stopped")
			return nil
		case <-ticker.C:
			if err := ch.pollUpdates(ctx); err != nil && !errors.Is(err, context.Canceled) {
				ch.bot.logger.Warnw("Failed to poll updates", "error", err)
			}
		}
	}
}

// pollUpdates fetches and processes updates from Telegram
func (ch *CommandHandler) pollUpdates(ctx context.Context) error {
	ch.bot.mu.RLock()
	botToken := ch.bot.botToken
	authorizedChatID := ch.bot.chatID
	ch.bot.mu.RUnlock()

	ch.mu.Lock()
	offset := ch.lastUpdateID + 1
	ch.mu.Unlock()

	method := "getUpdates?" + url.Values{
		"offset":  {strconv.FormatInt(offset, 10)},
		"timeout": {"1"},
	}.Encode()

	raw, err := ch.bot.call(ctx, botToken, method, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch updates: %w", err)
	}

	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return fmt.Errorf("failed to parse updates: %w", err)
	}

	for _, update := range updates {
		ch.mu.Lock()
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		ch.mu.Unlock()

		if update.Message != nil {
			ch.handleMessage(ctx, update.Message, authorizedChatID)
		}
	}

	return nil
}

// handleMessage processes an incoming message
func (ch *CommandHandler) handleMessage(ctx context.Context, msg *TelegramMessage, authorizedChatID string) {
	if msg.Chat == nil {
		return
	}

	// Only respond to the configured chat
	chatIDStr := strconv.FormatInt(msg.Chat.ID, 10)
	if chatIDStr != authorizedChatID {
		ch.bot.logger.Warnw("Ignoring message from unauthorized chat", "chat_id", chatIDStr)
		return
	}

	response := ch.dispatch(msg.Text)
	if response == "" {
		return
	}
	if err := ch.bot.SendMessage(ctx, "", response); err != nil {
		ch.bot.logger.Warnw("Failed to send reply", "error", err)
	}
}

// dispatch returns the reply to a command, or "" for non-commands
func (ch *CommandHandler) dispatch(text string) string {
	if text == "" || !strings.HasPrefix(text, "/") {
		return ""
	}

	parts := strings.Fields(text)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	// Remove bot username suffix if present (e.g., /status@mybot)
	if atIndex := strings.Index(command, "@"); atIndex != -1 {
		command = command[:atIndex]
	}

	switch command {
	case "/start":
		return ch.handleStart()
	case "/help":
		return ch.handleHelp()
	case "/status":
		return ch.handleStatus()
	case "/cameras":
		return ch.handleCameras()
	case "/count":
		return ch.handleCount(args)
	case "/enable":
		return ch.handleEnableCamera(args)
	case "/disable":
		return ch.handleDisableCamera(args)
	default:
		return fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", command)
	}
}

func (ch *CommandHandler) handleStart() string {
	return "🤖 <b>Welcome to crowdcount!</b>\n\n" +
		"I report how many people are in each monitored area. No images are ever sent.\n\n" +
		"Use /help to see available commands."
}

func (ch *CommandHandler) handleHelp() string {
	return "📋 <b>Available Commands</b>\n\n" +
		"/status - System status\n" +
		"/cameras - List all cameras\n" +
		"/count [name] - Current occupancy\n" +
		"/enable &lt;name&gt; - Start counting on a camera\n" +
		"/disable &lt;name&gt; - Stop counting on a camera\n" +
		"/help - Show this help"
}

func (ch *CommandHandler) handleStatus() string {
	cameras := ch.cameras.ListCameras()

	active := 0
	for _, cam := range cameras {
		if cam.IsActive() {
			active++
		}
	}

	return fmt.Sprintf("📊 <b>System Status</b>\n\n"+
		"📹 Cameras: %d (%d counting)\n"+
		"⏱ Uptime: %s",
		len(cameras), active, formatDuration(ch.bot.now().Sub(ch.startTime)))
}

func (ch *CommandHandler) handleCameras() string {
	cameras := ch.cameras.ListCameras()
	if len(cameras) == 0 {
		return "No cameras configured."
	}

	var sb strings.Builder
	sb.WriteString("📹 <b>Cameras</b>\n\n")
	for _, cam := range cameras {
		icon := "⚪"
		if cam.IsActive() {
			icon = "🟢"
		}
		fmt.Fprintf(&sb, "%s %s (%s)\n", icon, cam.Name, cam.ID)
	}
	return sb.String()
}

func (ch *CommandHandler) handleCount(args []string) string {
	var targets []*camera.Camera
	if len(args) > 0 {
		cam, err := ch.findCameraByNameOrID(strings.Join(args, " "))
		if err != nil {
			return err.Error()
		}
		targets = append(targets, cam)
	} else {
		for _, cam := range ch.cameras.ListCameras() {
			if cam.IsActive() {
				targets = append(targets, cam)
			}
		}
		if len(targets) == 0 {
			return "No camera is counting. Use /enable &lt;name&gt;."
		}
	}

	var sb strings.Builder
	sb.WriteString("👥 <b>Occupancy</b>\n\n")
	for _, cam := range targets {
		result := ch.counts.Latest(cam.ID)
		if result == nil {
			fmt.Fprintf(&sb, "%s: no data yet\n", cam.Name)
			continue
		}
		level := insights.Classify(result.PeopleCount, cam.Capacity)
		if cam.Capacity > 0 {
			fmt.Fprintf(&sb, "%s: %d / %d (%s)\n", cam.Name, result.PeopleCount, cam.Capacity, level)
		} else {
			fmt.Fprintf(&sb, "%s: %d (%s)\n", cam.Name, result.PeopleCount, level)
		}
	}
	return sb.String()
}

func (ch *CommandHandler) handleEnableCamera(args []string) string {
	if len(args) == 0 {
		return "Usage: /enable &lt;name&gt;"
	}
	cam, err := ch.findCameraByNameOrID(strings.Join(args, " "))
	if err != nil {
		return err.Error()
	}
	if err := ch.cameras.ActivateCamera(cam.ID); err != nil {
		if errors.Is(err, camera.ErrAlreadyActive) {
			return fmt.Sprintf("%s is already counting.", cam.Name)
		}
		return fmt.Sprintf("❌ Failed to start %s: %v", cam.Name, err)
	}
	return fmt.Sprintf("✅ Counting started on %s.", cam.Name)
}

func (ch *CommandHandler) handleDisableCamera(args []string) string {
	if len(args) == 0 {
		return "Usage: /disable &lt;name&gt;"
	}
	cam, err := ch.findCameraByNameOrID(strings.Join(args, " "))
	if err != nil {
		return err.Error()
	}
	if err := ch.cameras.DeactivateCamera(cam.ID); err != nil {
		return fmt.Sprintf("❌ Failed to stop %s: %v", cam.Name, err)
	}
	return fmt.Sprintf("🛑 Counting stopped on %s.", cam.Name)
}

// findCameraByNameOrID finds a camera by ID, or by unique name
func (ch *CommandHandler) findCameraByNameOrID(nameOrID string) (*camera.Camera, error) {
	cameras := ch.cameras.ListCameras()

	for _, cam := range cameras {
		if cam.ID == nameOrID {
			return cam, nil
		}
	}

	var matches []*camera.Camera
	for _, cam := range cameras {
		if strings.EqualFold(cam.Name, nameOrID) {
			matches = append(matches, cam)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("❌ Camera not found: %s\n\nUse /cameras to see available cameras.", nameOrID)
	case 1:
		return matches[0], nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "⚠️ Multiple cameras named '%s'. Use camera ID:\n\n", nameOrID)
	for _, cam := range matches {
		fmt.Fprintf(&sb, "• %s\n", cam.ID)
	}
	return nil, errors.New(sb.String())
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
