package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"crowdcount/internal/camera"
	"crowdcount/internal/occupancy"
	"crowdcount/internal/pipeline"
)

// fakeAPI records sendMessage calls and serves queued updates
type fakeAPI struct {
	mu       sync.Mutex
	messages []map[string]any
	updates  []Update
	fail     bool
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)
		f.messages = append(f.messages, payload)
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	case strings.HasSuffix(r.URL.Path, "/getUpdates"):
		data, _ := json.Marshal(map[string]any{"ok": true, "result": f.updates})
		f.updates = nil
		w.Write(data)
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		w.Write([]byte(`{"ok":true,"result":{"id":42,"username":"crowd_bot"}}`))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) sent() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.messages...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBot(t *testing.T, api *fakeAPI) (*TelegramBot, *testClock) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	bot := NewTelegramBot(Config{
		BotToken:        "token",
		ChatID:          "1001",
		Enabled:         true,
		CooldownSeconds: 60,
		APIURL:          srv.URL,
	}, zaptest.NewLogger(t))

	clock := &testClock{now: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)}
	bot.now = clock.Now
	return bot, clock
}

func TestSendMessageCooldown(t *testing.T) {
	api := &fakeAPI{}
	bot, clock := newTestBot(t, api)
	ctx := context.Background()

	require.NoError(t, bot.SendMessage(ctx, "k", "hello"))
	assert.ErrorIs(t, bot.SendMessage(ctx, "k", "again"), ErrCooldown)
	require.NoError(t, bot.SendMessage(ctx, "other", "different key"))
	require.NoError(t, bot.SendMessage(ctx, "", "no key"))

	clock.Advance(61 * time.Second)
	require.NoError(t, bot.SendMessage(ctx, "k", "later"))

	msgs := api.sent()
	require.Len(t, msgs, 4)
	assert.Equal(t, "1001", msgs[0]["chat_id"])
	assert.Equal(t, "HTML", msgs[0]["parse_mode"])
}

func TestSendMessageDisabledOrUnconfigured(t *testing.T) {
	bot := NewTelegramBot(Config{Enabled: false}, nil)
	assert.ErrorIs(t, bot.SendMessage(context.Background(), "", "x"), ErrDisabled)

	bot.SetEnabled(true)
	assert.ErrorIs(t, bot.SendMessage(context.Background(), "", "x"), ErrNotConfigured)
}

func TestAPIError(t *testing.T) {
	api := &fakeAPI{fail: true}
	bot, _ := newTestBot(t, api)
	err := bot.SendMessage(context.Background(), "", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")
}

func TestGetBotInfo(t *testing.T) {
	bot, _ := newTestBot(t, &fakeAPI{})
	info, err := bot.GetBotInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "crowd_bot", info["username"])
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(Config{}))
	assert.Error(t, ValidateConfig(Config{Enabled: true, ChatID: "1"}))
	assert.Error(t, ValidateConfig(Config{Enabled: true, BotToken: "t"}))
	assert.Error(t, ValidateConfig(Config{CooldownSeconds: -1}))
}

type countingRecorder struct {
	mu    sync.Mutex
	count int
}

func (r *countingRecorder) AlertSent(string) {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
}

func (r *countingRecorder) value() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func event(cameraID string, count int) *pipeline.OccupancyEvent {
	return &pipeline.OccupancyEvent{Result: &occupancy.Result{CameraID: cameraID, PeopleCount: count}}
}

func TestCapacityAlerter(t *testing.T) {
	api := &fakeAPI{}
	bot, clock := newTestBot(t, api)
	recorder := &countingRecorder{}
	lookup := func(id string) (string, int, bool) {
		if id == "hall" {
			return "Main hall", 10, true
		}
		return "", 0, false
	}
	alerter := NewCapacityAlerter(bot, lookup, 0.8, recorder, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go alerter.Run(ctx)

	alerter.OnOccupancy(event("hall", 5))  // normal
	alerter.OnOccupancy(event("hall", 8))  // warning
	alerter.OnOccupancy(event("hall", 9))  // still warning
	alerter.OnOccupancy(event("hall", 10)) // over capacity
	alerter.OnOccupancy(event("unknown", 100))

	require.Eventually(t, func() bool { return recorder.value() == 2 }, 5*time.Second, 10*time.Millisecond)

	msgs := api.sent()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0]["text"], "Occupancy warning")
	assert.Contains(t, msgs[0]["text"], "8 / 10")
	assert.Contains(t, msgs[1]["text"], "Capacity reached")

	// Re-armed alerts still respect the per-level cooldown
	alerter.OnOccupancy(event("hall", 2))
	alerter.OnOccupancy(event("hall", 10))
	clock.Advance(time.Hour)
	alerter.OnOccupancy(event("hall", 3))
	alerter.OnOccupancy(event("hall", 11))

	require.Eventually(t, func() bool { return recorder.value() == 3 }, 5*time.Second, 10*time.Millisecond)
}

type fakeCameras struct {
	cams      []*camera.Camera
	activated []string
}

func (f *fakeCameras) ListCameras() []*camera.Camera { return f.cams }
func (f *fakeCameras) ActivateCamera(id string) error {
	f.activated = append(f.activated, id)
	return nil
}
func (f *fakeCameras) DeactivateCamera(id string) error { return nil }

type fakeCounts map[string]*occupancy.Result

func (f fakeCounts) Latest(id string) *occupancy.Result { return f[id] }

func TestCommandDispatch(t *testing.T) {
	bot, _ := newTestBot(t, &fakeAPI{})
	cams := &fakeCameras{cams: []*camera.Camera{
		camera.NewCamera("c1", "Lobby", "rtsp://a", 10),
		camera.NewCamera("c2", "Office", "rtsp://b", 0),
		camera.NewCamera("c3", "office", "rtsp://c", 0),
	}}
	counts := fakeCounts{"c1": {CameraID: "c1", PeopleCount: 4}}
	ch := NewCommandHandler(bot, cams, counts)

	assert.Empty(t, ch.dispatch("hello"))
	assert.Contains(t, ch.dispatch("/help@crowd_bot"), "/count")
	assert.Contains(t, ch.dispatch("/status"), "Cameras: 3 (0 counting)")
	assert.Contains(t, ch.dispatch("/cameras"), "Lobby (c1)")
	assert.Contains(t, ch.dispatch("/count lobby"), "Lobby: 4 / 10 (moderate)")
	assert.Contains(t, ch.dispatch("/count c2"), "no data yet")
	assert.Contains(t, ch.dispatch("/count"), "No camera is counting")
	assert.Contains(t, ch.dispatch("/count office"), "Multiple cameras")
	assert.Contains(t, ch.dispatch("/count nowhere"), "Camera not found")
	assert.Contains(t, ch.dispatch("/enable Lobby"), "Counting started on Lobby")
	assert.Equal(t, []string{"c1"}, cams.activated)
	assert.Contains(t, ch.dispatch("/bogus"), "Unknown command")
}

func TestPollUpdatesAnswersAuthorizedChat(t *testing.T) {
	api := &fakeAPI{updates: []Update{
		{UpdateID: 7, Message: &TelegramMessage{Chat: &TelegramChat{ID: 1001}, Text: "/status"}},
		{UpdateID: 8, Message: &TelegramMessage{Chat: &TelegramChat{ID: 666}, Text: "/status"}},
	}}
	bot, _ := newTestBot(t, api)
	ch := NewCommandHandler(bot, &fakeCameras{}, fakeCounts{})

	require.NoError(t, ch.pollUpdates(context.Background()))

	msgs := api.sent()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0]["text"], "System Status")
	assert.Equal(t, int64(8), ch.lastUpdateID)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h 3m", formatDuration(2*time.Hour+3*time.Minute))
	assert.Equal(t, "1d 1h 0m", formatDuration(25*time.Hour))
}
