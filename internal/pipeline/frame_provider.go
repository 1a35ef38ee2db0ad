package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// reconnectDelay is the pause between failed capture attempts.
const reconnectDelay = time.Second

// FFmpegFrameProvider captures frames from cameras using FFmpeg or HTTP
// snapshot polling and broadcasts them to multiple subscribers
type FFmpegFrameProvider struct {
	cameras map[string]*cameraCapture
	mu      sync.RWMutex
	logger  *zap.SugaredLogger
	client  *http.Client
}

// cameraCapture handles frame capture for a single camera
type cameraCapture struct {
	cameraID    string
	device      string
	fps         int
	width       int
	height      int
	logger      *zap.SugaredLogger
	client      *http.Client
	running     atomic.Bool
	stopCh      chan struct{}
	stopOnce    sync.Once
	cmd         *exec.Cmd
	cmdMu       sync.Mutex
	subscribers map[*FrameSubscription]bool
	subMu       sync.RWMutex
	frameSeq    atomic.Uint64
	stats       *CaptureStats
	statsMu     sync.RWMutex
	fpsWindow   time.Time
	fpsFrames   int
}

// NewFFmpegFrameProvider creates a new frame provider
func NewFFmpegFrameProvider(logger *zap.Logger) *FFmpegFrameProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegFrameProvider{
		cameras: make(map[string]*cameraCapture),
		logger:  logger.Named("frameprovider").Sugar(),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *FFmpegFrameProvider) Start(cameraID string, device string, fps int, width int, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.cameras[cameraID]; exists {
		return fmt.Errorf("camera %s already started", cameraID)
	}
	if fps <= 0 {
		fps = 1
	}

	capture := &cameraCapture{
		cameraID:    cameraID,
		device:      device,
		fps:         fps,
		width:       width,
		height:      height,
		logger:      p.logger.With("camera_id", cameraID),
		client:      p.client,
		stopCh:      make(chan struct{}),
		subscribers: make(map[*FrameSubscription]bool),
		stats: &CaptureStats{
			CameraID: cameraID,
		},
	}

	p.cameras[cameraID] = capture

	go capture.run()

	p.logger.Infof("Started capture for camera %s (device: %s, fps: %d)", cameraID, device, fps)
	return nil
}

func (p *FFmpegFrameProvider) Stop(cameraID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	capture, exists := p.cameras[cameraID]
	if !exists {
		return fmt.Errorf("camera %s not found", cameraID)
	}

	capture.stop()
	delete(p.cameras, cameraID)

	p.logger.Infof("Stopped capture for camera %s", cameraID)
	return nil
}

func (p *FFmpegFrameProvider) Subscribe(cameraID string, bufferSize int) (*FrameSubscription, error) {
	p.mu.RLock()
	capture, exists := p.cameras[cameraID]
	p.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("camera %s not found", cameraID)
	}

	if bufferSize <= 0 {
		bufferSize = 5
	}

	sub := &FrameSubscription{
		CameraID: cameraID,
		Channel:  make(chan *FrameData, bufferSize),
		Done:     make(chan struct{}),
	}

	capture.subMu.Lock()
	capture.subscribers[sub] = true
	total := len(capture.subscribers)
	capture.subMu.Unlock()

	p.logger.Debugf("New subscriber for camera %s (total: %d)", cameraID, total)
	return sub, nil
}

func (p *FFmpegFrameProvider) Unsubscribe(sub *FrameSubscription) {
	if sub == nil {
		return
	}

	p.mu.RLock()
	capture, exists := p.cameras[sub.CameraID]
	p.mu.RUnlock()

	if !exists {
		return
	}

	capture.subMu.Lock()
	if _, ok := capture.subscribers[sub]; ok {
		delete(capture.subscribers, sub)
		close(sub.Done)
	}
	remaining := len(capture.subscribers)
	capture.subMu.Unlock()

	p.logger.Debugf("Unsubscribed from camera %s (remaining: %d)", sub.CameraID, remaining)
}

func (p *FFmpegFrameProvider) IsRunning(cameraID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	capture, exists := p.cameras[cameraID]
	if !exists {
		return false
	}
	return capture.running.Load()
}

func (p *FFmpegFrameProvider) GetStats(cameraID string) *CaptureStats {
	p.mu.RLock()
	capture, exists := p.cameras[cameraID]
	p.mu.RUnlock()

	if !exists {
		return nil
	}

	capture.statsMu.RLock()
	defer capture.statsMu.RUnlock()

	stats := *capture.stats
	return &stats
}

// run keeps the capture alive until stopped, reconnecting after failures
func (c *cameraCapture) run() {
	c.running.Store(true)
	defer c.running.Store(false)

	c.logger.Infof("Starting capture loop for camera %s", c.cameraID)

	if isHTTPImageEndpoint(c.device) {
		c.captureHTTPImages()
		return
	}

	for {
		c.captureFFmpeg()

		select {
		case <-c.stopCh:
			return
		case <-time.After(reconnectDelay):
		}

		c.statsMu.Lock()
		c.stats.ReconnectAttempts++
		attempts := c.stats.ReconnectAttempts
		c.statsMu.Unlock()
		c.logger.Warnf("Capture for camera %s ended, reconnecting (attempt %d)", c.cameraID, attempts)
	}
}

func (c *cameraCapture) stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)

		c.cmdMu.Lock()
		if c.cmd != nil && c.cmd.Process != nil {
			c.cmd.Process.Kill()
		}
		c.cmdMu.Unlock()

		// Close all subscriber channels
		c.subMu.Lock()
		for sub := range c.subscribers {
			close(sub.Done)
			delete(c.subscribers, sub)
		}
		c.subMu.Unlock()
	})
}

func isHTTPImageEndpoint(device string) bool {
	return (strings.HasPrefix(device, "http://") || strings.HasPrefix(device, "https://")) &&
		(strings.Contains(device, ".jpg") || strings.Contains(device, ".jpeg") || strings.Contains(device, "image") || strings.Contains(device, "snapshot"))
}

func (c *cameraCapture) captureHTTPImages() {
	interval := time.Second / time.Duration(c.fps)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			frame, err := c.fetchSnapshot()
			if err != nil {
				c.logger.Warnf("Error fetching frame from %s: %v", c.device, err)
				continue
			}
			c.broadcastFrame(frame)
		}
	}
}

func (c *cameraCapture) fetchSnapshot() ([]byte, error) {
	resp, err := c.client.Get(c.device)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ffmpegArgs builds the ffmpeg command line that emits an MJPEG stream on stdout
func ffmpegArgs(device string, fps, width, height int) []string {
	switch {
	case strings.HasPrefix(device, "rtsp://"):
		return []string{
			"-rtsp_transport", "tcp",
			"-i", device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", fps),
			"-q:v", "5",
			"-",
		}
	case strings.HasPrefix(device, "http://"), strings.HasPrefix(device, "https://"):
		return []string{
			"-i", device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", fps),
			"-q:v", "5",
			"-",
		}
	default:
		// V4L2 device (USB camera)
		return []string{
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", width, height),
			"-framerate", fmt.Sprintf("%d", fps),
			"-i", device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", "5",
			"-",
		}
	}
}

func (c *cameraCapture) captureFFmpeg() {
	cmd := exec.Command("ffmpeg", ffmpegArgs(c.device, c.fps, c.width, c.height)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.logger.Errorf("Error creating stdout pipe: %v", err)
		return
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.logger.Errorf("Error creating stderr pipe: %v", err)
		return
	}

	c.cmdMu.Lock()
	select {
	case <-c.stopCh:
		c.cmdMu.Unlock()
		return
	default:
	}
	if err := cmd.Start(); err != nil {
		c.cmdMu.Unlock()
		c.logger.Errorf("Error starting ffmpeg: %v", err)
		return
	}
	c.cmd = cmd
	c.cmdMu.Unlock()

	defer cmd.Wait()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			c.logger.Debug(scanner.Text())
		}
	}()

	c.readFrames(stdout)
}

// readFrames splits an MJPEG byte stream into frames until EOF or stop
func (c *cameraCapture) readFrames(r io.Reader) {
	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		n, err := r.Read(chunk)
		if n > 0 {
			frameBuffer = append(frameBuffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&frameBuffer)
				if frame == nil {
					break
				}
				c.broadcastFrame(frame)
			}
		}
		if err != nil {
			if err != io.EOF {
				c.logger.Warnf("Error reading frame: %v", err)
			}
			return
		}
	}
}

func (c *cameraCapture) broadcastFrame(data []byte) {
	seq := c.frameSeq.Add(1)
	now := time.Now()

	frame := &FrameData{
		CameraID:  c.cameraID,
		Data:      data,
		Seq:       seq,
		Timestamp: now,
		Width:     c.width,
		Height:    c.height,
	}

	c.statsMu.Lock()
	c.stats.FramesCaptured++
	c.stats.LastFrameTime = now.Unix()
	if c.fpsWindow.IsZero() {
		c.fpsWindow = now
	}
	c.fpsFrames++
	if elapsed := now.Sub(c.fpsWindow); elapsed >= time.Second {
		c.stats.CurrentFPS = float32(float64(c.fpsFrames) / elapsed.Seconds())
		c.fpsWindow = now
		c.fpsFrames = 0
	}
	c.statsMu.Unlock()

	c.subMu.RLock()
	for sub := range c.subscribers {
		select {
		case sub.Channel <- frame:
		default:
			// Subscriber is slow, drop frame
			c.statsMu.Lock()
			c.stats.FramesDropped++
			c.statsMu.Unlock()
		}
	}
	subCount := len(c.subscribers)
	c.subMu.RUnlock()

	if seq%100 == 0 {
		c.logger.Debugf("Camera %s: frame %d, %d subscribers", c.cameraID, seq, subCount)
	}
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	// Find JPEG start marker (FFD8)
	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil
	}

	// Find JPEG end marker (FFD9)
	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}

// Ensure FFmpegFrameProvider implements FrameProvider
var _ FrameProvider = (*FFmpegFrameProvider)(nil)
