package uplink

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/emptypb"

	"crowdcount/internal/occupancy"
	"crowdcount/internal/pipeline"
)

// FailureRecorder counts failed publishes
type FailureRecorder interface {
	UplinkFailed()
}

// Publisher sends results to a collector. Results are queued and sent by Run
// so the counting pipeline never waits on the network.
type Publisher struct {
	conn     *grpc.ClientConn
	timeout  time.Duration
	failures FailureRecorder
	logger   *zap.SugaredLogger
	queue    chan *occupancy.Result

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// PublisherOption configures a Publisher
type PublisherOption func(*Publisher)

// WithFailureRecorder counts failed publishes
func WithFailureRecorder(r FailureRecorder) PublisherOption {
	return func(p *Publisher) { p.failures = r }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger.Named("uplink").Sugar() }
}

// WithQueueSize sets how many results may wait to be sent
func WithQueueSize(n int) PublisherOption {
	return func(p *Publisher) { p.queue = make(chan *occupancy.Result, n) }
}

// NewPublisher creates a publisher for the collector at address. The
// connection is established lazily.
func NewPublisher(address string, timeout time.Duration, opts []PublisherOption, dialOpts ...grpc.DialOption) (*Publisher, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	p := &Publisher{
		timeout: timeout,
		logger:  zap.NewNop().Sugar(),
		queue:   make(chan *occupancy.Result, 256),
	}
	for _, opt := range opts {
		opt(p)
	}

	kacp := keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}
	dialOpts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, dialOpts...)

	conn, err := grpc.NewClient(address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create uplink client: %w", err)
	}
	p.conn = conn
	return p, nil
}

// Publish sends one result and waits for the collector to accept it
func (p *Publisher) Publish(ctx context.Context, result *occupancy.Result) error {
	in, err := ResultToStruct(result)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.conn.Invoke(ctx, publishMethod, in, new(emptypb.Empty)); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	p.sent.Add(1)
	return nil
}

// OnOccupancy implements pipeline.ResultHandler. When the queue is full the
// result is dropped.
func (p *Publisher) OnOccupancy(event *pipeline.OccupancyEvent) {
	if event == nil || event.Result == nil {
		return
	}
	select {
	case p.queue <- event.Result:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			p.logger.Warnw("Uplink queue full, dropping results", "dropped_total", n)
		}
	}
}

// Run publishes queued results until ctx is cancelled
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case result := <-p.queue:
			if err := p.Publish(ctx, result); err != nil {
				if ctx.Err() != nil {
					return
				}
				if p.failures != nil {
					p.failures.UplinkFailed()
				}
				p.logger.Warnw("Publish failed", "camera_id", result.CameraID, "error", err)
			}
		}
	}
}

// Sent returns the number of results the collector accepted
func (p *Publisher) Sent() uint64 {
	return p.sent.Load()
}

// Close closes the connection
func (p *Publisher) Close() error {
	return p.conn.Close()
}
