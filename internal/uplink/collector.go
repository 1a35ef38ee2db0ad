package uplink

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"crowdcount/internal/occupancy"
)

// Collector receives results from edge nodes and keeps the latest result per
// camera. It refuses anything that is not a privacy compliant result.
type Collector struct {
	mu       sync.RWMutex
	latest   map[string]*occupancy.Result
	received uint64
	onResult func(*occupancy.Result)
	logger   *zap.SugaredLogger
}

// NewCollector creates a collector. onResult may be nil.
func NewCollector(onResult func(*occupancy.Result), logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		latest:   make(map[string]*occupancy.Result),
		onResult: onResult,
		logger:   logger.Named("collector").Sugar(),
	}
}

// Publish implements CollectorServer
func (c *Collector) Publish(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	result, err := StructToResult(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := validate(result); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.latest[result.CameraID] = result
	c.received++
	c.mu.Unlock()

	if c.onResult != nil {
		c.onResult(result)
	}
	return &emptypb.Empty{}, nil
}

func validate(r *occupancy.Result) error {
	switch {
	case r.CameraID == "":
		return status.Error(codes.InvalidArgument, "camera_id is required")
	case r.Timestamp.IsZero():
		return status.Error(codes.InvalidArgument, "timestamp is required")
	case !r.PrivacyCompliant || r.DataRetention != occupancy.DataRetentionNone:
		return status.Error(codes.FailedPrecondition, "result is not privacy compliant")
	case r.PeopleCount != len(r.Detections):
		return status.Error(codes.InvalidArgument, "people_count does not match detections")
	}
	return nil
}

// Latest returns the latest result of a camera, or nil
func (c *Collector) Latest(cameraID string) *occupancy.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest[cameraID]
}

// Received returns the number of accepted results
func (c *Collector) Received() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.received
}

// Serve runs a gRPC server for the collector on lis until ctx is cancelled
func (c *Collector) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	RegisterCollectorServer(srv, c)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	c.logger.Infow("Collector listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
