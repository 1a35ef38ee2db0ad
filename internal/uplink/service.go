// Package uplink forwards occupancy results to a central collector over gRPC
// and provides that collector. Results travel as google.protobuf.Struct so no
// generated code is needed.
package uplink

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"crowdcount/internal/occupancy"
)

const (
	serviceName   = "crowdcount.uplink.v1.Collector"
	publishMethod = "/" + serviceName + "/Publish"
)

// CollectorServer is the server API of the collector service
type CollectorServer interface {
	Publish(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: publishMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var collectorServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CollectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler:    publishHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "crowdcount/uplink/v1/collector.proto",
}

// RegisterCollectorServer registers srv with a gRPC server
func RegisterCollectorServer(s grpc.ServiceRegistrar, srv CollectorServer) {
	s.RegisterService(&collectorServiceDesc, srv)
}

// ResultToStruct converts a result to its wire form. The struct has exactly
// the fields of the result's JSON encoding.
func ResultToStruct(result *occupancy.Result) (*structpb.Struct, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	s := &structpb.Struct{}
	if err := s.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("failed to convert result: %w", err)
	}
	return s, nil
}

// StructToResult converts the wire form back to a result
func StructToResult(s *structpb.Struct) (*occupancy.Result, error) {
	data, err := s.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode struct: %w", err)
	}
	var result occupancy.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &result, nil
}
