package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified name of the admin pipeline service
const ServiceName = "navmetrics.v1.PipelineService"

// Ingester triggers ingestion runs
type Ingester interface {
	IngestOne(ctx context.Context, code string) bool
	IngestMany(ctx context.Context, codes []string, delay time.Duration) int
}

// Refresher triggers metrics refreshes
type Refresher interface {
	RefreshOne(ctx context.Context, code string) bool
	RefreshAll(ctx context.Context) int
}

// PipelineServer is the server API of the admin pipeline service
type PipelineServer interface {
	IngestOne(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	IngestMany(ctx context.Context, req *structpb.ListValue) (*wrapperspb.Int64Value, error)
	RefreshOne(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	RefreshAll(ctx context.Context, req *emptypb.Empty) (*wrapperspb.Int64Value, error)
}

// Server implements PipelineServer over the ingestion and metrics coordinators
// Per-instrument failures are reported as false or a lower count, never as RPC errors;
// details are in the ingestion audit log
type Server struct {
	Ingester  Ingester
	Refresher Refresher
	Delay     time.Duration
}

// NewServer creates a new gRPC server instance
func NewServer(ingester Ingester, refresher Refresher, delay time.Duration) *Server {
	return &Server{
		Ingester:  ingester,
		Refresher: refresher,
		Delay:     delay,
	}
}

// Register attaches the pipeline service to a gRPC server
func Register(s grpc.ServiceRegistrar, srv PipelineServer) {
	s.RegisterService(&PipelineServiceDesc, srv)
}

// IngestOne handles the IngestOne RPC
func (s *Server) IngestOne(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	code, err := schemeCode(req.GetValue())
	if err != nil {
		return nil, err
	}
	ok := s.Ingester.IngestOne(ctx, code)
	if err := mapError(ctx.Err()); err != nil {
		return nil, err
	}
	return wrapperspb.Bool(ok), nil
}

// IngestMany handles the IngestMany RPC; the list holds scheme codes as strings
func (s *Server) IngestMany(ctx context.Context, req *structpb.ListValue) (*wrapperspb.Int64Value, error) {
	schemeCodes := make([]string, 0, len(req.GetValues()))
	for i, v := range req.GetValues() {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "invalid scheme code at index %d: must be a string", i)
		}
		code, err := schemeCode(sv.StringValue)
		if err != nil {
			return nil, err
		}
		schemeCodes = append(schemeCodes, code)
	}
	if len(schemeCodes) == 0 {
		return nil, status.Error(codes.InvalidArgument, "at least one scheme code is required")
	}

	count := s.Ingester.IngestMany(ctx, schemeCodes, s.Delay)
	if err := mapError(ctx.Err()); err != nil {
		return nil, err
	}
	return wrapperspb.Int64(int64(count)), nil
}

// RefreshOne handles the RefreshOne RPC
func (s *Server) RefreshOne(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	code, err := schemeCode(req.GetValue())
	if err != nil {
		return nil, err
	}
	ok := s.Refresher.RefreshOne(ctx, code)
	if err := mapError(ctx.Err()); err != nil {
		return nil, err
	}
	return wrapperspb.Bool(ok), nil
}

// RefreshAll handles the RefreshAll RPC
func (s *Server) RefreshAll(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	count := s.Refresher.RefreshAll(ctx)
	if err := mapError(ctx.Err()); err != nil {
		return nil, err
	}
	return wrapperspb.Int64(int64(count)), nil
}

func schemeCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		return "", status.Error(codes.InvalidArgument, "scheme code cannot be empty")
	}
	return code, nil
}

// mapError converts context errors to gRPC status codes
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Errorf(codes.Internal, "%s", err.Error())
}

// PipelineServiceDesc describes the admin pipeline service
// Messages are protobuf well-known types, so no generated code is needed
var PipelineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PipelineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IngestOne", Handler: ingestOneHandler},
		{MethodName: "IngestMany", Handler: ingestManyHandler},
		{MethodName: "RefreshOne", Handler: refreshOneHandler},
		{MethodName: "RefreshAll", Handler: refreshAllHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "navmetrics/v1/pipeline.proto",
}

func ingestOneHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineServer).IngestOne(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/IngestOne"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PipelineServer).IngestOne(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func ingestManyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.ListValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineServer).IngestMany(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/IngestMany"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PipelineServer).IngestMany(ctx, req.(*structpb.ListValue))
	}
	return interceptor(ctx, in, info, handler)
}

func refreshOneHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineServer).RefreshOne(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RefreshOne"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PipelineServer).RefreshOne(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func refreshAllHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineServer).RefreshAll(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RefreshAll"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PipelineServer).RefreshAll(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
