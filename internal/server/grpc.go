package server

import (
	"MetLev/internal/core"
	"MetLev/internal/errs"
	"MetLev/internal/ingestion"
	"MetLev/internal/observability"
	"MetLev/internal/query"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "metlev.v1.Engine"

// --- messages ---

type SubmitRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type SubmitResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
	Duplicate bool   `json:"duplicate"`
}

type GetPositionRequest struct {
	Owner string `json:"owner"`
	Mint  string `json:"mint"`
}

type GetPoolRequest struct {
	Asset string `json:"asset"`
}

type GetLpPositionRequest struct {
	Owner string `json:"owner"`
	Asset string `json:"asset"`
}

type GetBalanceRequest struct {
	Owner string `json:"owner"`
	Asset string `json:"asset"`
}

// EngineServer is the server API for the metlev.v1.Engine service.
type EngineServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetPosition(context.Context, *GetPositionRequest) (*query.PositionResponse, error)
	GetPool(context.Context, *GetPoolRequest) (*query.PoolResponse, error)
	GetLpPosition(context.Context, *GetLpPositionRequest) (*query.LpPositionResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*query.BalanceResponse, error)
}

func unaryHandler[Req any, Resp any](method string, call func(EngineServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(EngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(EngineServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// EngineServiceDesc describes the engine service for grpc.Server.
var EngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Submit", EngineServer.Submit),
		unaryHandler("GetPosition", EngineServer.GetPosition),
		unaryHandler("GetPool", EngineServer.GetPool),
		unaryHandler("GetLpPosition", EngineServer.GetLpPosition),
		unaryHandler("GetBalance", EngineServer.GetBalance),
	},
	Metadata: "metlev/v1/engine",
}

// --- implementation ---

// Ingestor submits a named event payload and waits for the core.
type Ingestor interface {
	Submit(ctx context.Context, eventType string, payload []byte) (core.Receipt, error)
}

// Reader serves the read models.
type Reader interface {
	GetPosition(ctx context.Context, owner uuid.UUID, mint string) (*query.PositionResponse, error)
	GetPool(ctx context.Context, asset string) (*query.PoolResponse, error)
	GetLpPosition(ctx context.Context, owner uuid.UUID, asset string) (*query.LpPositionResponse, error)
	GetBalance(ctx context.Context, owner uuid.UUID, asset string) (*query.BalanceResponse, error)
}

type engineService struct {
	ingest Ingestor
	reader Reader
}

// NewEngineService adapts the ingest and query services to EngineServer.
func NewEngineService(ingest Ingestor, reader Reader) EngineServer {
	return &engineService{ingest: ingest, reader: reader}
}

func (s *engineService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.EventType == "" {
		return nil, status.Error(codes.InvalidArgument, "event_type is required")
	}
	receipt, err := s.ingest.Submit(ctx, req.EventType, req.Payload)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitResponse{
		Sequence:  receipt.Sequence,
		StateHash: hex.EncodeToString(receipt.StateHash[:]),
		Duplicate: receipt.Duplicate,
	}, nil
}

func (s *engineService) GetPosition(ctx context.Context, req *GetPositionRequest) (*query.PositionResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	if req.Mint == "" {
		return nil, status.Error(codes.InvalidArgument, "mint is required")
	}
	resp, err := s.reader.GetPosition(ctx, owner, req.Mint)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *engineService) GetPool(ctx context.Context, req *GetPoolRequest) (*query.PoolResponse, error) {
	if req.Asset == "" {
		return nil, status.Error(codes.InvalidArgument, "asset is required")
	}
	resp, err := s.reader.GetPool(ctx, req.Asset)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *engineService) GetLpPosition(ctx context.Context, req *GetLpPositionRequest) (*query.LpPositionResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	if req.Asset == "" {
		return nil, status.Error(codes.InvalidArgument, "asset is required")
	}
	resp, err := s.reader.GetLpPosition(ctx, owner, req.Asset)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *engineService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*query.BalanceResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	if req.Asset == "" {
		return nil, status.Error(codes.InvalidArgument, "asset is required")
	}
	resp, err := s.reader.GetBalance(ctx, owner, req.Asset)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func parseOwner(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, "owner is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid owner: %v", err)
	}
	return id, nil
}

// toStatus maps engine errors onto gRPC codes. Core rejections carry their
// taxonomy name as the message prefix.
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, ingestion.ErrInvalidPayload):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, core.ErrRunnerStopped):
		return status.Error(codes.Unavailable, err.Error())
	}

	code := errs.CodeOf(err)
	var grpcCode codes.Code
	switch code.Category() {
	case errs.CategoryAuthorization:
		grpcCode = codes.PermissionDenied
	case errs.CategoryProtocolState, errs.CategoryRisk, errs.CategoryLiquidity, errs.CategoryOracle:
		grpcCode = codes.FailedPrecondition
	case errs.CategoryArithmetic:
		grpcCode = codes.FailedPrecondition
		if code == errs.CodeInvalidAmount {
			grpcCode = codes.InvalidArgument
		}
	case errs.CategoryExternalCall:
		grpcCode = codes.Aborted
	default:
		return status.Error(codes.Internal, err.Error())
	}
	return status.Error(grpcCode, fmt.Sprintf("%s: %v", code, err))
}

// --- server ---

// GRPCServer wraps the gRPC server and its health service.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	grpcAddr   string
}

// NewGRPCServer creates a gRPC server with the engine, health and
// reflection services registered.
func NewGRPCServer(grpcAddr string, engine EngineServer, metrics *observability.Metrics) *GRPCServer {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(metricsInterceptor(metrics)))
	grpcServer.RegisterService(&EngineServiceDesc, engine)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer: grpcServer,
		health:     healthServer,
		grpcAddr:   grpcAddr,
	}
}

// SetServing flips the gRPC health status once recovery has finished.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// StartGRPC listens on the configured address and serves (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()
	return s.grpcServer.Serve(lis)
}

func metricsInterceptor(metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if metrics != nil && err != nil {
			metrics.GRPCErrors.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		}
		return resp, err
	}
}
