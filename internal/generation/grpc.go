package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// Generator sidecar service. Payloads are google.protobuf.Struct so the
// sidecar can be implemented in any language without shared stubs.
const (
	GrpcServiceName    = "roundtable.generation.v1.Generator"
	grpcGenerateMethod = "/" + GrpcServiceName + "/Generate"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcConfig holds configuration for the gRPC backend.
type GrpcConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcConfig returns default configuration for addr.
func DefaultGrpcConfig(addr string) GrpcConfig {
	return GrpcConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   60 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Grpc delegates generation to a remote sidecar over gRPC.
type Grpc struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpc connects to the generation sidecar. It fails fast when the
// endpoint is not reachable within cfg.ConnectTimeout.
func NewGrpc(cfg GrpcConfig, logger *slog.Logger) (*Grpc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, errors.New("grpc generator: address is required")
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to generator at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("generator at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to generation sidecar", "address", cfg.Address)

	return &Grpc{
		conn:    conn,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (g *Grpc) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Generate performs one unary Generate call.
func (g *Grpc) Generate(ctx context.Context, req Request) (Result, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	in, err := encodeRequest(req)
	if err != nil {
		return Result{}, err
	}
	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, grpcGenerateMethod, in, out, grpc.WaitForReady(true)); err != nil {
		return Result{}, fmt.Errorf("generate request failed: %w", err)
	}
	return decodeResult(out)
}

func encodeRequest(req Request) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{
		"session_id":     req.SessionID,
		"participant_id": req.ParticipantID,
		"model":          req.Model,
		"instructions":   req.Instructions,
		"context":        req.Context,
		"max_tokens":     req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	return in, nil
}

func decodeRequest(in *structpb.Struct) Request {
	f := in.GetFields()
	return Request{
		SessionID:     f["session_id"].GetStringValue(),
		ParticipantID: f["participant_id"].GetStringValue(),
		Model:         f["model"].GetStringValue(),
		Instructions:  f["instructions"].GetStringValue(),
		Context:       f["context"].GetStringValue(),
		MaxTokens:     int(f["max_tokens"].GetNumberValue()),
	}
}

func decodeResult(out *structpb.Struct) (Result, error) {
	f := out.GetFields()
	if msg := f["error"].GetStringValue(); msg != "" {
		return Result{}, fmt.Errorf("generator error: %s", msg)
	}
	text := f["text"].GetStringValue()
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyResponse
	}
	return Result{
		Text:       text,
		TokensUsed: int(f["tokens_used"].GetNumberValue()),
	}, nil
}

// GrpcServer exposes a Generator as the sidecar service. The server
// process uses it to front a local model; tests use it as a fake sidecar.
type GrpcServer struct {
	gen Generator
}

// RegisterGrpcServer registers gen on s under GrpcServiceName.
func RegisterGrpcServer(s *grpc.Server, gen Generator) {
	s.RegisterService(&grpcServiceDesc, &GrpcServer{gen: gen})
}

type grpcGeneratorServer interface {
	generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func (s *GrpcServer) generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.gen.Generate(ctx, decodeRequest(in))
	if err != nil {
		return structpb.NewStruct(map[string]any{"error": err.Error()})
	}
	return structpb.NewStruct(map[string]any{
		"text":        res.Text,
		"tokens_used": res.TokensUsed,
	})
}

func grpcGenerateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(grpcGeneratorServer).generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcGenerateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(grpcGeneratorServer).generate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var grpcServiceDesc = grpc.ServiceDesc{
	ServiceName: GrpcServiceName,
	HandlerType: (*grpcGeneratorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Generate", Handler: grpcGenerateHandler},
	},
	Streams: []grpc.StreamDesc{},
}
