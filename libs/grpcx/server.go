package grpcx

import (
	"context"
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer is a gRPC server exposing grpc.health.v1 for orchestrator health checks.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewHealthServer builds a traced gRPC server with the standard health service registered.
// The overall status and every name in services start as SERVING.
func NewHealthServer(logger *slog.Logger, services ...string) *HealthServer {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLoggingInterceptor(logger),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, name := range services {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	return &HealthServer{srv: srv, health: hs, logger: logger}
}

// Serve accepts connections on lis until ctx is cancelled, then marks every service
// NOT_SERVING and stops gracefully.
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.srv.GracefulStop()
	}()
	s.logger.Info("grpc server starting", "addr", lis.Addr().String())
	return s.srv.Serve(lis)
}
