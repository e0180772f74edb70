// Package grpc serves the dispatcher's gRPC health endpoint.
package grpc

import (
	"net"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"nexchat-service/internal/observability"
)

// DispatcherService is the health service name reported while the trigger
// consumer is running.
const DispatcherService = "nexchat.Dispatcher"

type Server struct {
	srv    *ggrpc.Server
	health *health.Server
	log    zerolog.Logger
}

func NewServer(log zerolog.Logger) *Server {
	srv := ggrpc.NewServer(
		ggrpc.StatsHandler(otelgrpc.NewServerHandler()),
		ggrpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	h := health.NewServer()
	healthpb.RegisterHealthServer(srv, h)
	h.SetServingStatus(DispatcherService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{srv: srv, health: h, log: log.With().Str("component", "grpc").Logger()}
}

// SetServing flips the dispatcher service status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(DispatcherService, status)
}

// Serve blocks until the listener fails or Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc listening")
	return s.srv.Serve(lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
