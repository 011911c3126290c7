// Package health exposes serving status over the standard gRPC health
// protocol. The notification channel is reported as NOT_SERVING while its
// circuit breaker is open.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/viant/hitloop/service/breaker"
	"github.com/viant/hitloop/service/metrics"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ChannelService is the health service name of the notification channel
const ChannelService = "hitloop.channel"

// Server serves gRPC health checks
type Server struct {
	health *grpchealth.Server
	server *grpc.Server
	logger *slog.Logger
}

// OnBreakerChange is a breaker listener updating channel status and metrics
func (s *Server) OnBreakerChange(from, to breaker.State) {
	metrics.BreakerState.Set(float64(to))
	status := healthpb.HealthCheckResponse_SERVING
	if to == breaker.Open {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ChannelService, status)
	s.logger.Info("channel breaker state changed", "from", from, "to", to)
}

// Check returns status of service; empty name is the overall status
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	response, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return response.Status, nil
}

// Err returns an error when the channel is not serving
func (s *Server) Err() error {
	status, err := s.Check(context.Background(), ChannelService)
	if err != nil {
		return err
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("channel %v", status)
	}
	return nil
}

// Serve serves on listener until Stop
func (s *Server) Serve(listener net.Listener) error {
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and serves
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %v: %w", addr, err)
	}
	return s.Serve(listener)
}

// Stop marks everything not serving and stops the server gracefully
func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// New creates a health server; the channel starts as SERVING
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ret := &Server{health: grpchealth.NewServer(), server: grpc.NewServer(), logger: logger}
	ret.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	ret.health.SetServingStatus(ChannelService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(ret.server, ret.health)
	return ret
}
