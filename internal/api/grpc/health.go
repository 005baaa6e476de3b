// Package grpcapi serves the gRPC health endpoint of the client daemon.
package grpcapi

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"ai-voice-turn-client/internal/observability/metrics"
)

// SessionService is the health service name reported for the voice session.
const SessionService = "ai.voice.turn.Session"

// Server is a gRPC server exposing health and reflection for one voice session.
type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	addr    string
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewServer creates a server listening on port and reporting on the session
// identified by sessionKey. Every service starts NOT_SERVING.
func NewServer(port, sessionKey string, m *metrics.Metrics) *Server {
	s := &Server{
		addr:    ":" + port,
		metrics: m,
		logger: log.With().
			Str("component", "grpc_health").
			Str("sessionKey", sessionKey).
			Logger(),
	}

	s.grpc = grpc.NewServer(
		grpc.UnaryInterceptor(s.unaryInterceptor),
		grpc.StreamInterceptor(s.streamInterceptor),
	)

	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(SessionService, healthpb.HealthCheckResponse_NOT_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(s.grpc)

	return s
}

// unaryInterceptor records every health check. Checks are polled, so they
// log at debug level.
func (s *Server) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err).String()
	s.metrics.RecordGRPCCall(info.FullMethod, code, time.Since(start).Seconds())

	e := s.logger.Debug().Str("method", info.FullMethod).Str("code", code)
	if hc, ok := req.(*healthpb.HealthCheckRequest); ok {
		e = e.Str("service", hc.GetService())
	}
	e.Dur("duration", time.Since(start)).Msg("Health check served")
	return resp, err
}

// streamInterceptor records health watches and reflection streams once they end.
func (s *Server) streamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	code := status.Code(err).String()
	s.metrics.RecordGRPCCall(info.FullMethod, code, time.Since(start).Seconds())

	s.logger.Info().
		Str("method", info.FullMethod).
		Str("code", code).
		Dur("duration", time.Since(start)).
		Msg("Health stream ended")
	return err
}

// SetServing flips the overall and session status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(SessionService, status)
	s.logger.Info().Str("status", status.String()).Msg("Health status updated")
}

// Start listens on the configured port and serves in a goroutine.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in a goroutine.
func (s *Server) Serve(lis net.Listener) error {
	go func() {
		s.logger.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC health server")
		if err := s.grpc.Serve(lis); err != nil {
			s.logger.Error().Err(err).Msg("gRPC serve failed")
		}
	}()
	return nil
}

// Stop marks every service NOT_SERVING and stops gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info().Msg("gRPC health server stopped")
}
