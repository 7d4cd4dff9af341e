// ============================================================================
// telshell - Line-oriented command shell server
// ============================================================================
//
// Package:     grpc
// Description: Admin gRPC server exposing health and reflection
// Author:      Mike Stoffels
// Created:     2025-12-06
// License:     MIT
// ============================================================================

package grpc

import (
	"context"
	"net"
	"strconv"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	tserror "github.com/msto63/telshell/pkg/core/error"
	"github.com/msto63/telshell/pkg/core/health"
	"github.com/msto63/telshell/pkg/core/logging"
)

var serverLogger = logging.New("admin")

// ServerConfig holds admin server configuration
type ServerConfig struct {
	Host              string
	Port              int
	EnableReflection  bool
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
}

// DefaultServerConfig returns a default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              9323,
		EnableReflection:  true,
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
	}
}

// Server wraps a gRPC server that serves the standard health service
type Server struct {
	server   *grpc.Server
	health   *grpchealth.Server
	config   ServerConfig
	listener net.Listener
}

// NewServer creates the admin server with the health service registered
func NewServer(cfg ServerConfig, opts ...grpc.ServerOption) *Server {
	serverOpts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.KeepaliveInterval,
			Timeout: cfg.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(),
			RequestIDInterceptor(),
			LoggingInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor(),
			StreamLoggingInterceptor(),
		),
	}
	serverOpts = append(serverOpts, opts...)

	server := grpc.NewServer(serverOpts...)
	healthServer := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	if cfg.EnableReflection {
		reflection.Register(server)
	}

	return &Server{
		server: server,
		health: healthServer,
		config: cfg,
	}
}

// GRPCServer returns the underlying gRPC server for service registration
func (s *Server) GRPCServer() *grpc.Server {
	return s.server
}

// SetServingStatus sets the health status reported for service; "" is
// the overall server status.
func (s *Server) SetServingStatus(service string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// WatchHealth runs the registry every interval and publishes the result as
// the overall health status until ctx is done.
func (s *Server) WatchHealth(ctx context.Context, registry *health.Registry, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	update := func() {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()

		report := registry.Check(checkCtx)
		s.SetServingStatus("", report.Healthy())
		for _, c := range report.Checks {
			s.SetServingStatus(c.Name, c.Status != health.StatusUnhealthy)
		}
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// StartAsync binds the configured address and serves in a goroutine
func (s *Server) StartAsync() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return tserror.Wrap(err, "failed to listen").
			WithCode(tserror.CodeTransportError).
			WithOperation("grpc.StartAsync").
			WithDetail("address", addr)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil {
			serverLogger.Error("admin server error", "error", err.Error())
		}
	}()

	serverLogger.Info("admin server started", "address", listener.Addr().String())
	return nil
}

// Stop marks every service as not serving and stops gracefully
func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// StopWithTimeout stops the server, forcing it once ctx is done
func (s *Server) StopWithTimeout(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}
}

// Address returns the server address
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}
