// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package grpc hosts Keyward's gRPC listener. Every registered service sits
// behind the bearer-token gate; the standard health service is public by
// default.
//
// Keyward itself registers only the health service. The listener is an
// embedding point: downstream services are added through Server.Registrar and
// inherit the gate. ProtectedMethods reports what the gate currently guards.
package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"sync/atomic"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server wraps a *grpc.Server with the gate interceptors and a health
// service.
type Server struct {
	addr     string
	gate     *Gate
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	logger   *slog.Logger
	running  atomic.Bool
}

// NewServer creates a Server listening on addr. Additional services may be
// registered on Registrar before Start.
func NewServer(addr string, gate *Gate, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(gate.UnaryInterceptor()),
		grpc.ChainStreamInterceptor(gate.StreamInterceptor()),
	)
	s := &Server{
		addr:   addr,
		gate:   gate,
		server: grpc.NewServer(opts...),
		health: health.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	return s
}

// Registrar returns the underlying registrar for additional services.
func (s *Server) Registrar() grpc.ServiceRegistrar {
	return s.server
}

// ProtectedMethods lists the registered full method names that require a
// bearer token, sorted.
func (s *Server) ProtectedMethods() []string {
	var methods []string
	for service, info := range s.server.GetServiceInfo() {
		for _, m := range info.Methods {
			full := "/" + service + "/" + m.Name
			if !s.gate.IsPublic(full) {
				methods = append(methods, full)
			}
		}
	}
	slices.Sort(methods)
	return methods
}

// SetServing flips the overall health status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

// Start listens on addr and serves in the background.
func (s *Server) Start() (<-chan error, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, oops.Code("GRPC_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener.
func (s *Server) Serve(listener net.Listener) (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("GRPC_ALREADY_RUNNING").Errorf("grpc server already running")
	}
	s.listener = listener
	s.SetServing(true)

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("grpc server error", "error", err)
			errCh <- err
		}
	}()

	s.logger.Info("grpc server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop drains in-flight calls, forcing a stop when ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
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
		<-done
	}
	s.logger.Info("grpc server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
