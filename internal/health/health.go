/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package health

import (
	"chatsync/internal/nlog"
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Names of the services whose status is published, "" is the whole node
const (
	ServiceNode  = ""
	ServiceChat  = "chat"
	ServiceRelay = "relay"
)

// Server publishes the serving status of the node over the standard gRPC health protocol
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     nlog.Logger
}

func NewServer(logger nlog.Logger) *Server {
	grpcServer := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, h)

	for _, service := range []string{ServiceNode, ServiceChat, ServiceRelay} {
		h.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return &Server{grpcServer, h, logger}
}

func (s *Server) Logf(format string, v ...any) {
	s.logger.Logf(format, v...)
}

// SetServing flips the status of a service
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
	s.Logf("Health of {%s} is now %s", service, status)
}

// Serve listens on port until ctx is done, then stops gracefully
func (s *Server) Serve(ctx context.Context, port uint16) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener is Serve over an existing listener
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.Logf("Shutting down gRPC health server...")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.Logf("Health server listening on %s", lis.Addr())
	return s.grpcServer.Serve(lis)
}

// Check asks the health server at address for the status of service
func Check(ctx context.Context, address, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
