// Package health exposes a gRPC health endpoint so a process supervisor can
// probe the replicator. The endpoint reports NOT_SERVING until the pipeline
// is live (backfill running or subscription open).
package health

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/hubmirror/internal/logging"
)

type Server struct {
	address string
	logger  logging.Logger
	hs      *health.Server
}

func NewServer(address string, logger logging.Logger) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{
		address: address,
		logger:  logger.With("module", "health"),
		hs:      hs,
	}
}

// SetServing flips the reported status for the whole process.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus("", status)
}

func (s *Server) Run(ctx context.Context) error {

	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.hs)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "stopping health server")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "starting health server", "address", s.address)

	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
