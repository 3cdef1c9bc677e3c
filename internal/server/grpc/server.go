// Package grpc exposes the record service to clients over gRPC.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
	"github.com/dmitrijs2005/tourkeeper/internal/rpc"
	"github.com/dmitrijs2005/tourkeeper/internal/server/repositories/records"
	"github.com/dmitrijs2005/tourkeeper/internal/server/services"
	"github.com/dmitrijs2005/tourkeeper/internal/timex"
	"google.golang.org/grpc"
)

// RecordService is the subset of services.RecordService used by handlers.
type RecordService interface {
	Apply(ctx context.Context, actor string, op models.Operation) (services.ApplyResult, error)
	Changes(ctx context.Context, since int64, limit int) ([]*records.Record, int64, error)
}

type GRPCServer struct {
	address   string
	records   RecordService
	logger    logging.Logger
	jwtSecret []byte
	limiter   *actorLimiter
	clock     timex.Clock
}

// NewGRPCServer builds a server. applyRate is the number of Apply calls per
// second allowed for each actor; values <= 0 disable the limit.
func NewGRPCServer(a string, l logging.Logger, rs RecordService, secretKey string, applyRate float64, applyBurst int) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		records:   rs,
		jwtSecret: []byte(secretKey),
		limiter:   newActorLimiter(applyRate, applyBurst),
		clock:     timex.SystemClock{},
	}
}

// NewServer returns a grpc.Server with interceptors and the sync service
// registered, ready to Serve on any listener.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	srv := grpc.NewServer(opts...)
	rpc.RegisterSyncServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
