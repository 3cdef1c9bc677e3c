package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/tourkeeper/internal/common"
	"github.com/dmitrijs2005/tourkeeper/internal/rpc"
	"github.com/dmitrijs2005/tourkeeper/internal/timex"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func (s *GRPCServer) Ping(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {

	return encode(rpc.PingResponse{Status: rpc.StatusOK, ServerTime: timex.UnixMilli(s.clock)})

}

func (s *GRPCServer) Apply(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {

	actor, ok := actorFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	if !s.limiter.Allow(actor) {
		s.logger.Warn(ctx, "apply rate limited", "actor", actor)
		return nil, status.Error(codes.ResourceExhausted, common.ErrRateLimited.Error())
	}

	var req rpc.ApplyRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.records.Apply(ctx, actor, req.Operation)
	if err != nil {
		if errors.Is(err, common.ErrRejected) {
			s.logger.Warn(ctx, "operation rejected", "op", req.Operation.ID, "error", err.Error())
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Error(ctx, err.Error(), "op", req.Operation.ID)
		return nil, status.Error(codes.Internal, "internal error")
	}

	return encode(rpc.ApplyResponse{Record: result.Show, Sequence: result.Seq})

}

func (s *GRPCServer) Changes(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {

	var req rpc.ChangesRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Since < 0 {
		return nil, status.Error(codes.InvalidArgument, "negative cursor")
	}

	recs, cursor, err := s.records.Changes(ctx, req.Since, req.Limit)
	if err != nil {
		s.logger.Error(ctx, err.Error())
		return nil, status.Error(codes.Internal, "internal error")
	}

	resp := rpc.ChangesResponse{Changes: make([]rpc.Change, 0, len(recs)), Cursor: cursor}
	for _, r := range recs {
		resp.Changes = append(resp.Changes, rpc.Change{Sequence: r.Seq, ID: r.ID, Deleted: r.Deleted, Record: r.Show})
	}

	return encode(resp)

}

func encode(v any) (*structpb.Struct, error) {
	out, err := rpc.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
