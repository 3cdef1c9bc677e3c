// Package remote is the client side of the sync service: it applies queued
// operations on the remote and fetches remote changes.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/tourkeeper/internal/auth"
	"github.com/dmitrijs2005/tourkeeper/internal/common"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
	"github.com/dmitrijs2005/tourkeeper/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const tokenValidity = 15 * time.Minute

// tokenSource mints access tokens for the actor from the shared secret and
// reuses them until they are close to expiry.
type tokenSource struct {
	mu      sync.Mutex
	actorID string
	secret  []byte
	token   string
	expires time.Time
}

func (ts *tokenSource) get(force bool) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !force && ts.token != "" && time.Until(ts.expires) > time.Minute {
		return ts.token, nil
	}

	token, err := auth.GenerateToken(ts.actorID, ts.secret, tokenValidity)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	ts.token = token
	ts.expires = time.Now().Add(tokenValidity)
	return token, nil
}

type GRPCClient struct {
	conn   *grpc.ClientConn
	client *rpc.SyncClient
	tokens *tokenSource
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (c *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	token, err := c.tokens.get(false)
	if err != nil {
		return err
	}

	err = invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != common.ErrTokenExpired.Error() {
		return err
	}

	// the server saw an expired token, mint a fresh one and retry once
	token, err = c.tokens.get(true)
	if err != nil {
		return err
	}
	return invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
}

// NewGRPCClient prepares a client for addr. The connection is established
// lazily, so an unreachable server is not an error here. Extra dial options
// are appended to the defaults.
func NewGRPCClient(addr, actorID string, secret []byte, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{tokens: &tokenSource{actorID: actorID, secret: secret}}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.client = rpc.NewSyncClient(conn)
	return c, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) Ping(ctx context.Context) error {
	resp, err := c.client.Ping(ctx)
	if err != nil {
		return mapError(err)
	}

	var out rpc.PingResponse
	if err := rpc.Decode(resp, &out); err != nil || out.Status != rpc.StatusOK {
		return common.ErrUnavailable
	}
	return nil
}

// Apply replays one operation and returns the remote's authoritative copy
// of the record, or nil for deletes.
func (c *GRPCClient) Apply(ctx context.Context, op models.Operation) (*models.Show, error) {
	req, err := rpc.Encode(rpc.ApplyRequest{Operation: op})
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Apply(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	var out rpc.ApplyResponse
	if err := rpc.Decode(resp, &out); err != nil {
		return nil, err
	}
	return out.Record, nil
}

// Changes fetches the remote change log after the since cursor.
func (c *GRPCClient) Changes(ctx context.Context, since int64, limit int) (rpc.ChangesResponse, error) {
	req, err := rpc.Encode(rpc.ChangesRequest{Since: since, Limit: limit})
	if err != nil {
		return rpc.ChangesResponse{}, err
	}

	resp, err := c.client.Changes(ctx, req)
	if err != nil {
		return rpc.ChangesResponse{}, mapError(err)
	}

	var out rpc.ChangesResponse
	if err := rpc.Decode(resp, &out); err != nil {
		return rpc.ChangesResponse{}, err
	}
	return out, nil
}

// mapError turns gRPC status codes into the shared sentinel errors. The
// server message is kept for diagnostics.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", common.ErrUnavailable, err)
	}

	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", common.ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%w: %s", common.ErrUnavailable, st.Message())
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound:
		return fmt.Errorf("%w: %s", common.ErrRejected, st.Message())
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", common.ErrRateLimited, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
