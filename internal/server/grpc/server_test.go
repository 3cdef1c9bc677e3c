package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/tourkeeper/internal/client/remote"
	"github.com/dmitrijs2005/tourkeeper/internal/common"
	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
	"github.com/dmitrijs2005/tourkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tourkeeper/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:0", logging.Nop(), nil, "secret", 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:99999", logging.Nop(), nil, "secret", 0, 0)

	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}

func startEndToEnd(t *testing.T, actor string, secret []byte, rps float64, burst int) *remote.GRPCClient {
	t.Helper()

	rs := services.NewRecordService(repomanager.NewInMemoryRepositoryManager(), logging.Nop(), 0)
	s := NewGRPCServer("", logging.Nop(), rs, "shared", rps, burst)

	lis := bufconn.Listen(1 << 20)
	srv := s.NewServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := remote.NewGRPCClient("passthrough:///bufnet", actor, secret,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEndToEnd_ApplyAndPull(t *testing.T) {
	c := startEndToEnd(t, "device-1", []byte("shared"), 0, 0)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	create := models.Operation{
		ID: "op1", Type: models.OperationCreate, ResourceType: models.ResourceTypeShow, ResourceID: "s1",
		Payload: []byte(`{"id":"s1","city":"Oslo","date":"2026-03-01","fee":1500,"version":0,"modifiedAt":1000,"modifiedBy":"device-1"}`),
	}
	rec, err := c.Apply(ctx, create)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1500.0, rec.Fee)

	update := create
	update.ID, update.Type = "op2", models.OperationUpdate
	update.Payload = []byte(`{"id":"s1","city":"Bergen","date":"2026-03-01","fee":1500,"version":1,"modifiedAt":2000,"modifiedBy":"device-1"}`)
	rec, err = c.Apply(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, "Bergen", rec.City)

	del := models.Operation{ID: "op3", Type: models.OperationDelete, ResourceType: models.ResourceTypeShow, ResourceID: "s1"}
	rec, err = c.Apply(ctx, del)
	require.NoError(t, err)
	assert.Nil(t, rec)

	changes, err := c.Changes(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, changes.Changes, 1)
	assert.True(t, changes.Changes[0].Deleted)
	assert.Equal(t, "s1", changes.Changes[0].ID)
	assert.Equal(t, int64(3), changes.Cursor)
}

func TestEndToEnd_RejectedOperation(t *testing.T) {
	c := startEndToEnd(t, "device-1", []byte("shared"), 0, 0)

	_, err := c.Apply(context.Background(), models.Operation{ID: "op1", Type: models.OperationUpdate, ResourceType: models.ResourceTypeShow, ResourceID: "s1", Payload: []byte(`"oops"`)})
	require.ErrorIs(t, err, common.ErrRejected)
}

func TestEndToEnd_WrongSecretIsUnauthorized(t *testing.T) {
	c := startEndToEnd(t, "device-1", []byte("not-shared"), 0, 0)

	require.NoError(t, c.Ping(context.Background()), "ping needs no token")

	_, err := c.Changes(context.Background(), 0, 10)
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestEndToEnd_RateLimited(t *testing.T) {
	c := startEndToEnd(t, "device-1", []byte("shared"), 0.001, 1)
	op := models.Operation{ID: "op1", Type: models.OperationDelete, ResourceType: models.ResourceTypeShow, ResourceID: "s1"}

	_, err := c.Apply(context.Background(), op)
	require.NoError(t, err)

	_, err = c.Apply(context.Background(), op)
	require.ErrorIs(t, err, common.ErrRateLimited)
}
