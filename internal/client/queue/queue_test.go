package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/tourkeeper/internal/client/storage"
	"github.com/dmitrijs2005/tourkeeper/internal/common"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
	"github.com/dmitrijs2005/tourkeeper/internal/timex"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRemote = errors.New("server unavailable")

func sequentialIDs() func(string, string, time.Time) string {
	var n atomic.Int64
	return func(string, string, time.Time) string {
		return fmt.Sprintf("op-%d", n.Add(1))
	}
}

func newQueue(t *testing.T, st storage.Storage, now *int64) *Queue {
	t.Helper()
	return New(context.Background(), st, Options{
		NewID: sequentialIDs(),
		Clock: timex.ClockFunc(func() time.Time { return time.UnixMilli(*now) }),
	})
}

func TestEnqueue_ThenGetQueued(t *testing.T) {
	now := int64(1000)
	q := newQueue(t, storage.NewMemory(), &now)

	op := q.Enqueue(context.Background(), models.OperationCreate, models.ResourceTypeShow, "s1", json.RawMessage(`{"id":"s1"}`))

	queued := q.GetQueued()
	require.Len(t, queued, 1)
	assert.Equal(t, op, queued[0])
	assert.Equal(t, models.StatusPending, op.Status)
	assert.Equal(t, 0, op.RetryCount)
	assert.Equal(t, int64(1000), op.Timestamp)
	assert.Empty(t, q.GetFailed())
}

func TestEnqueue_DefaultIDsAreUnique(t *testing.T) {
	q := New(context.Background(), nil, Options{})
	ctx := context.Background()

	a := q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "s1", nil)
	b := q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "s1", nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Contains(t, a.ID, "show-s1-")
}

func TestEnqueue_PreservesFIFO(t *testing.T) {
	now := int64(1)
	q := newQueue(t, storage.NewMemory(), &now)
	ctx := context.Background()

	for i := range 5 {
		q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "s1", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
	}

	var ids []string
	for _, op := range q.GetQueued() {
		ids = append(ids, op.ID)
	}
	assert.Equal(t, []string{"op-1", "op-2", "op-3", "op-4", "op-5"}, ids, "no coalescing by default")
}

func TestEnqueue_CoalescesPendingUpdates(t *testing.T) {
	q := New(context.Background(), storage.NewMemory(), Options{Coalesce: true, NewID: sequentialIDs()})
	ctx := context.Background()

	q.Enqueue(ctx, models.OperationCreate, models.ResourceTypeShow, "s1", json.RawMessage(`{"v":0}`))
	q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "s1", json.RawMessage(`{"v":1}`))
	op := q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "s1", json.RawMessage(`{"v":2}`))
	q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "s2", json.RawMessage(`{"v":9}`))

	queued := q.GetQueued()
	require.Len(t, queued, 3)
	assert.Equal(t, "op-2", op.ID)
	assert.JSONEq(t, `{"v":2}`, string(queued[1].Payload))

	// an update that already failed once is not rewritten
	q.MarkFailed(ctx, "op-2", errRemote)
	q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "s1", json.RawMessage(`{"v":3}`))
	assert.Len(t, q.GetQueued(), 4)
}

func TestEnqueue_DoesNotCoalesceIntoOperationBeingApplied(t *testing.T) {
	q := New(context.Background(), storage.NewMemory(), Options{Coalesce: true, NewID: sequentialIDs()})
	ctx := context.Background()

	q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "s1", json.RawMessage(`{"v":1}`))

	cur, ok := q.BeginApply("op-1")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(cur.Payload))

	second := q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "s1", json.RawMessage(`{"v":2}`))
	assert.Equal(t, "op-2", second.ID)

	queued := q.GetQueued()
	require.Len(t, queued, 2)
	assert.JSONEq(t, `{"v":1}`, string(queued[0].Payload))

	q.EndApply("op-1")
	require.True(t, q.MarkSynced(ctx, "op-1"))

	// the follow-up is pending and open for coalescing again
	op := q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "s1", json.RawMessage(`{"v":3}`))
	assert.Equal(t, "op-2", op.ID)
	queued = q.GetQueued()
	require.Len(t, queued, 1)
	assert.JSONEq(t, `{"v":3}`, string(queued[0].Payload))

	_, ok = q.BeginApply("missing")
	assert.False(t, ok)
}

func TestMarkSynced_IsIdempotent(t *testing.T) {
	now := int64(1)
	q := newQueue(t, storage.NewMemory(), &now)
	ctx := context.Background()
	op := q.Enqueue(ctx, models.OperationDelete, models.ResourceTypeShow, "s1", nil)

	notified := 0
	q.Subscribe(func(Snapshot) { notified++ })

	assert.True(t, q.MarkSynced(ctx, op.ID))
	assert.False(t, q.MarkSynced(ctx, op.ID))
	assert.False(t, q.MarkFailed(ctx, op.ID, errRemote))
	assert.Empty(t, q.GetQueued())
	assert.Equal(t, 2, notified)
}

func TestMarkFailed_MovesToFailedAtLimit(t *testing.T) {
	now := int64(1)
	q := newQueue(t, storage.NewMemory(), &now)
	ctx := context.Background()
	op := q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "s1", nil)

	for i := 1; i < DefaultMaxRetries; i++ {
		q.MarkFailed(ctx, op.ID, errRemote)
		got, ok := q.Get(op.ID)
		require.True(t, ok)
		assert.Equal(t, i, got.RetryCount)
		assert.Equal(t, models.StatusRetrying, got.Status)
		assert.Equal(t, "server unavailable", got.LastError)
		assert.Len(t, q.GetQueued(), 1)
	}

	q.MarkFailed(ctx, op.ID, errRemote)
	assert.Empty(t, q.GetQueued())
	failed := q.GetFailed()
	require.Len(t, failed, 1)
	assert.Equal(t, models.StatusFailed, failed[0].Status)
	assert.Equal(t, DefaultMaxRetries, failed[0].RetryCount)
}

func TestRetry(t *testing.T) {
	now := int64(1)
	q := New(context.Background(), storage.NewMemory(), Options{
		MaxRetries: 1,
		NewID:      sequentialIDs(),
		Clock:      timex.ClockFunc(func() time.Time { return time.UnixMilli(now) }),
	})
	ctx := context.Background()
	op := q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "s1", nil)

	assert.False(t, q.Retry(ctx, op.ID), "not in the failed set yet")

	q.MarkFailed(ctx, op.ID, errRemote)
	require.Len(t, q.GetFailed(), 1)

	now = 5000
	assert.True(t, q.Retry(ctx, op.ID))
	queued := q.GetQueued()
	require.Len(t, queued, 1)
	assert.Equal(t, models.StatusRetrying, queued[0].Status)
	assert.Equal(t, int64(5000), queued[0].LastRetry)
	assert.Equal(t, 1, queued[0].RetryCount)
	assert.Empty(t, q.GetFailed())

	assert.False(t, q.Retry(ctx, "unknown"))
}

func TestDiscard(t *testing.T) {
	q := New(context.Background(), storage.NewMemory(), Options{MaxRetries: 1})
	ctx := context.Background()
	op := q.Enqueue(ctx, models.OperationCreate, models.ResourceTypeShow, "s1", nil)
	q.MarkFailed(ctx, op.ID, nil)

	assert.True(t, q.Discard(ctx, op.ID))
	assert.False(t, q.Discard(ctx, op.ID))
	_, ok := q.Get(op.ID)
	assert.False(t, ok)
}

func TestClear_ErasesStorage(t *testing.T) {
	mem := storage.NewMemory()
	now := int64(1)
	q := newQueue(t, mem, &now)
	ctx := context.Background()
	q.Enqueue(ctx, models.OperationCreate, models.ResourceTypeShow, "s1", nil)
	require.Contains(t, mem.Keys(), common.QueueStorageKey)

	var last Snapshot
	q.Subscribe(func(s Snapshot) { last = s })

	q.ClearQueue(ctx)
	assert.NotContains(t, mem.Keys(), common.QueueStorageKey)
	assert.Empty(t, last.Queued)
	assert.Equal(t, Stats{}, q.GetStats())
}

func TestGetStats(t *testing.T) {
	online := false
	q := New(context.Background(), nil, Options{MaxRetries: 1, Online: func() bool { return online }})
	ctx := context.Background()

	a := q.Enqueue(ctx, models.OperationCreate, models.ResourceTypeShow, "a", nil)
	q.Enqueue(ctx, models.OperationCreate, models.ResourceTypeShow, "b", nil)
	q.MarkFailed(ctx, a.ID, errRemote)

	online = true
	assert.Equal(t, Stats{IsOnline: true, QueuedCount: 1, FailedCount: 1}, q.GetStats())
}

func TestRestoreFromStorage(t *testing.T) {
	mem := storage.NewMemory()
	now := int64(1)
	ctx := context.Background()

	q := New(ctx, mem, Options{MaxRetries: 2, NewID: sequentialIDs()})
	q.Enqueue(ctx, models.OperationCreate, models.ResourceTypeShow, "a", json.RawMessage(`{"id":"a"}`))
	b := q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "b", nil)
	q.MarkFailed(ctx, b.ID, errRemote)
	q.MarkFailed(ctx, b.ID, errRemote)

	restored := newQueue(t, mem, &now)
	assert.Equal(t, q.GetQueued(), restored.GetQueued())
	assert.Equal(t, q.GetFailed(), restored.GetFailed())
}

func TestRestore_MalformedOrInvalidStartsEmpty(t *testing.T) {
	ctx := context.Background()
	now := int64(1)

	for name, raw := range map[string]string{
		"truncated":   `{"queued":[`,
		"wrong shape": `[1,2,3]`,
		"invalid ops": `{"queued":[{"id":"","type":"create","resourceId":"x"},{"id":"a","type":"upsert","resourceId":"x"}],"failed":null}`,
	} {
		t.Run(name, func(t *testing.T) {
			mem := storage.NewMemory()
			require.NoError(t, mem.Set(ctx, common.QueueStorageKey, []byte(raw)))

			q := newQueue(t, mem, &now)
			assert.Empty(t, q.GetQueued())
			assert.Empty(t, q.GetFailed())
		})
	}
}

type brokenStorage struct{}

func (brokenStorage) Get(context.Context, string) ([]byte, error) { return nil, errors.New("locked") }
func (brokenStorage) Set(context.Context, string, []byte) error    { return errors.New("locked") }
func (brokenStorage) Delete(context.Context, string) error         { return errors.New("locked") }

func TestStorageFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	q := New(ctx, brokenStorage{}, Options{})

	op := q.Enqueue(ctx, models.OperationCreate, models.ResourceTypeShow, "a", nil)
	assert.Len(t, q.GetQueued(), 1)
	q.MarkFailed(ctx, op.ID, errRemote)
	assert.True(t, q.MarkSynced(ctx, op.ID))
	q.Clear(ctx)
	assert.Equal(t, Stats{}, q.GetStats())
}

func TestSubscribe_ImmediateThenPerMutation(t *testing.T) {
	now := int64(1)
	q := newQueue(t, storage.NewMemory(), &now)
	ctx := context.Background()

	var snaps []Snapshot
	unsubscribe := q.Subscribe(func(s Snapshot) { snaps = append(snaps, s) })
	require.Len(t, snaps, 1)
	assert.NotNil(t, snaps[0].Queued)

	op := q.Enqueue(ctx, models.OperationCreate, models.ResourceTypeShow, "a", nil)
	q.MarkFailed(ctx, op.ID, errRemote)
	q.MarkSynced(ctx, op.ID)
	assert.Len(t, snaps, 4)

	unsubscribe()
	q.Enqueue(ctx, models.OperationCreate, models.ResourceTypeShow, "b", nil)
	assert.Len(t, snaps, 4)
}

func TestSnapshotGolden(t *testing.T) {
	mem := storage.NewMemory()
	now := int64(1_760_000_000_000)
	q := newQueue(t, mem, &now)
	ctx := context.Background()

	q.Enqueue(ctx, models.OperationCreate, models.ResourceTypeShow, "s1", json.RawMessage(`{"id":"s1","city":"Paris"}`))
	now = 1_760_000_001_000
	del := q.Enqueue(ctx, models.OperationDelete, models.ResourceTypeShow, "s2", nil)
	now = 1_760_000_002_000
	for range DefaultMaxRetries {
		q.MarkFailed(ctx, del.ID, errRemote)
	}

	raw, err := mem.Get(ctx, common.QueueStorageKey)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, json.Indent(&buf, raw, "", "  "))
	buf.WriteByte('\n')

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "queue_snapshot", buf.Bytes())
}

func TestMarkFailed_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("k failures below the limit keep the op active with retryCount k", prop.ForAll(
		func(maxRetries, k int) bool {
			q := New(context.Background(), nil, Options{MaxRetries: maxRetries})
			ctx := context.Background()
			op := q.Enqueue(ctx, models.OperationUpdate, models.ResourceTypeShow, "r", nil)

			for range k {
				q.MarkFailed(ctx, op.ID, errRemote)
			}

			got, _ := q.Get(op.ID)
			st := q.GetStats()
			if k >= maxRetries {
				return st.QueuedCount == 0 && st.FailedCount == 1 && got.Status == models.StatusFailed && got.RetryCount == maxRetries
			}
			return st.QueuedCount == 1 && st.FailedCount == 0 && got.RetryCount == k
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

func TestConcurrentOutcomes(t *testing.T) {
	q := New(context.Background(), storage.NewMemory(), Options{})
	ctx := context.Background()

	var ids []string
	for i := range 30 {
		ids = append(ids, q.Enqueue(ctx, models.OperationCreate, models.ResourceTypeShow, fmt.Sprint(i), nil).ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				q.MarkSynced(ctx, id)
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, Stats{}, q.GetStats())
}
