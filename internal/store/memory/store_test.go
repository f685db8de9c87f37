package memory

import (
	"context"
	"testing"
	"time"

	"qms/branch-queue/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestInsertStampsIncreasingCreatedAt(t *testing.T) {
	st := New(WithClock(fixedClock()))
	ctx := context.Background()

	first, err := st.Insert(ctx, store.Tickets, map[string]any{"number": "A001"})
	require.NoError(t, err)
	second, err := st.Insert(ctx, store.Tickets, map[string]any{"number": "A002"})
	require.NoError(t, err)

	assert.True(t, second.CreatedAt.After(first.CreatedAt))
	assert.NotEqual(t, first.ID, second.ID)
}

func TestUpdateAndDeleteMissing(t *testing.T) {
	st := New()
	ctx := context.Background()

	err := st.Update(ctx, store.Tickets, "missing", map[string]any{"status": "called"})
	require.ErrorIs(t, err, store.ErrNotFound)
	err = st.Delete(ctx, store.Tickets, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Get(ctx, store.Tickets, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateMergesFields(t *testing.T) {
	st := New()
	ctx := context.Background()
	doc, err := st.Insert(ctx, store.Tickets, map[string]any{"number": "A001", "status": "waiting"})
	require.NoError(t, err)

	require.NoError(t, st.Update(ctx, store.Tickets, doc.ID, map[string]any{"status": "called"}))
	got, err := st.Get(ctx, store.Tickets, doc.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"number":"A001","status":"called"}`, string(got.Data))
	assert.Equal(t, doc.CreatedAt, got.CreatedAt)
}

func TestSetReplacesDocument(t *testing.T) {
	st := New()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, store.ServingProjections, "now_serving", map[string]any{"number": "A001", "extra": true}))
	require.NoError(t, st.Set(ctx, store.ServingProjections, "now_serving", map[string]any{"number": "A002"}))

	got, err := st.Get(ctx, store.ServingProjections, "now_serving")
	require.NoError(t, err)
	assert.JSONEq(t, `{"number":"A002"}`, string(got.Data))
}

func TestQueryOnceFilterOrderLimit(t *testing.T) {
	st := New(WithClock(fixedClock()))
	ctx := context.Background()
	var docs []store.Document
	for _, seed := range []map[string]any{
		{"counter": "A", "number": "A001", "status": "waiting"},
		{"counter": "B", "number": "B001", "status": "waiting"},
		{"counter": "A", "number": "A002", "status": "called"},
		{"counter": "A", "number": "A003", "status": "waiting"},
	} {
		doc, err := st.Insert(ctx, store.Tickets, seed)
		require.NoError(t, err)
		docs = append(docs, doc)
	}

	got, err := st.QueryOnce(ctx, store.Tickets, store.Query{
		Filters: []store.Filter{
			store.Where("counter", store.OpEq, "A"),
			store.Where("status", store.OpEq, "waiting"),
		},
		OrderBy: []store.Order{{Field: store.FieldCreatedAt}},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, docs[0].ID, got[0].ID)
	assert.Equal(t, docs[3].ID, got[1].ID)

	latest, err := st.QueryOnce(ctx, store.Tickets, store.Query{
		Filters: []store.Filter{store.Where("counter", store.OpEq, "A")},
		OrderBy: []store.Order{{Field: store.FieldCreatedAt, Desc: true}},
		Limit:   1,
	})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, docs[3].ID, latest[0].ID)

	earlier, err := st.QueryOnce(ctx, store.Tickets, store.Query{
		Filters: []store.Filter{store.Where(store.FieldCreatedAt, store.OpLt, docs[2].CreatedAt)},
	})
	require.NoError(t, err)
	assert.Len(t, earlier, 2)

	byNumber, err := st.QueryOnce(ctx, store.Tickets, store.Query{
		OrderBy: []store.Order{{Field: "number", Desc: true}},
	})
	require.NoError(t, err)
	require.Len(t, byNumber, 4)
	assert.Equal(t, docs[1].ID, byNumber[0].ID)
}

func TestQueryRejectsInvalidFilter(t *testing.T) {
	st := New()
	_, err := st.QueryOnce(context.Background(), store.Tickets, store.Query{
		Filters: []store.Filter{store.Where(store.FieldCreatedAt, store.OpLt, "yesterday")},
	})
	require.ErrorIs(t, err, store.ErrInvalidQuery)
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	st := New()
	ctx := context.Background()

	sub, err := st.Subscribe(ctx, store.ServingProjections, store.Query{})
	require.NoError(t, err)
	defer sub.Close()

	initial := <-sub.Snapshots()
	assert.Empty(t, initial)

	require.NoError(t, st.Set(ctx, store.ServingProjections, "admin_vip", map[string]any{"number": "B001"}))
	snapshot := <-sub.Snapshots()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "admin_vip", snapshot[0].ID)

	_, err = st.Insert(ctx, store.Tickets, map[string]any{"number": "A001"})
	require.NoError(t, err)
	select {
	case <-sub.Snapshots():
		t.Fatalf("unexpected snapshot for unrelated collection")
	default:
	}
}

func TestSubscribeKeepsOnlyLatestSnapshot(t *testing.T) {
	st := New()
	ctx := context.Background()
	sub, err := st.Subscribe(ctx, store.ServingProjections, store.Query{})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, st.Set(ctx, store.ServingProjections, "a", map[string]any{"number": "A001"}))
	require.NoError(t, st.Set(ctx, store.ServingProjections, "b", map[string]any{"number": "B001"}))

	snapshot := <-sub.Snapshots()
	assert.Len(t, snapshot, 2)
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	st := New()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := st.Subscribe(ctx, store.Settings, store.Query{})
	require.NoError(t, err)
	<-sub.Snapshots()

	cancel()
	select {
	case _, ok := <-sub.Snapshots():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatalf("subscription not closed after cancel")
	}

	require.NoError(t, st.Set(context.Background(), store.Settings, "main", map[string]any{"outlet_name": "x"}))
	st.mu.Lock()
	assert.Empty(t, st.watches[store.Settings])
	st.mu.Unlock()
}
