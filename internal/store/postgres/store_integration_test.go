package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"qms/branch-queue/internal/store"
	"qms/branch-queue/migrations"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	doc, err := st.Insert(ctx, store.Tickets, map[string]any{"counter": "A", "number": "A001", "status": "waiting"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if doc.ID == "" || doc.CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at, got %+v", doc)
	}

	if err := st.Update(ctx, store.Tickets, doc.ID, map[string]any{"status": "called"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := st.Get(ctx, store.Tickets, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(string(got.Data), `"called"`) || !strings.Contains(string(got.Data), `"A001"`) {
		t.Fatalf("expected merged data, got %s", got.Data)
	}

	if err := st.Delete(ctx, store.Tickets, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.Delete(ctx, store.Tickets, doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := st.Update(ctx, store.Tickets, doc.ID, map[string]any{"status": "finished"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestQueryOnceFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	var docs []store.Document
	for _, seed := range []struct{ counter, number, status string }{
		{"A", "A001", "waiting"},
		{"B", "B001", "waiting"},
		{"A", "A002", "called"},
		{"A", "A003", "waiting"},
	} {
		doc, err := st.Insert(ctx, store.Tickets, map[string]any{"counter": seed.counter, "number": seed.number, "status": seed.status})
		if err != nil {
			t.Fatalf("insert %s: %v", seed.number, err)
		}
		docs = append(docs, doc)
	}

	waiting, err := st.QueryOnce(ctx, store.Tickets, store.Query{
		Filters: []store.Filter{
			store.Where("counter", store.OpEq, "A"),
			store.Where("status", store.OpEq, "waiting"),
		},
		OrderBy: []store.Order{{Field: store.FieldCreatedAt}},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(waiting) != 2 || waiting[0].ID != docs[0].ID || waiting[1].ID != docs[3].ID {
		t.Fatalf("unexpected waiting result: %+v", waiting)
	}

	earlier, err := st.QueryOnce(ctx, store.Tickets, store.Query{
		Filters: []store.Filter{
			store.Where("counter", store.OpEq, "A"),
			store.Where(store.FieldCreatedAt, store.OpLt, docs[3].CreatedAt),
		},
		OrderBy: []store.Order{{Field: store.FieldCreatedAt, Desc: true}},
		Limit:   1,
	})
	if err != nil {
		t.Fatalf("query earlier: %v", err)
	}
	if len(earlier) != 1 || earlier[0].ID != docs[2].ID {
		t.Fatalf("expected A002 as latest earlier ticket, got %+v", earlier)
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub, err := st.Subscribe(subCtx, store.ServingProjections, store.Query{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	first := <-sub.Snapshots()
	if len(first) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d", len(first))
	}

	if err := st.Set(ctx, store.ServingProjections, "now_serving", map[string]any{"number": "A001"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snapshot := <-sub.Snapshots():
			if len(snapshot) == 1 && snapshot[0].ID == "now_serving" {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for projection snapshot")
		}
	}
}

func TestSequencerConcurrency(t *testing.T) {
	ctx := context.Background()
	_, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	seq := NewSequencer(pool)
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[int64]bool{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := seq.Next(ctx, "A")
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 10 {
		t.Fatalf("expected 10 distinct numbers, got %d", len(seen))
	}
	for i := int64(1); i <= 10; i++ {
		if !seen[i] {
			t.Fatalf("missing number %d", i)
		}
	}

	if err := seq.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	n, err := seq.Next(ctx, "A")
	if err != nil {
		t.Fatalf("next after reset: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 after reset, got %d", n)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := Migrate(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool, Options{ReconnectDelay: 100 * time.Millisecond})
	cleanup := func() {
		st.Close()
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}
