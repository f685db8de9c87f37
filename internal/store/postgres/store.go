package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"qms/branch-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notifyChannel = "document_changes"

type Store struct {
	pool           *pgxpool.Pool
	logger         *slog.Logger
	reconnectDelay time.Duration

	mu      sync.Mutex
	watches map[store.Collection]map[int]*watch
	nextID  int

	listenOnce sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

type watch struct {
	mu    sync.Mutex
	coll  store.Collection
	query store.Query
	sub   *store.Subscription
}

type Options struct {
	Logger         *slog.Logger
	ReconnectDelay time.Duration
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := options.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		pool:           pool,
		logger:         logger,
		reconnectDelay: delay,
		watches:        make(map[store.Collection]map[int]*watch),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// Close stops the notification listener. Open subscriptions stay open but
// receive no further snapshots.
func (s *Store) Close() {
	s.cancel()
	s.listenOnce.Do(func() { close(s.done) })
	<-s.done
}

func (s *Store) Insert(ctx context.Context, coll store.Collection, data any) (store.Document, error) {
	raw, err := store.Marshal(data)
	if err != nil {
		return store.Document{}, fmt.Errorf("encode document: %w", err)
	}
	doc := store.Document{ID: uuid.NewString(), Data: raw}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, string(coll), doc.ID, []byte(raw))
	if err := row.Scan(&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

func (s *Store) Set(ctx context.Context, coll store.Collection, id string, data any) error {
	raw, err := store.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = clock_timestamp()
	`, string(coll), id, []byte(raw))
	return err
}

func (s *Store) Update(ctx context.Context, coll store.Collection, id string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET data = data || $3::jsonb, updated_at = clock_timestamp()
		WHERE collection = $1 AND id = $2
	`, string(coll), id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, coll store.Collection, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, string(coll), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, coll store.Collection, id string) (store.Document, error) {
	var doc store.Document
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, data, created_at, updated_at
		FROM documents
		WHERE collection = $1 AND id = $2
	`, string(coll), id).Scan(&doc.ID, &raw, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{}, err
	}
	doc.Data = raw
	return doc, nil
}

func (s *Store) QueryOnce(ctx context.Context, coll store.Collection, q store.Query) ([]store.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	sqlText, args, err := buildQuery(coll, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []store.Document{}
	for rows.Next() {
		var doc store.Document
		var raw []byte
		if err := rows.Scan(&doc.ID, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Data = raw
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Subscribe registers a live query. The first snapshot is delivered before
// Subscribe returns; later snapshots follow change notifications.
func (s *Store) Subscribe(ctx context.Context, coll store.Collection, q store.Query) (*store.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if _, _, err := buildQuery(coll, q); err != nil {
		return nil, err
	}
	if s.ctx.Err() != nil {
		return nil, store.ErrClosed
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	w := &watch{coll: coll, query: q}
	w.sub = store.NewSubscription(func() {
		s.mu.Lock()
		delete(s.watches[coll], id)
		s.mu.Unlock()
	})
	if s.watches[coll] == nil {
		s.watches[coll] = make(map[int]*watch)
	}
	s.watches[coll][id] = w
	s.mu.Unlock()

	if err := s.refreshWatch(ctx, w); err != nil {
		_ = w.sub.Close()
		return nil, err
	}
	context.AfterFunc(ctx, func() { _ = w.sub.Close() })

	s.listenOnce.Do(func() {
		go s.listen()
	})
	return w.sub, nil
}

// refreshWatch runs the query under the watch lock so snapshots are
// delivered in query order.
func (s *Store) refreshWatch(ctx context.Context, w *watch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	docs, err := s.QueryOnce(ctx, w.coll, w.query)
	if err != nil {
		return err
	}
	w.sub.Deliver(docs)
	return nil
}

func (s *Store) refresh(coll store.Collection) {
	s.mu.Lock()
	watches := make([]*watch, 0, len(s.watches[coll]))
	for _, w := range s.watches[coll] {
		watches = append(watches, w)
	}
	s.mu.Unlock()

	for _, w := range watches {
		if err := s.refreshWatch(s.ctx, w); err != nil && s.ctx.Err() == nil {
			s.logger.Warn("subscription refresh failed", "collection", coll, "error", err)
		}
	}
}

func (s *Store) refreshAll() {
	s.mu.Lock()
	colls := make([]store.Collection, 0, len(s.watches))
	for coll := range s.watches {
		colls = append(colls, coll)
	}
	s.mu.Unlock()
	for _, coll := range colls {
		s.refresh(coll)
	}
}

func (s *Store) listen() {
	defer close(s.done)
	for {
		err := s.listenConn()
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn("document listener disconnected", "error", err, "retry_in", s.reconnectDelay)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Store) listenConn() error {
	conn, err := s.pool.Acquire(s.ctx)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(s.ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	// Changes made while disconnected are only visible through a full refresh.
	s.refreshAll()

	for {
		notification, err := conn.Conn().WaitForNotification(s.ctx)
		if err != nil {
			return err
		}
		s.refresh(store.Collection(notification.Payload))
	}
}

var sqlOps = map[store.Op]string{
	store.OpEq:  "=",
	store.OpNe:  "<>",
	store.OpLt:  "<",
	store.OpLte: "<=",
	store.OpGt:  ">",
	store.OpGte: ">=",
}

func buildQuery(coll store.Collection, q store.Query) (string, []any, error) {
	args := []any{string(coll)}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var b strings.Builder
	b.WriteString("SELECT id, data, created_at, updated_at FROM documents WHERE collection = $1")
	for _, f := range q.Filters {
		op := sqlOps[f.Op]
		switch f.Field {
		case store.FieldID:
			fmt.Fprintf(&b, " AND id %s %s", op, next(fmt.Sprint(f.Value)))
		case store.FieldCreatedAt:
			fmt.Fprintf(&b, " AND created_at %s %s", op, next(f.Value))
		default:
			key := next(f.Field)
			switch v := f.Value.(type) {
			case string:
				fmt.Fprintf(&b, ` AND (data->>(%s::text)) COLLATE "C" %s %s`, key, op, next(v))
			case bool:
				fmt.Fprintf(&b, " AND (data->>(%s::text))::boolean %s %s", key, op, next(v))
			case time.Time:
				fmt.Fprintf(&b, " AND (data->>(%s::text))::timestamptz %s %s", key, op, next(v))
			case int, int32, int64, float32, float64:
				fmt.Fprintf(&b, " AND (data->>(%s::text))::numeric %s %s", key, op, next(v))
			default:
				return "", nil, fmt.Errorf("%w: unsupported value %T for %s", store.ErrInvalidQuery, f.Value, f.Field)
			}
		}
	}

	orders := make([]string, 0, len(q.OrderBy)+2)
	for _, o := range q.OrderBy {
		dir := "ASC NULLS FIRST"
		if o.Desc {
			dir = "DESC NULLS LAST"
		}
		switch o.Field {
		case store.FieldID:
			orders = append(orders, "id "+dir)
		case store.FieldCreatedAt:
			orders = append(orders, "created_at "+dir)
		default:
			orders = append(orders, fmt.Sprintf(`(data->>(%s::text)) COLLATE "C" %s`, next(o.Field), dir))
		}
	}
	orders = append(orders, "created_at ASC", "id ASC")
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(orders, ", "))

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args, nil
}

// Migrate applies every *.sql file of migrations in lexical order. The
// statements are written to be re-runnable.
func Migrate(ctx context.Context, pool *pgxpool.Pool, migrations fs.FS) error {
	files, err := fs.Glob(migrations, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := fs.ReadFile(migrations, file)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("migration %s: %w", file, err)
		}
	}
	return nil
}
