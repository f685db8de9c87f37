package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"qms/branch-queue/internal/store"

	"github.com/google/uuid"
)

// Store is an in-process implementation of store.DocStore. Every write
// re-evaluates the live queries registered on the written collection.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	newID   func() string
	last    time.Time
	docs    map[store.Collection]map[string]store.Document
	watches map[store.Collection]map[int]*watch
	nextID  int
}

type watch struct {
	query store.Query
	sub   *store.Subscription
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		newID:   uuid.NewString,
		docs:    make(map[store.Collection]map[string]store.Document),
		watches: make(map[store.Collection]map[int]*watch),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// stamp returns a strictly increasing timestamp so creation order is total.
func (s *Store) stamp() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *Store) Insert(ctx context.Context, coll store.Collection, data any) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	raw, err := store.Marshal(data)
	if err != nil {
		return store.Document{}, fmt.Errorf("encode document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.stamp()
	doc := store.Document{ID: s.newID(), Data: raw, CreatedAt: now, UpdatedAt: now}
	s.collection(coll)[doc.ID] = doc
	s.notifyLocked(coll)
	return doc, nil
}

func (s *Store) Set(ctx context.Context, coll store.Collection, id string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := store.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collection(coll)
	now := s.stamp()
	doc, ok := docs[id]
	if !ok {
		doc = store.Document{ID: id, CreatedAt: now}
	}
	doc.Data = raw
	doc.UpdatedAt = now
	docs[id] = doc
	s.notifyLocked(coll)
	return nil
}

func (s *Store) Update(ctx context.Context, coll store.Collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collection(coll)
	doc, ok := docs[id]
	if !ok {
		return store.ErrNotFound
	}
	merged := map[string]any{}
	if len(doc.Data) > 0 {
		if err := json.Unmarshal(doc.Data, &merged); err != nil {
			return fmt.Errorf("decode document %s: %w", id, err)
		}
	}
	for key, value := range fields {
		merged[key] = value
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	doc.Data = raw
	doc.UpdatedAt = s.stamp()
	docs[id] = doc
	s.notifyLocked(coll)
	return nil
}

func (s *Store) Delete(ctx context.Context, coll store.Collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collection(coll)
	if _, ok := docs[id]; !ok {
		return store.ErrNotFound
	}
	delete(docs, id)
	s.notifyLocked(coll)
	return nil
}

func (s *Store) Get(ctx context.Context, coll store.Collection, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collection(coll)[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (s *Store) QueryOnce(ctx context.Context, coll store.Collection, q store.Query) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return evaluate(s.collection(coll), q)
}

func (s *Store) Subscribe(ctx context.Context, coll store.Collection, q store.Query) (*store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := evaluate(s.collection(coll), q)
	if err != nil {
		return nil, err
	}

	id := s.nextID
	s.nextID++
	sub := store.NewSubscription(func() {
		s.mu.Lock()
		delete(s.watches[coll], id)
		s.mu.Unlock()
	})
	if s.watches[coll] == nil {
		s.watches[coll] = make(map[int]*watch)
	}
	s.watches[coll][id] = &watch{query: q, sub: sub}
	sub.Deliver(snapshot)
	context.AfterFunc(ctx, func() { _ = sub.Close() })
	return sub, nil
}

func (s *Store) collection(coll store.Collection) map[string]store.Document {
	docs, ok := s.docs[coll]
	if !ok {
		docs = make(map[string]store.Document)
		s.docs[coll] = docs
	}
	return docs
}

func (s *Store) notifyLocked(coll store.Collection) {
	docs := s.collection(coll)
	for _, w := range s.watches[coll] {
		snapshot, err := evaluate(docs, w.query)
		if err != nil {
			continue
		}
		w.sub.Deliver(snapshot)
	}
}

type row struct {
	doc    store.Document
	fields map[string]any
}

func (r row) value(field string) any {
	switch field {
	case store.FieldID:
		return r.doc.ID
	case store.FieldCreatedAt:
		return r.doc.CreatedAt
	default:
		return r.fields[field]
	}
}

func evaluate(docs map[string]store.Document, q store.Query) ([]store.Document, error) {
	rows := make([]row, 0, len(docs))
	for _, doc := range docs {
		fields := map[string]any{}
		if len(doc.Data) > 0 {
			if err := json.Unmarshal(doc.Data, &fields); err != nil {
				return nil, fmt.Errorf("decode document %s: %w", doc.ID, err)
			}
		}
		r := row{doc: doc, fields: fields}
		if matches(r, q.Filters) {
			rows = append(rows, r)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range q.OrderBy {
			c := compareForOrder(rows[i].value(o.Field), rows[j].value(o.Field))
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		if c := rows[i].doc.CreatedAt.Compare(rows[j].doc.CreatedAt); c != 0 {
			return c < 0
		}
		return rows[i].doc.ID < rows[j].doc.ID
	})

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]store.Document, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out, nil
}

func matches(r row, filters []store.Filter) bool {
	for _, f := range filters {
		actual := r.value(f.Field)
		if actual == nil {
			return false
		}
		c, ok := compare(actual, f.Value)
		if !ok {
			return false
		}
		var pass bool
		switch f.Op {
		case store.OpEq:
			pass = c == 0
		case store.OpNe:
			pass = c != 0
		case store.OpLt:
			pass = c < 0
		case store.OpLte:
			pass = c <= 0
		case store.OpGt:
			pass = c > 0
		case store.OpGte:
			pass = c >= 0
		}
		if !pass {
			return false
		}
	}
	return true
}

// compareForOrder places missing and incomparable values first.
func compareForOrder(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	c, ok := compare(a, b)
	if !ok {
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
	return c
}

func compare(a, b any) (int, bool) {
	if at, ok := asTime(a); ok {
		if bt, ok := asTime(b); ok {
			return at.Compare(bt), true
		}
	}
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return cmp.Compare(an, bn), true
		}
		return 0, false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

// RFC3339 strings compare chronologically against each other and against
// time.Time values.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
