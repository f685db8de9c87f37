package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"
	"qms/branch-queue/internal/store/memory"

	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestStore() *memory.Store {
	return memory.New(memory.WithClock(newStepClock().Now))
}

func seedTicket(t *testing.T, st store.DocStore, counter, number, status string) models.Ticket {
	t.Helper()
	ticket := models.Ticket{Counter: counter, TicketNumber: number, Status: status}
	doc, err := st.Insert(context.Background(), store.Tickets, ticket.Record())
	require.NoError(t, err)
	ticket.TicketID = doc.ID
	ticket.CreatedAt = doc.CreatedAt
	return ticket
}

func loadTicket(t *testing.T, st store.DocStore, id string) models.Ticket {
	t.Helper()
	doc, err := st.Get(context.Background(), store.Tickets, id)
	require.NoError(t, err)
	ticket, err := models.DecodeTicket(doc)
	require.NoError(t, err)
	return ticket
}

type recordingNotifier struct {
	mu     sync.Mutex
	recall []models.ServingProjection
}

func (n *recordingNotifier) Recalled(_ context.Context, projection models.ServingProjection) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recall = append(n.recall, projection)
}

var errConnReset = errors.New("connection reset")

// failingStore fails the next write matching a collection and, for
// updates, a status value.
type failingStore struct {
	store.DocStore
	mu         sync.Mutex
	failSet    store.Collection
	failUpdate string
}

func (s *failingStore) Set(ctx context.Context, coll store.Collection, id string, data any) error {
	s.mu.Lock()
	fail := s.failSet != "" && s.failSet == coll
	if fail {
		s.failSet = ""
	}
	s.mu.Unlock()
	if fail {
		return errConnReset
	}
	return s.DocStore.Set(ctx, coll, id, data)
}

func (s *failingStore) Update(ctx context.Context, coll store.Collection, id string, fields map[string]any) error {
	s.mu.Lock()
	fail := s.failUpdate != "" && fields[models.FieldStatus] == s.failUpdate
	if fail {
		s.failUpdate = ""
	}
	s.mu.Unlock()
	if fail {
		return errConnReset
	}
	return s.DocStore.Update(ctx, coll, id, fields)
}
