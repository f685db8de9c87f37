package auth

import (
	"sync"
	"time"

	"qms/branch-queue/internal/queue"

	"github.com/google/uuid"
)

// Session ties a bearer token to one operator and the call workflow that
// operator drives. Workflows live only as long as their session.
type Session struct {
	ID        string
	Operator  Operator
	Workflow  *queue.Workflow
	ExpiresAt time.Time
}

type WorkflowFactory func(operatorName string) (*queue.Workflow, error)

type SessionManager struct {
	ttl         time.Duration
	now         func() time.Time
	newWorkflow WorkflowFactory

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionManager(ttl time.Duration, newWorkflow WorkflowFactory) *SessionManager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionManager{
		ttl:         ttl,
		now:         time.Now,
		newWorkflow: newWorkflow,
		sessions:    make(map[string]*Session),
	}
}

func (m *SessionManager) Create(op Operator) (*Session, error) {
	workflow, err := m.newWorkflow(op.Name)
	if err != nil {
		return nil, err
	}
	session := &Session{
		ID:        uuid.NewString(),
		Operator:  op,
		Workflow:  workflow,
		ExpiresAt: m.now().Add(m.ttl),
	}
	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()
	return session, nil
}

// Get returns a live session and slides its expiry.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := m.now()
	if !now.Before(session.ExpiresAt) {
		delete(m.sessions, id)
		return nil, ErrSessionNotFound
	}
	session.ExpiresAt = now.Add(m.ttl)
	return session, nil
}

func (m *SessionManager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// Sweep drops expired sessions and reports how many were removed.
func (m *SessionManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, session := range m.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
