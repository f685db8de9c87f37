package store

import "sync"

// Subscription delivers full result-set snapshots of a live query. Only the
// most recent undelivered snapshot is kept, so a slow reader skips
// intermediate states but always converges on the latest one.
type Subscription struct {
	mu      sync.Mutex
	ch      chan []Document
	closed  bool
	once    sync.Once
	release func()
}

func NewSubscription(release func()) *Subscription {
	return &Subscription{
		ch:      make(chan []Document, 1),
		release: release,
	}
}

// Snapshots is closed once the subscription is closed.
func (s *Subscription) Snapshots() <-chan []Document {
	return s.ch
}

func (s *Subscription) Deliver(docs []Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- docs
}

func (s *Subscription) Close() error {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}
