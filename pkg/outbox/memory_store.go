package outbox

import (
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used when the service runs without a
// database, and in tests.
type MemoryStore struct {
	events map[string]*Event
	order  []string
	mu     sync.Mutex
}

// NewMemoryStore creates a new instance of MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*Event)}
}

// Append stores a new pending event.
func (s *MemoryStore) Append(evt *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *evt
	s.events[evt.ID] = &copied
	s.order = append(s.order, evt.ID)
	return nil
}

// PendingBatch returns up to limit pending events in append order.
func (s *MemoryStore) PendingBatch(limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make([]Event, 0, limit)
	for _, id := range s.order {
		evt := s.events[id]
		if evt.Status != StatusPending {
			continue
		}
		batch = append(batch, *evt)
		if len(batch) == limit {
			break
		}
	}
	return batch, nil
}

// MarkSent flags the given events as delivered.
func (s *MemoryStore) MarkSent(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		evt, ok := s.events[id]
		if !ok {
			return fmt.Errorf("outbox event %s not found", id)
		}
		evt.Status = StatusSent
		evt.SentAt = &now
	}
	return nil
}

// MarkFailed records a delivery failure, parking the event once its retry
// budget is exhausted.
func (s *MemoryStore) MarkFailed(id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[id]
	if !ok {
		return fmt.Errorf("outbox event %s not found", id)
	}
	evt.RetryCount++
	evt.LastError = errMsg
	if evt.RetryCount >= maxAttempts {
		evt.Status = StatusFailed
	}
	return nil
}
