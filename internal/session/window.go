// Package session tracks the chat channel's customer-service window: free-form
// messages are allowed for 24 hours after the client last wrote to us, after
// that only pre-approved templates may be sent.
package session

import (
	"context"
	"sync"
	"time"
)

// Window is the length of the session window after an inbound message.
const Window = 24 * time.Hour

// IsInWindow reports whether now falls within Window of lastInboundAt.
func IsInWindow(lastInboundAt *time.Time, now time.Time) bool {
	if lastInboundAt == nil {
		return false
	}
	return now.Sub(*lastInboundAt) < Window
}

// Store persists the last inbound timestamp per client. Writes are
// last-write-wins.
type Store interface {
	SetLastInbound(ctx context.Context, clientID string, at time.Time) error
	GetLastInbound(ctx context.Context, clientID string) (*time.Time, error)
}

type Tracker struct {
	store Store
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// RecordInbound notes that the client wrote to us at now.
func (t *Tracker) RecordInbound(ctx context.Context, clientID string, now time.Time) error {
	return t.store.SetLastInbound(ctx, clientID, now)
}

func (t *Tracker) LastInbound(ctx context.Context, clientID string) (*time.Time, error) {
	return t.store.GetLastInbound(ctx, clientID)
}

// InWindow combines LastInbound and IsInWindow.
func (t *Tracker) InWindow(ctx context.Context, clientID string, now time.Time) (bool, error) {
	last, err := t.store.GetLastInbound(ctx, clientID)
	if err != nil {
		return false, err
	}
	return IsInWindow(last, now), nil
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{last: make(map[string]time.Time)}
}

func (m *MemoryStore) SetLastInbound(_ context.Context, clientID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[clientID] = at
	return nil
}

func (m *MemoryStore) GetLastInbound(_ context.Context, clientID string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.last[clientID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}
