package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/markdave123-py/regkb/internal/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps entries in a process-local map
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]models.RateLimitEntry
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.RateLimitEntry)}
}

func (m *MemoryStore) HitRateLimit(_ context.Context, clientID string, now time.Time, p models.RateLimitPolicy) (models.RateLimitEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[clientID]
	e = Advance(e, ok, clientID, now, p)
	m.entries[clientID] = e
	return e, nil
}

// Advance applies one request to e. ok reports whether e was stored before.
//
// An active block is left untouched. An expired window or an elapsed block starts a
// new window at now. A client already at MaxRequests is blocked for BlockDuration;
// otherwise the count grows by one.
func Advance(e models.RateLimitEntry, ok bool, clientID string, now time.Time, p models.RateLimitPolicy) models.RateLimitEntry {
	if ok && now.Before(e.BlockedUntil) {
		return e
	}
	expired := !ok ||
		!now.Before(e.WindowStart.Add(p.Window)) ||
		!e.BlockedUntil.IsZero()
	if expired {
		e = models.RateLimitEntry{ClientID: clientID, WindowStart: now}
	}
	if e.Count >= p.MaxRequests {
		e.BlockedUntil = now.Add(p.BlockDuration)
		return e
	}
	e.Count++
	return e
}
