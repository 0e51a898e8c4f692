package store

import (
	"sync"
	"time"

	"github.com/i474232898/solar-resource-analyzer/internal/metrics"
	"github.com/i474232898/solar-resource-analyzer/internal/solar"
)

// MemoryStore is a concurrency-safe in-memory session store. Sessions are
// ephemeral: nothing survives a restart.
type MemoryStore struct {
	mu sync.RWMutex

	// key: session ID
	data map[string]solar.Session

	// retention configuration
	maxSessions int           // max number of sessions held at once
	maxAge      time.Duration // idle time after which a session expires

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxSessions or maxAge is <= 0, that limit is treated as unlimited.
func NewMemoryStore(maxSessions int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:        make(map[string]solar.Session),
		maxSessions: maxSessions,
		maxAge:      maxAge,
		now:         time.Now,
	}
}

// Save inserts or replaces a session and enforces the size limit by
// evicting the least recently updated sessions.
func (s *MemoryStore) Save(sess solar.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[sess.ID] = sess

	for s.maxSessions > 0 && len(s.data) > s.maxSessions {
		var (
			oldestID string
			oldest   time.Time
		)
		for id, v := range s.data {
			if id == sess.ID {
				continue
			}
			if oldestID == "" || v.UpdatedAt.Before(oldest) {
				oldestID, oldest = id, v.UpdatedAt
			}
		}
		if oldestID == "" {
			break
		}
		delete(s.data, oldestID)
	}
	metrics.SessionsActive.Set(float64(len(s.data)))
}

// Get returns the session with the given ID. Expired sessions are reported
// as missing even before the sweeper removes them.
func (s *MemoryStore) Get(id string) (solar.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.data[id]
	if !ok || s.expired(sess) {
		return solar.Session{}, solar.ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes a session if present.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	metrics.SessionsActive.Set(float64(len(s.data)))
}

// Sweep removes expired sessions and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.data {
		if s.expired(sess) {
			delete(s.data, id)
			removed++
		}
	}
	metrics.SessionsActive.Set(float64(len(s.data)))
	metrics.SessionsExpiredTotal.Add(float64(removed))
	return removed
}

// Len returns the number of sessions held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemoryStore) expired(sess solar.Session) bool {
	if s.maxAge <= 0 {
		return false
	}
	return s.now().Sub(sess.UpdatedAt) > s.maxAge
}
