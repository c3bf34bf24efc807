package session

import (
	"sync"
	"time"

	"github.com/harun/vprtutor/internal/observability"
	"github.com/rs/zerolog/log"
)

// Options configures a MemoryStore
type Options struct {
	// MaxTurns caps stored history per session. Zero or negative keeps everything.
	MaxTurns int

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

type entry struct {
	mu         sync.Mutex
	turns      []Turn
	lastActive time.Time
}

// MemoryStore is a Store backed by process memory. Nothing survives a restart.
type MemoryStore struct {
	maxTurns int
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts Options) *MemoryStore {
	observability.EnsureRegistered()

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &MemoryStore{
		maxTurns: opts.MaxTurns,
		now:      now,
		entries:  make(map[string]*entry),
	}
}

// getEntry returns the entry for a session, creating it when create is set
func (s *MemoryStore) getEntry(sessionID string, create bool) *entry {
	s.mu.RLock()
	e, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if ok || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[sessionID]; ok {
		return e
	}
	e = &entry{lastActive: s.now()}
	s.entries[sessionID] = e
	observability.SetActiveSessions(len(s.entries))

	log.Debug().Str("session_key", sessionID).Msg("Session created")
	return e
}

// Reset clears a session's history. The session is created if absent.
func (s *MemoryStore) Reset(sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	e := s.getEntry(sessionID, true)
	e.mu.Lock()
	e.turns = nil
	e.lastActive = s.now()
	e.mu.Unlock()

	return nil
}

// Append adds a turn to the end of a session's history
func (s *MemoryStore) Append(sessionID string, role Role, content string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if err := validateTurn(role, content); err != nil {
		return err
	}

	e := s.getEntry(sessionID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	e.turns = append(e.turns, Turn{Role: role, Content: content, Timestamp: now})
	e.lastActive = now

	if s.maxTurns > 0 && len(e.turns) > s.maxTurns {
		dropped := len(e.turns) - s.maxTurns
		// Copy so the dropped prefix can be collected.
		kept := make([]Turn, s.maxTurns)
		copy(kept, e.turns[dropped:])
		e.turns = kept

		log.Debug().
			Str("session_key", sessionID).
			Int("dropped", dropped).
			Msg("Session history trimmed")
	}

	return nil
}

// RecentWindow returns a copy of the last n turns of a session
func (s *MemoryStore) RecentWindow(sessionID string, n int) ([]Turn, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []Turn{}, nil
	}

	e := s.getEntry(sessionID, false)
	if e == nil {
		return []Turn{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := len(e.turns) - n
	if start < 0 {
		start = 0
	}
	window := make([]Turn, len(e.turns)-start)
	copy(window, e.turns[start:])
	return window, nil
}

// Len returns the number of stored turns
func (s *MemoryStore) Len(sessionID string) (int, error) {
	if err := validateSessionID(sessionID); err != nil {
		return 0, err
	}

	e := s.getEntry(sessionID, false)
	if e == nil {
		return 0, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.turns), nil
}

// Delete removes a session
func (s *MemoryStore) Delete(sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.entries, sessionID)
	count := len(s.entries)
	s.mu.Unlock()

	observability.SetActiveSessions(count)
	return nil
}

// Count returns the number of sessions held in memory
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// EvictIdle removes sessions whose last activity is older than maxIdle.
// It returns the number of evicted sessions.
func (s *MemoryStore) EvictIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}

	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, e := range s.entries {
		e.mu.Lock()
		idle := e.lastActive.Before(cutoff)
		e.mu.Unlock()

		if idle {
			delete(s.entries, id)
			evicted++
		}
	}

	if evicted > 0 {
		observability.SetActiveSessions(len(s.entries))
		observability.RecordSessionEvictions(evicted)
	}
	return evicted
}
