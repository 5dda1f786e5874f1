package history

import (
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a call's conversation.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// Store keeps a bounded FIFO turn history per call. Appending past the
// cap evicts the oldest turn. Snapshots are copies: callers may hold
// them across concurrent appends without observing mutation, and no
// storage is shared between calls.
type Store struct {
	maxTurns int
	mu       sync.Mutex
	turns    map[string][]Turn
}

func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &Store{
		maxTurns: maxTurns,
		turns:    map[string][]Turn{},
	}
}

func (s *Store) Append(callID string, t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.turns[callID], t)
	if len(list) > s.maxTurns {
		list = list[len(list)-s.maxTurns:]
	}
	// Re-slice into fresh backing storage so evicted prefixes do not pin
	// the old array and snapshots never alias live appends.
	owned := make([]Turn, len(list))
	copy(owned, list)
	s.turns[callID] = owned
}

// Snapshot returns a point-in-time copy of the call's history, oldest first.
func (s *Store) Snapshot(callID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.turns[callID]
	out := make([]Turn, len(list))
	copy(out, list)
	return out
}

// Len reports the current number of stored turns for a call.
func (s *Store) Len(callID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns[callID])
}

// Drop removes a call's history entirely.
func (s *Store) Drop(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, callID)
}
