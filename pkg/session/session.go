package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zenvox/switchboard/pkg/audio"
	"github.com/zenvox/switchboard/pkg/transcript"
)

var (
	ErrDuplicateSession = errors.New("duplicate session")
	ErrNotFound         = errors.New("session not found")
)

// State is the per-call lifecycle position.
type State string

const (
	StateOpening      State = "opening"
	StateListening    State = "listening"
	StateThinking     State = "thinking"
	StateSpeaking     State = "speaking"
	StateTransferring State = "transferring"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
)

// CloseReason explains why a session ended.
type CloseReason string

const (
	CloseHangup      CloseReason = "hangup"
	CloseIdleTimeout CloseReason = "idle_timeout"
	CloseTransfer    CloseReason = "transfer"
	CloseShutdown    CloseReason = "shutdown"
	CloseSessionLost CloseReason = "session_lost"
)

// Session is the live state of one call. It is owned exclusively by the
// Manager; other components only ever hold the handle the Manager gave
// them, and the handle goes dead when the session closes.
type Session struct {
	ID        string
	RunID     string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	pipeline *audio.Pipeline
	agg      *transcript.Aggregator

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	failures     int
	turns        int
	queue        []transcript.Utterance
	wake         chan struct{}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// transition moves to next only while in one of the allowed states.
func (s *Session) transition(next State, allowed ...State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range allowed {
		if s.state == a {
			s.state = next
			return true
		}
	}
	return false
}

func (s *Session) closedOrClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosing || s.state == StateClosed
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) failureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func (s *Session) recordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.failures
}

// takeTurn counts a processed utterance against the call's turn budget
// and returns the running total. Unlike the history window, the total
// never shrinks.
func (s *Session) takeTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
	return s.turns
}

func (s *Session) resetFailures() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
}

// enqueue parks a finalized utterance for the turn worker. Ordering is
// arrival order, which the aggregator already guarantees is strictly
// increasing by sequence number.
func (s *Session) enqueue(u transcript.Utterance) {
	s.mu.Lock()
	s.queue = append(s.queue, u)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) dequeue() (transcript.Utterance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return transcript.Utterance{}, false
	}
	u := s.queue[0]
	s.queue = s.queue[1:]
	return u, true
}
