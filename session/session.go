package session

import (
	"context"
	"sync"
	"time"

	"github.com/room4-2/ordercall/dialogue"
	"github.com/room4-2/ordercall/order"
)

// Session is one live call: its order and the dialogue state the engine
// advances. Only the turn holder may replace the state.
type Session struct {
	ID        string
	Order     *order.Record
	CreatedAt time.Time

	// turn is a one-slot semaphore; holding it means owning the next turn
	turn chan struct{}

	// mirrorMu orders Redis mirror writes against the cleanup in End
	mirrorMu sync.Mutex

	mu           sync.RWMutex
	state        dialogue.State
	lastActivity time.Time
	ended        bool
}

func newSession(id string, rec *order.Record, now time.Time) *Session {
	return &Session{
		ID:           id,
		Order:        rec,
		CreatedAt:    now,
		turn:         make(chan struct{}, 1),
		state:        dialogue.NewState(id),
		lastActivity: now,
	}
}

// acquire waits for the turn slot or for ctx to end
func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() {
	<-s.turn
}

// State returns a copy of the committed dialogue state
func (s *Session) State() dialogue.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// LastActivity returns when the session last committed a turn
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// IsEnded reports whether the session was ended
func (s *Session) IsEnded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

func (s *Session) commit(st dialogue.State, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.lastActivity = now
}

// markEnded flips the ended flag and reports whether this call did it
func (s *Session) markEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	return true
}
