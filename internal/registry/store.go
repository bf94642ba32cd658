// Package registry holds the transport agent's local mirror of session
// state. The coordinator owns the authoritative copy; this store exists so
// the agent and UI can answer status queries without a round trip.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sjawhar/caption-relay/internal/caption"
)

// State is a session's lifecycle position.
type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StateEnded   State = "ended"
)

// Session is one bounded capture activity.
type Session struct {
	ID           string           `json:"sessionId"`
	Title        string           `json:"title"`
	Platform     caption.Platform `json:"platform"`
	TabID        int              `json:"tabId"`
	StartedAt    time.Time        `json:"startedAt"`
	CaptionCount int              `json:"captionCount"`
	State        State            `json:"state"`
}

// Store is a mutex-guarded session registry. Callers only ever see copies;
// the underlying maps are never exposed.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	active   map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		active:   make(map[string]struct{}),
	}
}

// Insert registers a new session and adds it to the active set. At most
// one non-ended session may exist per tab.
func (s *Store) Insert(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already registered", sess.ID)
	}
	for id := range s.active {
		if s.sessions[id].TabID == sess.TabID {
			return fmt.Errorf("tab %d already has active session %s", sess.TabID, id)
		}
	}

	copy := sess
	s.sessions[sess.ID] = &copy
	s.active[sess.ID] = struct{}{}
	return nil
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Activate marks the session ACTIVE. It is idempotent and a no-op on
// sessions that have already ended.
func (s *Store) Activate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.State == StateEnded {
		return false
	}
	sess.State = StateActive
	return true
}

// AddCaptions increments the session's caption count and returns the new
// total. The count never decreases.
func (s *Store) AddCaptions(id string, n int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || n < 0 {
		return 0, false
	}
	sess.CaptionCount += n
	return sess.CaptionCount, true
}

// End marks the session ENDED and removes it from the active set,
// returning the final snapshot. Ending an unknown session is a no-op.
func (s *Store) End(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	sess.State = StateEnded
	delete(s.active, id)
	return *sess, true
}

// ActiveIDs returns the ids of sessions created and not yet ended, sorted
// for stable output.
func (s *Store) ActiveIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveByTab returns the non-ended session monitoring the given tab.
func (s *Store) ActiveByTab(tabID int) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.active {
		if sess := s.sessions[id]; sess.TabID == tabID {
			return *sess, true
		}
	}
	return Session{}, false
}

// All returns copies of every known session, active or ended.
func (s *Store) All() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
