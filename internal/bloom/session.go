package bloom

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nidhogg/flowerbed/internal/evolution"
	"github.com/nidhogg/flowerbed/internal/flower"
)

// Session is one open bloom of a flower. It owns its flower copy
// exclusively; the mutex serializes tend calls on the session.
type Session struct {
	ID        string    `json:"sessionId"`
	FlowerID  string    `json:"flowerId"`
	StartTime time.Time `json:"startTime"`

	mu      sync.Mutex
	flower  *flower.Flower
	context string
	tracker evolution.Tracker
	closed  atomic.Bool
}

func newSession(id string, f *flower.Flower, context string, window int, now time.Time) *Session {
	return &Session{
		ID:        id,
		FlowerID:  f.ID,
		StartTime: now,
		flower:    f,
		context:   context,
		tracker:   evolution.NewTracker(window, now),
	}
}

// Flower returns a copy of the session's flower.
func (s *Session) Flower() *flower.Flower {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flower.Clone()
}

// Context returns the encoded context sent with the next prompt.
func (s *Session) Context() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context
}

// Interactions returns the number of successful tends on this session.
func (s *Session) Interactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Count()
}

// Closed reports whether the session was wilted or archived.
func (s *Session) Closed() bool { return s.closed.Load() }

// mutate applies fn to the session flower under the session lock.
func (s *Session) mutate(fn func(f *flower.Flower)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.flower)
}
