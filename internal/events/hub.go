package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DefaultHistory is the number of events a Hub remembers.
const DefaultHistory = 100

// Hub fans events out to registered sinks and keeps a short history.
type Hub struct {
	sinks   map[string]Sink
	history []*Event
	limit   int
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates a hub remembering up to limit events.
func NewHub(limit int, logger *zap.Logger) *Hub {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return &Hub{
		sinks:  make(map[string]Sink),
		limit:  limit,
		logger: logger,
	}
}

// Register adds a sink. A sink with the same name is replaced.
func (h *Hub) Register(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks[s.Name()] = s
	h.logger.Info("registered event sink", zap.String("sink", s.Name()))
}

// Publish records ev and delivers it to every sink.
func (h *Hub) Publish(ctx context.Context, ev *Event) {
	h.mu.Lock()
	h.history = append(h.history, ev)
	if len(h.history) > h.limit {
		h.history = h.history[len(h.history)-h.limit:]
	}
	sinks := make([]Sink, 0, len(h.sinks))
	for _, s := range h.sinks {
		sinks = append(sinks, s)
	}
	h.mu.Unlock()

	for _, s := range sinks {
		if err := s.Deliver(ctx, ev); err != nil {
			h.logger.Warn("event delivery failed",
				zap.String("sink", s.Name()),
				zap.String("type", string(ev.Type)),
				zap.String("flower", ev.FlowerID),
				zap.Error(err))
		}
	}
}

// History returns up to limit recent events for flowerID, oldest first.
// An empty flowerID matches every flower.
func (h *Hub) History(flowerID string, limit int) []*Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var matched []*Event
	for _, ev := range h.history {
		if flowerID == "" || ev.FlowerID == flowerID {
			matched = append(matched, ev)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// ChanSink delivers events to an in-process channel. Events are dropped
// when the buffer is full.
type ChanSink struct {
	name string
	ch   chan *Event
}

// NewChanSink creates a channel sink with the given buffer size.
func NewChanSink(name string, buffer int) *ChanSink {
	return &ChanSink{name: name, ch: make(chan *Event, buffer)}
}

func (s *ChanSink) Name() string { return s.name }

// Events returns the receive side of the sink.
func (s *ChanSink) Events() <-chan *Event { return s.ch }

func (s *ChanSink) Deliver(ctx context.Context, ev *Event) error {
	select {
	case s.ch <- ev:
	default:
	}
	return nil
}
