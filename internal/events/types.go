// Package events carries the realtime payloads a flower emits while it is
// tended, and fans them out to transports.
package events

import (
	"context"
	"time"

	"github.com/nidhogg/flowerbed/internal/flower"
)

// Type names a realtime event.
type Type string

const (
	TypeTyping   Type = "flower:typing"
	TypeResponse Type = "flower:response"
	TypeState    Type = "flower:state"
)

// Event is one realtime payload, keyed by flower and session.
type Event struct {
	Type      Type             `json:"type"`
	FlowerID  string           `json:"flowerId"`
	SessionID string           `json:"sessionId,omitempty"`
	Response  string           `json:"response,omitempty"`
	State     *flower.State    `json:"state,omitempty"`
	Metadata  *flower.Metadata `json:"metadata,omitempty"`
	Memory    *MemoryCounts    `json:"memory,omitempty"`
	Stats     *ResponseStats   `json:"stats,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// MemoryCounts summarizes the size of each memory tier.
type MemoryCounts struct {
	ShortTerm int `json:"shortTermCount"`
	LongTerm  int `json:"longTermCount"`
	Episodic  int `json:"episodicCount"`
}

// ResponseStats describes how a tend call went.
type ResponseStats struct {
	ResponseTimeMS int64 `json:"responseTime"`
	TokensUsed     int   `json:"tokensUsed"`
}

// CountMemory returns the tier sizes of m.
func CountMemory(m flower.Memory) *MemoryCounts {
	return &MemoryCounts{
		ShortTerm: len(m.ShortTerm),
		LongTerm:  len(m.LongTerm),
		Episodic:  len(m.Episodic),
	}
}

// StateOf builds the flower:state payload for f.
func StateOf(f *flower.Flower, sessionID string, at time.Time) *Event {
	st := f.State
	md := f.Metadata
	return &Event{
		Type:      TypeState,
		FlowerID:  f.ID,
		SessionID: sessionID,
		State:     &st,
		Metadata:  &md,
		Memory:    CountMemory(f.Memory),
		Timestamp: at,
	}
}

// Publisher accepts events. Publishing never fails the caller; delivery
// problems are the publisher's to log.
type Publisher interface {
	Publish(ctx context.Context, ev *Event)
}

// Sink delivers events to one transport.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev *Event) error
}
