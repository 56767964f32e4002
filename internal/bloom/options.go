package bloom

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/flowerbed/internal/evolution"
	"github.com/nidhogg/flowerbed/internal/events"
	"github.com/nidhogg/flowerbed/internal/flower"
)

// LockMode selects how writes to one flower from different sessions are
// serialized.
type LockMode int

const (
	// LockNone serializes per session only. Two sessions of one flower may
	// interleave saves (last write wins) and a tend racing a wilt may
	// recreate the deleted record.
	LockNone LockMode = iota
	// LockPerFlower holds a per-flower lock across bloom, tend, wilt and the
	// collaborator writes. A tend whose session was wilted while it waited
	// fails with flower.ErrSessionNotFound, and a bloom that waited on a
	// wilt fails with flower.ErrFlowerNotFound.
	LockPerFlower
)

func (m LockMode) String() string {
	switch m {
	case LockPerFlower:
		return "per-flower"
	default:
		return "none"
	}
}

// ParseLockMode maps a config value to a LockMode.
func ParseLockMode(s string) LockMode {
	if s == "per-flower" || s == "flower" {
		return LockPerFlower
	}
	return LockNone
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Options configures an Engine. The zero value is usable.
type Options struct {
	// PersistOnBloom saves the bloom counter bump immediately. When false
	// the bump rides along with the next successful tend, saving a write
	// per resumed session.
	PersistOnBloom bool
	FlowerLocking  LockMode
	// ContextWindow bounds the per-session mood trajectory and topics.
	ContextWindow int
	Clock         Clock
	// NewID returns a fresh random identifier; seed ids use its first six
	// characters.
	NewID     func() string
	Publisher events.Publisher
	// Interactions, when set, receives a trace of every committed tend.
	Interactions InteractionLogger
}

// InteractionLogger keeps a durable trace of tend calls.
type InteractionLogger interface {
	LogInteraction(ctx context.Context, l *flower.InteractionLog) error
}

func (o Options) withDefaults() Options {
	if o.ContextWindow <= 0 {
		o.ContextWindow = evolution.DefaultWindow
	}
	if o.Clock == nil {
		o.Clock = ClockFunc(time.Now)
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}
