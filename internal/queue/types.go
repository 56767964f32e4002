// Package queue runs out-of-band flower maintenance: memory consolidation,
// evolution and archival.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/flowerbed/internal/flower"
)

// Kind names a job type.
type Kind string

const (
	KindConsolidation Kind = "memory-consolidation"
	KindEvolution     Kind = "flower-evolution"
	KindArchival      Kind = "flower-archival"
)

// ParseKind validates a job kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindConsolidation, KindEvolution, KindArchival:
		return k, nil
	default:
		return "", fmt.Errorf("unknown job kind %q", s)
	}
}

// Status tracks job execution state.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is one unit of maintenance work against a flower.
type Job struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	FlowerID   string    `json:"flowerId"`
	Trigger    string    `json:"trigger,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Result describes how a job went.
type Result struct {
	JobID      string          `json:"jobId"`
	Kind       Kind            `json:"kind"`
	FlowerID   string          `json:"flowerId"`
	Status     Status          `json:"status"`
	Error      string          `json:"error,omitempty"`
	MemorySize int             `json:"memorySize,omitempty"`
	Changes    *flower.Changes `json:"changes,omitempty"`
	ArchivedAt *time.Time      `json:"archivedAt,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// Delivery is a received job awaiting acknowledgement.
type Delivery struct {
	Job       *Job
	MessageID string
	ack       func(ctx context.Context) error
}

// Ack marks the delivery as handled.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Queue accepts jobs and hands them to consumers.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	Consume(ctx context.Context, consumer string) <-chan *Delivery
}

// Keeper is the flower-side surface jobs call back into.
type Keeper interface {
	RewriteFlowerMemory(ctx context.Context, flowerID string, fn func(flower.Memory) flower.Memory) (flower.Memory, error)
	EvolveFlower(ctx context.Context, flowerID, trigger string) (*flower.Flower, error)
	Archive(ctx context.Context, flowerID, reason string) (*flower.Flower, error)
}
