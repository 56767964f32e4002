package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Local is an in-process queue for single-node runs without Redis.
type Local struct {
	ch chan *Delivery
}

// NewLocal creates a local queue holding up to buffer jobs.
func NewLocal(buffer int) *Local {
	if buffer <= 0 {
		buffer = 64
	}
	return &Local{ch: make(chan *Delivery, buffer)}
}

// Enqueue blocks until the job is buffered or ctx is done.
func (l *Local) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case l.ch <- &Delivery{Job: job, MessageID: job.ID}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns the shared delivery channel. Every consumer competes
// for the same jobs.
func (l *Local) Consume(context.Context, string) <-chan *Delivery {
	return l.ch
}

// Len returns the number of buffered jobs.
func (l *Local) Len() int { return len(l.ch) }
