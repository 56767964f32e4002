package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultStream is the Redis stream jobs are appended to.
	DefaultStream = "flwr:jobs"
	// DefaultGroup is the consumer group shared by all workers.
	DefaultGroup = "flwr-workers"
)

// Bus is a job queue on a Redis stream read through a consumer group, so
// each job goes to exactly one worker and stays pending until acked.
type Bus struct {
	rdb    *redis.Client
	stream string
	group  string
	block  time.Duration
	logger *zap.Logger
}

// NewBus creates a bus on the default stream and group.
func NewBus(rdb *redis.Client, logger *zap.Logger) *Bus {
	return &Bus{
		rdb:    rdb,
		stream: DefaultStream,
		group:  DefaultGroup,
		block:  2 * time.Second,
		logger: logger,
	}
}

// WithStream returns a copy of the bus using stream and group.
func (b *Bus) WithStream(stream, group string) *Bus {
	c := *b
	c.stream = stream
	c.group = group
	return &c
}

// EnsureGroup creates the stream and consumer group if missing.
func (b *Bus) EnsureGroup(ctx context.Context) error {
	err := b.rdb.XGroupCreateMkStream(ctx, b.stream, b.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", b.group, b.stream, err)
	}
	return nil
}

// Enqueue appends job to the stream, assigning an id if it has none.
func (b *Bus) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to %s: %w", b.stream, err)
	}

	b.logger.Debug("enqueued job",
		zap.String("job", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("flower", job.FlowerID))
	return nil
}

// Consume reads new jobs for consumer until ctx is cancelled. The returned
// channel is closed on exit.
func (b *Bus) Consume(ctx context.Context, consumer string) <-chan *Delivery {
	ch := make(chan *Delivery, 16)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    b.group,
				Consumer: consumer,
				Streams:  []string{b.stream, ">"},
				Count:    10,
				Block:    b.block,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("read jobs failed", zap.String("stream", b.stream), zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					d, ok := b.delivery(msg)
					if !ok {
						b.logger.Warn("dropping malformed job", zap.String("message", msg.ID))
						_ = b.ack(ctx, msg.ID)
						continue
					}
					select {
					case ch <- d:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

func (b *Bus) delivery(msg redis.XMessage) (*Delivery, bool) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, false
	}
	var job Job
	if json.Unmarshal([]byte(data), &job) != nil {
		return nil, false
	}
	id := msg.ID
	return &Delivery{
		Job:       &job,
		MessageID: id,
		ack:       func(ctx context.Context) error { return b.ack(ctx, id) },
	}, true
}

func (b *Bus) ack(ctx context.Context, id string) error {
	if err := b.rdb.XAck(ctx, b.stream, b.group, id).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

// Pending returns the number of delivered but unacknowledged jobs.
func (b *Bus) Pending(ctx context.Context) (int64, error) {
	p, err := b.rdb.XPending(ctx, b.stream, b.group).Result()
	if err != nil {
		return 0, fmt.Errorf("pending %s: %w", b.stream, err)
	}
	return p.Count, nil
}
