package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix prefixes the pub/sub channel of each flower.
const ChannelPrefix = "flwr:flower:"

// RedisSink publishes events as JSON on a per-flower pub/sub channel.
type RedisSink struct {
	rdb *redis.Client
}

// NewRedisSink creates a sink publishing through rdb.
func NewRedisSink(rdb *redis.Client) *RedisSink {
	return &RedisSink{rdb: rdb}
}

func (s *RedisSink) Name() string { return "redis" }

// Channel returns the pub/sub channel for flowerID.
func Channel(flowerID string) string { return ChannelPrefix + flowerID }

func (s *RedisSink) Deliver(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.rdb.Publish(ctx, Channel(ev.FlowerID), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Subscribe listens on flowerID's channel and decodes events until ctx is
// done. The returned channel is closed on exit.
func (s *RedisSink) Subscribe(ctx context.Context, flowerID string) (<-chan *Event, error) {
	sub := s.rdb.Subscribe(ctx, Channel(flowerID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", flowerID, err)
	}

	out := make(chan *Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if json.Unmarshal([]byte(msg.Payload), &ev) != nil {
					continue
				}
				select {
				case out <- &ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
