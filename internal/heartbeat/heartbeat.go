// Package heartbeat periodically enqueues maintenance jobs for flowers.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/nidhogg/flowerbed/internal/queue"
	"go.uber.org/zap"
)

// ListFunc returns the ids of flowers due for maintenance.
type ListFunc func(ctx context.Context) ([]string, error)

// Heartbeat enqueues one job per kind for every listed flower on each beat.
type Heartbeat struct {
	interval time.Duration
	jobs     queue.Queue
	list     ListFunc
	kinds    []queue.Kind
	mu       sync.Mutex
	lastBeat time.Time
	beats    int
	logger   *zap.Logger
}

// New creates a heartbeat. Without kinds it schedules consolidation.
func New(interval time.Duration, jobs queue.Queue, list ListFunc, logger *zap.Logger, kinds ...queue.Kind) *Heartbeat {
	if len(kinds) == 0 {
		kinds = []queue.Kind{queue.KindConsolidation}
	}
	return &Heartbeat{
		interval: interval,
		jobs:     jobs,
		list:     list,
		kinds:    kinds,
		logger:   logger,
	}
}

// Run beats every interval until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("heartbeat started", zap.Duration("interval", h.interval))
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped", zap.Int("beats", h.Beats()))
			return nil
		case now := <-ticker.C:
			h.beat(ctx, now)
		}
	}
}

// FireNow beats immediately and returns the number of jobs enqueued.
func (h *Heartbeat) FireNow(ctx context.Context) int {
	return h.beat(ctx, time.Now())
}

// Beats returns how many beats have fired.
func (h *Heartbeat) Beats() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.beats
}

// LastBeat returns the time of the most recent beat.
func (h *Heartbeat) LastBeat() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastBeat
}

func (h *Heartbeat) beat(ctx context.Context, now time.Time) int {
	h.mu.Lock()
	h.lastBeat = now
	h.beats++
	h.mu.Unlock()

	ids, err := h.list(ctx)
	if err != nil {
		h.logger.Warn("heartbeat list failed", zap.Error(err))
		return 0
	}

	enqueued := 0
	for _, id := range ids {
		for _, kind := range h.kinds {
			job := &queue.Job{Kind: kind, FlowerID: id, Trigger: "heartbeat"}
			if err := h.jobs.Enqueue(ctx, job); err != nil {
				h.logger.Warn("heartbeat enqueue failed",
					zap.String("flower", id),
					zap.String("kind", string(kind)),
					zap.Error(err))
				continue
			}
			enqueued++
		}
	}
	h.logger.Debug("heartbeat fired",
		zap.Int("flowers", len(ids)),
		zap.Int("jobs", enqueued),
		zap.Time("at", now))
	return enqueued
}
