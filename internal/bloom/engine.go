// Package bloom runs the flower lifecycle: seed, bloom, tend and wilt.
package bloom

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nidhogg/flowerbed/internal/encoder"
	"github.com/nidhogg/flowerbed/internal/events"
	"github.com/nidhogg/flowerbed/internal/evolution"
	"github.com/nidhogg/flowerbed/internal/flower"
	"github.com/nidhogg/flowerbed/internal/memory"
	"github.com/nidhogg/flowerbed/internal/provider"
	"go.uber.org/zap"
)

const (
	seedVersion     = "1.0"
	defaultModel    = "gpt-4"
	defaultTemp     = 0.7
	seedSuffixLen   = 6
	initialEnergy   = 1.0
	initialCoherent = 1.0
)

// Router completes a prompt for a flower.
type Router interface {
	Route(ctx context.Context, f *flower.Flower, encoded, input string) (*provider.Completion, error)
}

// TendResult is what a tend call hands back to its caller.
type TendResult struct {
	Response   string       `json:"response"`
	State      flower.State `json:"state"`
	TokensUsed int          `json:"tokensUsed"`
}

// Engine owns the open sessions and drives every interaction through the
// router, encoder, evolution engine and memory store in that order.
type Engine struct {
	store    *memory.Store
	router   Router
	evolver  *evolution.Engine
	opts     Options
	sessions map[string]*Session
	locks    *flowerLocks
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewEngine creates a bloom engine.
func NewEngine(store *memory.Store, router Router, evolver *evolution.Engine, opts Options, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		router:   router,
		evolver:  evolver,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
		locks:    newFlowerLocks(),
		logger:   logger,
	}
}

// Seed creates and persists a new flower.
func (e *Engine) Seed(ctx context.Context, cfg flower.Config) (*flower.Flower, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("seed: type is required: %w", flower.ErrInvalidConfig)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return nil, fmt.Errorf("seed: temperature %g outside [0,1]: %w", cfg.Temperature, flower.ErrInvalidConfig)
	}

	suffix := e.opts.NewID()
	if len(suffix) > seedSuffixLen {
		suffix = suffix[:seedSuffixLen]
	}

	f := &flower.Flower{
		ID:      cfg.Type + "_" + suffix,
		Type:    cfg.Type,
		Version: seedVersion,
		Metadata: flower.Metadata{
			Created:          e.opts.Clock.Now(),
			EvolutionHistory: []flower.EvolutionRecord{},
		},
		Genome: flower.Genome{
			BaseModel:    cfg.BaseModel,
			Temperature:  cfg.Temperature,
			SystemPrompt: cfg.SystemPrompt,
			Traits:       append([]string{}, cfg.Traits...),
		},
		Memory: flower.Memory{
			ShortTerm: []flower.Fragment{},
			LongTerm:  []flower.Fragment{},
			Episodic:  []flower.Episode{},
		},
		State: flower.State{
			CurrentMood: flower.MoodNeutral,
			EnergyLevel: initialEnergy,
			Coherence:   initialCoherent,
		},
	}
	if f.Genome.BaseModel == "" {
		f.Genome.BaseModel = defaultModel
	}
	if f.Genome.Temperature == 0 {
		f.Genome.Temperature = defaultTemp
	}

	if err := e.store.Save(ctx, f); err != nil {
		return nil, fmt.Errorf("seed %s: %w", f.ID, err)
	}
	e.logger.Info("seeded flower",
		zap.String("id", f.ID),
		zap.String("type", f.Type),
		zap.String("model", f.Genome.BaseModel))
	return f.Clone(), nil
}

// Bloom opens a session on a persisted flower.
func (e *Engine) Bloom(ctx context.Context, flowerID string) (*Session, error) {
	unlock := e.lockFlower(flowerID)
	defer unlock()

	f, err := e.store.Load(ctx, flowerID)
	if err != nil {
		return nil, fmt.Errorf("bloom %s: %w", flowerID, err)
	}
	if f.Metadata.Archived {
		return nil, fmt.Errorf("bloom %s: %w", flowerID, flower.ErrArchived)
	}

	now := e.opts.Clock.Now()
	f.Metadata.LastBloomed = &now
	f.Metadata.BloomCount++

	if e.opts.PersistOnBloom {
		if err := e.store.Save(ctx, f); err != nil {
			return nil, fmt.Errorf("bloom %s: %w", flowerID, err)
		}
	}

	s := newSession(e.opts.NewID(), f, encoder.Encode(f), e.opts.ContextWindow, now)

	e.mu.Lock()
	e.sessions[s.ID] = s
	e.mu.Unlock()

	e.logger.Info("flower bloomed",
		zap.String("flower", flowerID),
		zap.String("session", s.ID),
		zap.Int("bloom_count", f.Metadata.BloomCount))
	return s, nil
}

// Tend runs one interaction on a session. The pipeline works on a copy of
// the session flower; nothing is committed unless every step succeeds.
func (e *Engine) Tend(ctx context.Context, sessionID, input string) (*TendResult, error) {
	s, ok := e.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("tend %s: %w", sessionID, flower.ErrSessionNotFound)
	}

	unlock := e.lockFlower(s.FlowerID)
	defer unlock()
	if e.opts.FlowerLocking == LockPerFlower {
		if _, ok := e.Session(sessionID); !ok {
			return nil, fmt.Errorf("tend %s: %w", sessionID, flower.ErrSessionNotFound)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := e.opts.Clock.Now()
	e.publish(ctx, &events.Event{
		Type:      events.TypeTyping,
		FlowerID:  s.FlowerID,
		SessionID: s.ID,
		Timestamp: start,
	})

	before := s.flower.State
	work := s.flower.Clone()

	completion, err := e.router.Route(ctx, work, s.context, input)
	if err != nil {
		return nil, fmt.Errorf("tend %s: %w", sessionID, err)
	}

	work.State = encoder.UpdateState(work.State, input, completion.Content)
	tracker := s.tracker.Observe(work.State.CurrentMood, input)

	now := e.opts.Clock.Now()
	in := flower.Interaction{Input: input, Response: completion.Content, Timestamp: now}
	e.evolver.Evolve(work, in, tracker.Context(now))

	if _, err := e.store.RecordInteraction(ctx, work, in); err != nil {
		return nil, fmt.Errorf("tend %s: %w", sessionID, err)
	}

	s.flower = work
	s.tracker = tracker
	s.context = encoder.Encode(work)

	result := &TendResult{
		Response:   completion.Content,
		State:      work.State,
		TokensUsed: completion.Usage.TotalTokens,
	}

	if e.opts.Interactions != nil {
		e.logInteraction(ctx, &flower.InteractionLog{
			ID:             e.opts.NewID(),
			FlowerID:       s.FlowerID,
			SessionID:      s.ID,
			Input:          input,
			Response:       completion.Content,
			Model:          work.Genome.BaseModel,
			TokensUsed:     result.TokensUsed,
			ResponseTimeMS: now.Sub(start).Milliseconds(),
			StateBefore:    before,
			StateAfter:     work.State,
			Timestamp:      now,
		})
	}

	state := work.State
	e.publish(ctx, &events.Event{
		Type:      events.TypeResponse,
		FlowerID:  s.FlowerID,
		SessionID: s.ID,
		Response:  result.Response,
		State:     &state,
		Stats: &events.ResponseStats{
			ResponseTimeMS: now.Sub(start).Milliseconds(),
			TokensUsed:     result.TokensUsed,
		},
		Timestamp: now,
	})
	e.publish(ctx, events.StateOf(work, s.ID, now))

	e.logger.Debug("tended flower",
		zap.String("flower", s.FlowerID),
		zap.String("session", s.ID),
		zap.String("mood", work.State.CurrentMood),
		zap.Float64("energy", work.State.EnergyLevel))
	return result, nil
}

// Wilt closes every session of a flower and deletes its durable record.
func (e *Engine) Wilt(ctx context.Context, flowerID string) error {
	unlock := e.lockFlower(flowerID)
	defer unlock()

	closed := e.closeSessions(flowerID)
	if err := e.store.Delete(ctx, flowerID); err != nil {
		return fmt.Errorf("wilt %s: %w", flowerID, err)
	}
	e.logger.Info("flower wilted",
		zap.String("flower", flowerID), zap.Int("sessions_closed", closed))
	return nil
}

// GetFlower returns the durable record of a flower.
func (e *Engine) GetFlower(ctx context.Context, flowerID string) (*flower.Flower, error) {
	f, err := e.store.Load(ctx, flowerID)
	if err != nil {
		return nil, fmt.Errorf("get flower %s: %w", flowerID, err)
	}
	return f, nil
}

// UpdateFlowerMemory replaces a flower's memory tiers in the durable record
// and in every open session.
func (e *Engine) UpdateFlowerMemory(ctx context.Context, flowerID string, mem flower.Memory) error {
	_, err := e.RewriteFlowerMemory(ctx, flowerID, func(flower.Memory) flower.Memory {
		return mem.Clone()
	})
	return err
}

// RewriteFlowerMemory applies fn to the memory of the freshly loaded record
// and to the current memory of every open session, then saves the record.
// Under LockPerFlower no tend can commit between the load and the save.
func (e *Engine) RewriteFlowerMemory(ctx context.Context, flowerID string, fn func(flower.Memory) flower.Memory) (flower.Memory, error) {
	unlock := e.lockFlower(flowerID)
	defer unlock()

	f, err := e.store.Load(ctx, flowerID)
	if err != nil {
		return flower.Memory{}, fmt.Errorf("update memory %s: %w", flowerID, err)
	}
	f.Memory = fn(f.Memory.Clone())
	if err := e.store.Save(ctx, f); err != nil {
		return flower.Memory{}, fmt.Errorf("update memory %s: %w", flowerID, err)
	}

	e.eachSession(flowerID, func(s *Session) {
		s.mutate(func(sf *flower.Flower) {
			sf.Memory = fn(sf.Memory.Clone())
			s.context = encoder.Encode(sf)
		})
	})
	e.logger.Info("updated flower memory",
		zap.String("flower", flowerID),
		zap.Int("short_term", len(f.Memory.ShortTerm)),
		zap.Int("long_term", len(f.Memory.LongTerm)))
	return f.Memory.Clone(), nil
}

// EvolveFlower runs the evolution rules outside any session, with trigger
// standing in for the interaction input.
func (e *Engine) EvolveFlower(ctx context.Context, flowerID, trigger string) (*flower.Flower, error) {
	unlock := e.lockFlower(flowerID)
	defer unlock()

	f, err := e.store.Load(ctx, flowerID)
	if err != nil {
		return nil, fmt.Errorf("evolve %s: %w", flowerID, err)
	}
	now := e.opts.Clock.Now()
	in := flower.Interaction{Input: trigger, Timestamp: now}
	e.evolver.Evolve(f, in, evolution.NewTracker(e.opts.ContextWindow, now).Context(now))

	if err := e.store.Save(ctx, f); err != nil {
		return nil, fmt.Errorf("evolve %s: %w", flowerID, err)
	}

	e.eachSession(flowerID, func(s *Session) {
		s.mutate(func(sf *flower.Flower) {
			c := f.Clone()
			sf.Genome = c.Genome
			sf.State = c.State
			sf.Metadata.EvolutionHistory = c.Metadata.EvolutionHistory
		})
	})
	return f, nil
}

// Archive marks a flower archived and closes its sessions. Archived
// flowers keep their record but can no longer bloom.
func (e *Engine) Archive(ctx context.Context, flowerID, reason string) (*flower.Flower, error) {
	unlock := e.lockFlower(flowerID)
	defer unlock()

	f, err := e.store.Load(ctx, flowerID)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", flowerID, err)
	}
	now := e.opts.Clock.Now()
	f.Metadata.Archived = true
	f.Metadata.ArchivedAt = &now
	f.Metadata.ArchiveReason = reason
	if err := e.store.Save(ctx, f); err != nil {
		return nil, fmt.Errorf("archive %s: %w", flowerID, err)
	}

	closed := e.closeSessions(flowerID)
	e.logger.Info("archived flower",
		zap.String("flower", flowerID),
		zap.String("reason", reason),
		zap.Int("sessions_closed", closed))
	return f, nil
}

// Session returns an open session by id.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Sessions returns the open sessions of flowerID, or all sessions when
// flowerID is empty, ordered by start time.
func (e *Engine) Sessions(flowerID string) []*Session {
	e.mu.RLock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		if flowerID == "" || s.FlowerID == flowerID {
			out = append(out, s)
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// ActiveFlowers returns the sorted ids of flowers with at least one open
// session.
func (e *Engine) ActiveFlowers(context.Context) ([]string, error) {
	e.mu.RLock()
	seen := make(map[string]bool, len(e.sessions))
	for _, s := range e.sessions {
		seen[s.FlowerID] = true
	}
	e.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (e *Engine) closeSessions(flowerID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, s := range e.sessions {
		if s.FlowerID == flowerID {
			s.closed.Store(true)
			delete(e.sessions, id)
			n++
		}
	}
	return n
}

func (e *Engine) eachSession(flowerID string, fn func(s *Session)) {
	for _, s := range e.Sessions(flowerID) {
		fn(s)
	}
}

func (e *Engine) lockFlower(flowerID string) func() {
	if e.opts.FlowerLocking != LockPerFlower {
		return func() {}
	}
	return e.locks.Lock(flowerID)
}

func (e *Engine) logInteraction(ctx context.Context, l *flower.InteractionLog) {
	if err := e.opts.Interactions.LogInteraction(ctx, l); err != nil {
		e.logger.Warn("interaction log failed",
			zap.String("flower", l.FlowerID),
			zap.String("session", l.SessionID),
			zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, ev *events.Event) {
	if e.opts.Publisher != nil {
		e.opts.Publisher.Publish(ctx, ev)
	}
}
