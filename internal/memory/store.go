package memory

import (
	"context"
	"errors"

	"github.com/nidhogg/flowerbed/internal/flower"
	"go.uber.org/zap"
)

// Backend persists whole flower documents. Load and Delete return
// flower.ErrFlowerNotFound (possibly wrapped) for a missing id.
type Backend interface {
	Save(ctx context.Context, f *flower.Flower) error
	Load(ctx context.Context, id string) (*flower.Flower, error)
	Delete(ctx context.Context, id string) error
}

// Store owns durability of flower records and the tiered-memory policy.
type Store struct {
	backend Backend
	policy  Policy
	logger  *zap.Logger
}

// NewStore creates a memory store over the given backend.
func NewStore(backend Backend, policy Policy, logger *zap.Logger) *Store {
	return &Store{backend: backend, policy: policy, logger: logger}
}

// Policy returns the retention policy in effect.
func (s *Store) Policy() Policy { return s.policy }

// Save persists the full record, overwriting any prior record with the same id.
func (s *Store) Save(ctx context.Context, f *flower.Flower) error {
	if err := s.backend.Save(ctx, f); err != nil {
		return persistenceErr("save", f.ID, err)
	}
	return nil
}

// Load returns the persisted record or flower.ErrFlowerNotFound.
func (s *Store) Load(ctx context.Context, id string) (*flower.Flower, error) {
	f, err := s.backend.Load(ctx, id)
	if err != nil {
		return nil, persistenceErr("load", id, err)
	}
	return f, nil
}

// Delete removes the durable record or fails with flower.ErrFlowerNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		return persistenceErr("delete", id, err)
	}
	return nil
}

// RecordInteraction applies the retention policy to f and persists it.
func (s *Store) RecordInteraction(ctx context.Context, f *flower.Flower, in flower.Interaction) (Outcome, error) {
	out := s.policy.Record(&f.Memory, in)

	s.logger.Debug("recorded interaction",
		zap.String("flower", f.ID),
		zap.Float64("importance", out.Fragment.Importance),
		zap.Int("promoted", len(out.Promoted)),
		zap.Bool("episode", out.Episode != nil),
		zap.Int("short_term", len(f.Memory.ShortTerm)),
		zap.Int("long_term", len(f.Memory.LongTerm)))

	if err := s.Save(ctx, f); err != nil {
		return out, err
	}
	return out, nil
}

// persistenceErr keeps not-found errors as they are and wraps everything else
// as a PersistenceError.
func persistenceErr(op, id string, err error) error {
	if errors.Is(err, flower.ErrNotFound) {
		return err
	}
	var pe *flower.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &flower.PersistenceError{Op: op, ID: id, Err: err}
}
