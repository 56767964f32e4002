// Package evolution mutates a flower after each interaction by running an
// ordered pipeline of independent rules.
package evolution

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/nidhogg/flowerbed/internal/flower"
	"go.uber.org/zap"
)

// Rule is one evolution step. Apply mutates f in place.
type Rule interface {
	Name() string
	ShouldApply(f *flower.Flower, ec Context) bool
	Apply(f *flower.Flower, in flower.Interaction, ec Context)
}

// energyChangeThreshold is the net energy delta that counts as a change in
// the evolution history.
const energyChangeThreshold = 0.1

// triggerLen is the number of input runes kept as a history trigger.
const triggerLen = 50

// Engine runs rules in declaration order, then the emergent-behaviour check,
// then appends an evolution record.
type Engine struct {
	rules    []Rule
	patterns []EmergentPattern
	logger   *zap.Logger
}

// NewEngine creates an engine with the built-in rules and patterns.
func NewEngine(logger *zap.Logger) *Engine {
	return NewEngineWith(DefaultRules(), DefaultPatterns(), logger)
}

// NewEngineWith creates an engine with explicit rules and patterns.
func NewEngineWith(rules []Rule, patterns []EmergentPattern, logger *zap.Logger) *Engine {
	return &Engine{rules: rules, patterns: patterns, logger: logger}
}

// DefaultRules returns the built-in rules. Energy dynamics must stay after
// the mood-affecting rules so it reads the freshest mood.
func DefaultRules() []Rule {
	return []Rule{
		DefaultEmotionalContinuity(),
		DefaultMemoryInfluence(),
		DefaultInteractionPattern(),
		DefaultEnergyDynamics(),
	}
}

// Rules returns the names of the configured rules in execution order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Evolve applies every applicable rule to f, sets any emergent state and
// records what changed. The record is also appended to f's history.
func (e *Engine) Evolve(f *flower.Flower, in flower.Interaction, ec Context) flower.EvolutionRecord {
	before := snapshot(f)

	var applied []string
	for _, r := range e.rules {
		if !r.ShouldApply(f, ec) {
			continue
		}
		r.Apply(f, in, ec)
		applied = append(applied, r.Name())
	}

	CheckEmergent(f, e.patterns)

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := flower.EvolutionRecord{
		Timestamp: ts,
		Changes:   before.diff(f),
		Trigger:   truncateRunes(in.Input, triggerLen),
	}
	f.Metadata.EvolutionHistory = append(f.Metadata.EvolutionHistory, rec)

	e.logger.Debug("evolved flower",
		zap.String("flower", f.ID),
		zap.Strings("rules", applied),
		zap.String("mood", f.State.CurrentMood),
		zap.Float64("energy", f.State.EnergyLevel),
		zap.String("emergent", f.State.EmergentState))

	return rec
}

type stateSnapshot struct {
	mood     string
	energy   float64
	traits   []string
	emergent string
}

func snapshot(f *flower.Flower) stateSnapshot {
	return stateSnapshot{
		mood:     f.State.CurrentMood,
		energy:   f.State.EnergyLevel,
		traits:   append([]string(nil), f.Genome.Traits...),
		emergent: f.State.EmergentState,
	}
}

func (s stateSnapshot) diff(f *flower.Flower) flower.Changes {
	return flower.Changes{
		Mood:     s.mood != f.State.CurrentMood,
		Energy:   math.Abs(s.energy-f.State.EnergyLevel) > energyChangeThreshold,
		Traits:   !equalStrings(s.traits, f.Genome.Traits),
		Emergent: s.emergent != f.State.EmergentState,
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
