package evolution

import (
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/flowerbed/internal/flower"
	"go.uber.org/zap"
)

func TestEngineRuleOrder(t *testing.T) {
	e := NewEngine(zap.NewNop())
	want := []string{"emotional_continuity", "memory_influence", "interaction_pattern", "energy_dynamics"}
	got := e.Rules()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEvolveAppendsRecord(t *testing.T) {
	e := NewEngine(zap.NewNop())
	f := newFlower()
	in := flower.Interaction{Input: strings.Repeat("ü", 60), Response: "ok", Timestamp: epoch}

	rec := e.Evolve(f, in, Context{})
	if len(f.Metadata.EvolutionHistory) != 1 {
		t.Fatalf("got %d records, want 1", len(f.Metadata.EvolutionHistory))
	}
	if got := f.Metadata.EvolutionHistory[0]; got.Trigger != rec.Trigger || !got.Timestamp.Equal(epoch) {
		t.Fatalf("history entry does not match the returned record")
	}
	if rec.Trigger != strings.Repeat("ü", 50) {
		t.Fatalf("trigger should be the first 50 runes, got %d runes", len([]rune(rec.Trigger)))
	}
	if rec.Changes.Energy {
		t.Fatalf("a cheap exchange should not count as an energy change")
	}
}

func TestEvolveFlagsChanges(t *testing.T) {
	e := NewEngine(zap.NewNop())
	f := newFlower("creative", "melancholic")
	f.State.EnergyLevel = 0.35

	in := flower.Interaction{
		Input:     "Why? How? Explain why I love and hate this, I am desperate and terrified?",
		Response:  strings.Repeat("x", 1000),
		Timestamp: epoch,
	}
	rec := e.Evolve(f, in, Context{})

	if !rec.Changes.Energy {
		t.Fatalf("got energy %v from 0.35, want a flagged change", f.State.EnergyLevel)
	}
	if !rec.Changes.Emergent || f.State.EmergentState != flower.EmergentProfoundIntrospection {
		t.Fatalf("got emergent %q", f.State.EmergentState)
	}
	if rec.Changes.Traits || rec.Changes.Mood {
		t.Fatalf("traits and mood did not change: %+v", rec.Changes)
	}
}

func TestEvolveKeepsBounds(t *testing.T) {
	e := NewEngine(zap.NewNop())
	f := newFlower("empathetic")
	tr := NewTracker(DefaultWindow, epoch)

	inputs := []string{
		"explain why the sky is blue?", "hi", "I love you, I hate you, I'm terrified!",
		"compare cats and dogs", "tell me more", "how? why? what?",
	}
	for i := 0; i < 40; i++ {
		input := inputs[i%len(inputs)]
		in := flower.Interaction{Input: input, Response: strings.Repeat("r", i*50), Timestamp: epoch.Add(time.Duration(i) * time.Minute)}
		tr = tr.Observe(f.State.CurrentMood, input)
		e.Evolve(f, in, tr.Context(in.Timestamp))

		s := f.State
		if s.EnergyLevel < 0 || s.EnergyLevel > 1 || s.Coherence < 0 || s.Coherence > 1 {
			t.Fatalf("step %d: state out of bounds: %+v", i, s)
		}
		if f.Genome.Temperature < 0 || f.Genome.Temperature > 1 {
			t.Fatalf("step %d: temperature %v out of bounds", i, f.Genome.Temperature)
		}
	}
	if len(f.Metadata.EvolutionHistory) != 40 {
		t.Fatalf("got %d records, want 40", len(f.Metadata.EvolutionHistory))
	}
}

func TestEvolveIsDeterministic(t *testing.T) {
	run := func() *flower.Flower {
		e := NewEngine(zap.NewNop())
		f := newFlower("creative")
		f.Memory.Episodic = []flower.Episode{{Summary: "Discussed: stars...", EmotionalTone: flower.MoodJoyful}}
		tr := NewTracker(DefaultWindow, epoch)
		for i := 0; i < 12; i++ {
			in := flower.Interaction{Input: "tell me about stars", Response: "They shine.", Timestamp: epoch.Add(time.Duration(i) * time.Second)}
			tr = tr.Observe(f.State.CurrentMood, in.Input)
			e.Evolve(f, in, tr.Context(in.Timestamp))
		}
		return f
	}
	a, b := run(), run()
	if a.State.CurrentMood != b.State.CurrentMood || a.State.EnergyLevel != b.State.EnergyLevel ||
		a.Genome.Temperature != b.Genome.Temperature || a.State.ConversationMode != b.State.ConversationMode {
		t.Fatalf("same inputs diverged: %+v vs %+v", a.State, b.State)
	}
	if a.State.ConversationMode != flower.ModeExploringVariations {
		t.Fatalf("got mode %q, want exploring variations for one repeated topic", a.State.ConversationMode)
	}
}

func TestCheckEmergent(t *testing.T) {
	patterns := DefaultPatterns()

	f := newFlower("empathetic")
	f.State.CurrentMood = flower.MoodJoyful
	f.State.EnergyLevel = 0.9
	CheckEmergent(f, patterns)
	if f.State.EmergentState != flower.EmergentRadiantCompassion {
		t.Fatalf("got %q, want radiant compassion", f.State.EmergentState)
	}

	// no pattern matches: the previous state persists
	f.State.EnergyLevel = 0.5
	CheckEmergent(f, patterns)
	if f.State.EmergentState != flower.EmergentRadiantCompassion {
		t.Fatalf("got %q, emergent state should persist", f.State.EmergentState)
	}

	f = newFlower("creative", "melancholic", "empathetic")
	f.State.EnergyLevel = 0.3
	CheckEmergent(f, patterns)
	if f.State.EmergentState != "" {
		t.Fatalf("energy of exactly 0.3 should not trigger introspection")
	}
	f.State.EnergyLevel = 0.29
	CheckEmergent(f, patterns)
	if f.State.EmergentState != flower.EmergentProfoundIntrospection {
		t.Fatalf("got %q, want profound introspection", f.State.EmergentState)
	}
}
