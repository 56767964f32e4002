package evolution

import "github.com/nidhogg/flowerbed/internal/flower"

// EmergentPattern maps a trait/mood/energy combination to an emergent state.
type EmergentPattern struct {
	State string
	Match func(f *flower.Flower) bool
}

// DefaultPatterns returns the built-in combinations in priority order.
func DefaultPatterns() []EmergentPattern {
	return []EmergentPattern{
		{
			State: flower.EmergentProfoundIntrospection,
			Match: func(f *flower.Flower) bool {
				return f.Genome.HasTrait("creative") &&
					f.Genome.HasTrait("melancholic") &&
					f.State.EnergyLevel < 0.3
			},
		},
		{
			State: flower.EmergentRadiantCompassion,
			Match: func(f *flower.Flower) bool {
				return f.Genome.HasTrait("empathetic") &&
					f.State.CurrentMood == flower.MoodJoyful &&
					f.State.EnergyLevel > 0.8
			},
		},
	}
}

// CheckEmergent sets the state of the first matching pattern. Without a match
// the current emergent state persists.
func CheckEmergent(f *flower.Flower, patterns []EmergentPattern) {
	for _, p := range patterns {
		if p.Match(f) {
			f.State.EmergentState = p.State
			return
		}
	}
}
