package evolution

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/nidhogg/flowerbed/internal/flower"
)

// EmotionalContinuity raises emotional inertia when recent moods are stable.
type EmotionalContinuity struct {
	MinTrajectory  int     // applies when the trajectory is longer than this
	Window         int     // trailing moods inspected
	MaxStableMoods int     // distinct moods allowed in a stable pattern
	StableInertia  float64 // inertia for a stable pattern
	FluidInertia   float64 // inertia otherwise
}

func DefaultEmotionalContinuity() *EmotionalContinuity {
	return &EmotionalContinuity{
		MinTrajectory:  3,
		Window:         5,
		MaxStableMoods: 2,
		StableInertia:  0.8,
		FluidInertia:   0.3,
	}
}

func (r *EmotionalContinuity) Name() string { return "emotional_continuity" }

func (r *EmotionalContinuity) ShouldApply(_ *flower.Flower, ec Context) bool {
	return len(ec.EmotionalTrajectory) > r.MinTrajectory
}

func (r *EmotionalContinuity) Apply(f *flower.Flower, _ flower.Interaction, ec Context) {
	recent := tail(ec.EmotionalTrajectory, r.Window)
	dominant := dominantLabel(recent)

	if dominant != "" && distinct(recent) <= r.MaxStableMoods {
		f.State.EmotionalInertia = flower.Float(r.StableInertia)
	} else {
		f.State.EmotionalInertia = flower.Float(r.FluidInertia)
	}
}

// MemoryInfluence lets episodes that share words with the input pull the
// mood toward their tone.
//
// The "blend" is a simplification: once the influence pull clears the
// threshold and the blend weight exceeds one half, the mood is replaced by
// the episodes' dominant tone outright. There is no interpolation.
//
// The dominant tone is the most frequent tone among the matched episodes,
// not simply the first match; ties go to the earliest matched episode.
type MemoryInfluence struct {
	ResonanceScale float64 // matches needed for full resonance
	Pull           float64 // emotional pull of matched memories
	PullThreshold  float64 // pull needed before the mood is touched
	BlendWeight    float64 // weight given to the memory tone
}

func DefaultMemoryInfluence() *MemoryInfluence {
	return &MemoryInfluence{
		ResonanceScale: 10,
		Pull:           0.7,
		PullThreshold:  0.6,
		BlendWeight:    0.7,
	}
}

func (r *MemoryInfluence) Name() string { return "memory_influence" }

func (r *MemoryInfluence) ShouldApply(f *flower.Flower, _ Context) bool {
	return len(f.Memory.Episodic) > 0
}

func (r *MemoryInfluence) Apply(f *flower.Flower, in flower.Interaction, _ Context) {
	matched := RelevantEpisodes(f.Memory.Episodic, in.Input)
	if len(matched) == 0 {
		return
	}
	f.State.MemoryResonance = flower.Float(math.Min(float64(len(matched))/r.ResonanceScale, 1))

	if r.Pull >= r.PullThreshold {
		tones := make([]string, len(matched))
		for i, ep := range matched {
			tones[i] = ep.EmotionalTone
		}
		f.State.CurrentMood = blendMood(f.State.CurrentMood, dominantLabel(tones), r.BlendWeight)
	}
}

func blendMood(current, memory string, weight float64) string {
	if weight > 0.5 && memory != "" {
		return memory
	}
	return current
}

// RelevantEpisodes returns the episodes whose summary shares a
// whitespace-delimited token with input, compared case-insensitively.
func RelevantEpisodes(episodes []flower.Episode, input string) []flower.Episode {
	words := tokenSet(input)
	if len(words) == 0 {
		return nil
	}
	var out []flower.Episode
	for _, ep := range episodes {
		for tok := range tokenSet(ep.Summary) {
			if words[tok] {
				out = append(out, ep)
				break
			}
		}
	}
	return out
}

// InteractionPattern reacts to how varied the recent topics are.
type InteractionPattern struct {
	MinInteractions int
	RepetitiveBelow float64
	DiverseAbove    float64
	TemperatureStep float64
	TemperatureCap  float64
}

func DefaultInteractionPattern() *InteractionPattern {
	return &InteractionPattern{
		MinInteractions: 5,
		RepetitiveBelow: 0.3,
		DiverseAbove:    0.8,
		TemperatureStep: 0.1,
		TemperatureCap:  0.95,
	}
}

func (r *InteractionPattern) Name() string { return "interaction_pattern" }

func (r *InteractionPattern) ShouldApply(_ *flower.Flower, ec Context) bool {
	return ec.InteractionCount > r.MinInteractions
}

func (r *InteractionPattern) Apply(f *flower.Flower, _ flower.Interaction, ec Context) {
	if len(ec.RecentTopics) == 0 {
		return
	}
	ratio := float64(distinct(ec.RecentTopics)) / float64(len(ec.RecentTopics))

	switch {
	case ratio < r.RepetitiveBelow:
		f.State.ConversationMode = flower.ModeExploringVariations
		f.Genome.Temperature = math.Min(f.Genome.Temperature+r.TemperatureStep, r.TemperatureCap)
	case ratio > r.DiverseAbove:
		f.State.ConversationMode = flower.ModeAdaptiveEngagement
	}
}

// EnergyDynamics charges energy for demanding exchanges and lets quiet ones
// restore it. Runs on every interaction.
type EnergyDynamics struct {
	BaseCost         float64
	MaxCost          float64
	LowEnergy        float64 // below this, coherence and temperature degrade
	CoherenceFloor   float64
	TemperatureFloor float64
	DegradeStep      float64
	QuietInputLen    int // inputs shorter than this may restore energy
	Recovery         float64
}

func DefaultEnergyDynamics() *EnergyDynamics {
	return &EnergyDynamics{
		BaseCost:         0.05,
		MaxCost:          0.2,
		LowEnergy:        0.2,
		CoherenceFloor:   0.5,
		TemperatureFloor: 0.3,
		DegradeStep:      0.1,
		QuietInputLen:    50,
		Recovery:         0.05,
	}
}

var (
	intenseWords      = []string{"love", "hate", "desperate", "ecstatic", "terrified"}
	complexIndicators = []string{"explain", "analyze", "compare", "why", "how"}
)

func (r *EnergyDynamics) Name() string { return "energy_dynamics" }

func (r *EnergyDynamics) ShouldApply(*flower.Flower, Context) bool { return true }

func (r *EnergyDynamics) Apply(f *flower.Flower, in flower.Interaction, _ Context) {
	cost := r.Cost(in)
	f.State.EnergyLevel = math.Max(0, f.State.EnergyLevel-cost)

	if f.State.EnergyLevel < r.LowEnergy {
		// both step down to their floors; a coherence already below the floor is lifted to it
		f.State.Coherence = math.Max(r.CoherenceFloor, f.State.Coherence-r.DegradeStep)
		f.Genome.Temperature = math.Max(r.TemperatureFloor, f.Genome.Temperature-r.DegradeStep)
	}

	if utf8.RuneCountInString(in.Input) < r.QuietInputLen && !IsComplexQuery(in.Input) {
		f.State.EnergyLevel = math.Min(1, f.State.EnergyLevel+r.Recovery)
	}
}

// Cost returns the energy an interaction consumes.
func (r *EnergyDynamics) Cost(in flower.Interaction) float64 {
	responseLen := float64(utf8.RuneCountInString(in.Response))
	return math.Min(r.BaseCost+Complexity(in.Input)*0.1+responseLen/10000, r.MaxCost)
}

// Complexity scores an input by questions, length and emotional intensity.
func Complexity(input string) float64 {
	questions := float64(strings.Count(input, "?"))
	words := float64(len(strings.Fields(input)))
	return questions*0.3 + words/100 + EmotionalIntensity(input)*0.4
}

// EmotionalIntensity is the share of intense words present, saturating at three.
func EmotionalIntensity(text string) float64 {
	lower := strings.ToLower(text)
	n := 0
	for _, w := range intenseWords {
		if strings.Contains(lower, w) {
			n++
		}
	}
	return math.Min(float64(n)/3, 1)
}

// IsComplexQuery reports whether the input asks for explanation or analysis.
func IsComplexQuery(input string) bool {
	lower := strings.ToLower(input)
	for _, ind := range complexIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

func tail(s []string, n int) []string {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

func distinct(s []string) int {
	seen := make(map[string]struct{}, len(s))
	for _, v := range s {
		seen[v] = struct{}{}
	}
	return len(seen)
}

// dominantLabel returns the most frequent label; ties go to the label seen
// first.
func dominantLabel(labels []string) string {
	counts := make(map[string]int, len(labels))
	best, bestCount := "", 0
	for _, l := range labels {
		counts[l]++
	}
	for _, l := range labels {
		if counts[l] > bestCount {
			best, bestCount = l, counts[l]
		}
	}
	return best
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, `.,;:!?"'()[]{}`)
		if w != "" {
			set[w] = true
		}
	}
	return set
}
