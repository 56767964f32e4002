package flower

import (
	"time"
)

// Mood labels used by the state encoder, evolution rules and episode tones.
const (
	MoodNeutral       = "neutral"
	MoodJoyful        = "joyful"
	MoodContemplative = "contemplative"
	MoodMelancholic   = "melancholic"
	MoodAnxious       = "anxious"
	MoodPeaceful      = "peaceful"
	MoodTense         = "tense"
)

// Emergent states and conversation modes written by the evolution engine.
const (
	EmergentProfoundIntrospection = "profound_introspection"
	EmergentRadiantCompassion     = "radiant_compassion"

	ModeExploringVariations = "exploring_variations"
	ModeAdaptiveEngagement  = "adaptive_engagement"
)

// Flower is a persistent, evolving conversational agent.
type Flower struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Version  string   `json:"version"`
	Metadata Metadata `json:"metadata"`
	Genome   Genome   `json:"genome"`
	Memory   Memory   `json:"memory"`
	State    State    `json:"state"`
}

// Metadata tracks lifecycle bookkeeping for a flower.
type Metadata struct {
	Created          time.Time         `json:"created"`
	LastBloomed      *time.Time        `json:"lastBloomed"`
	BloomCount       int               `json:"bloomCount"`
	EvolutionHistory []EvolutionRecord `json:"evolutionHistory"`
	Archived         bool              `json:"archived,omitempty"`
	ArchivedAt       *time.Time        `json:"archivedAt,omitempty"`
	ArchiveReason    string            `json:"archiveReason,omitempty"`
}

// Genome is the configuration a flower was seeded with. Temperature drifts
// through evolution; the rest is fixed.
type Genome struct {
	BaseModel    string   `json:"baseModel"`
	Temperature  float64  `json:"temperature"`
	SystemPrompt string   `json:"systemPrompt"`
	Traits       []string `json:"traits"`
}

// HasTrait reports whether the genome carries the named trait.
func (g Genome) HasTrait(name string) bool {
	for _, t := range g.Traits {
		if t == name {
			return true
		}
	}
	return false
}

// Memory holds the three memory tiers.
type Memory struct {
	ShortTerm []Fragment `json:"shortTerm"`
	LongTerm  []Fragment `json:"longTerm"`
	Episodic  []Episode  `json:"episodic"`
}

// Fragment is a single remembered exchange.
type Fragment struct {
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Importance float64   `json:"importance"`
}

// Episode groups fragments of a significant interaction.
type Episode struct {
	ID            string     `json:"id"`
	Fragments     []Fragment `json:"fragments"`
	Summary       string     `json:"summary"`
	EmotionalTone string     `json:"emotionalTone"`
}

// State is the mutable emotional state of a flower. Optional fields are
// pointers so that "never set" and "set to zero" stay distinguishable in the
// persisted document.
type State struct {
	CurrentMood      string   `json:"currentMood"`
	EnergyLevel      float64  `json:"energyLevel"`
	Coherence        float64  `json:"coherence"`
	EmergentState    string   `json:"emergentState,omitempty"`
	EmotionalInertia *float64 `json:"emotionalInertia,omitempty"`
	MemoryResonance  *float64 `json:"memoryResonance,omitempty"`
	ConversationMode string   `json:"conversationMode,omitempty"`
}

// EvolutionRecord is one entry of the evolution audit trail.
type EvolutionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Changes   Changes   `json:"changes"`
	Trigger   string    `json:"trigger"`
}

// Changes flags which aspects of a flower moved during one evolution pass.
type Changes struct {
	Mood     bool `json:"mood"`
	Energy   bool `json:"energy"`
	Traits   bool `json:"traits"`
	Emergent bool `json:"emergent"`
}

// Interaction is one input/response exchange.
type Interaction struct {
	Input     string    `json:"input"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// InteractionLog is the durable trace of one successful tend.
type InteractionLog struct {
	ID             string    `json:"id"`
	FlowerID       string    `json:"flowerId"`
	SessionID      string    `json:"sessionId"`
	Input          string    `json:"input"`
	Response       string    `json:"response"`
	Model          string    `json:"model"`
	TokensUsed     int       `json:"tokensUsed"`
	ResponseTimeMS int64     `json:"responseTime"`
	StateBefore    State     `json:"stateBefore"`
	StateAfter     State     `json:"stateAfter"`
	Timestamp      time.Time `json:"timestamp"`
}

// Config is the seed request for a new flower.
type Config struct {
	Type         string   `json:"type"`
	BaseModel    string   `json:"baseModel,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Traits       []string `json:"traits,omitempty"`
}

// Float returns a pointer to v, for the optional State fields.
func Float(v float64) *float64 { return &v }

// Clone returns a deep copy of f. Sessions own their flower exclusively, so
// every pipeline step works on a copy and only a successful pass is committed.
func (f *Flower) Clone() *Flower {
	if f == nil {
		return nil
	}
	c := *f

	if f.Metadata.LastBloomed != nil {
		t := *f.Metadata.LastBloomed
		c.Metadata.LastBloomed = &t
	}
	if f.Metadata.ArchivedAt != nil {
		t := *f.Metadata.ArchivedAt
		c.Metadata.ArchivedAt = &t
	}
	c.Metadata.EvolutionHistory = append(make([]EvolutionRecord, 0, len(f.Metadata.EvolutionHistory)), f.Metadata.EvolutionHistory...)
	c.Genome.Traits = append(make([]string, 0, len(f.Genome.Traits)), f.Genome.Traits...)

	c.Memory = f.Memory.Clone()

	if f.State.EmotionalInertia != nil {
		c.State.EmotionalInertia = Float(*f.State.EmotionalInertia)
	}
	if f.State.MemoryResonance != nil {
		c.State.MemoryResonance = Float(*f.State.MemoryResonance)
	}
	return &c
}

// Clone returns a deep copy of the memory tiers. Empty tiers stay non-nil so
// they encode as [] rather than null.
func (m Memory) Clone() Memory {
	out := Memory{
		ShortTerm: append(make([]Fragment, 0, len(m.ShortTerm)), m.ShortTerm...),
		LongTerm:  append(make([]Fragment, 0, len(m.LongTerm)), m.LongTerm...),
		Episodic:  make([]Episode, 0, len(m.Episodic)),
	}
	for _, ep := range m.Episodic {
		ep.Fragments = append(make([]Fragment, 0, len(ep.Fragments)), ep.Fragments...)
		out.Episodic = append(out.Episodic, ep)
	}
	return out
}
