package memory

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/nidhogg/flowerbed/internal/flower"
)

// Policy controls tier sizes and promotion thresholds.
type Policy struct {
	ShortTermLimit    int     // overflow check fires when short-term exceeds this
	RetainAfterTrim   int     // short-term entries kept after an overflow
	PromoteMax        int     // fragments promoted to long-term per overflow
	PromoteThreshold  float64 // strict lower bound for promotion
	EpisodeThreshold  float64 // strict lower bound for episode creation
	SummaryExcerptLen int     // runes of input kept in episode summaries
}

// DefaultPolicy returns the standard retention policy.
func DefaultPolicy() Policy {
	return Policy{
		ShortTermLimit:    10,
		RetainAfterTrim:   8,
		PromoteMax:        2,
		PromoteThreshold:  0.7,
		EpisodeThreshold:  0.8,
		SummaryExcerptLen: 50,
	}
}

// Outcome describes what a single Record call did to the tiers.
type Outcome struct {
	Fragment flower.Fragment
	Promoted []flower.Fragment
	Trimmed  bool
	Episode  *flower.Episode
}

var emphasisKeywords = []string{"important", "remember", "never forget", "always"}

// toneKeywords is checked in order; the first tone with a hit wins.
var toneKeywords = []struct {
	tone  string
	words []string
}{
	{flower.MoodJoyful, []string{"happy", "joy"}},
	{flower.MoodMelancholic, []string{"sad", "cry"}},
	{flower.MoodTense, []string{"angry", "frustrated"}},
}

// Importance scores an interaction in [0,1]: half a point at most for
// combined length, plus 0.2 for each emphasis keyword in the input. The score
// is rounded to six decimals so threshold comparisons behave exactly.
func Importance(in flower.Interaction) float64 {
	length := utf8.RuneCountInString(in.Input) + utf8.RuneCountInString(in.Response)
	score := math.Min(float64(length)/500, 0.5)

	lower := strings.ToLower(in.Input)
	hits := 0
	for _, kw := range emphasisKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	score += float64(hits) * 0.2

	return math.Min(round6(score), 1)
}

// EmotionalTone maps an interaction onto the episode tone vocabulary.
func EmotionalTone(in flower.Interaction) string {
	text := strings.ToLower(in.Input + in.Response)
	for _, tk := range toneKeywords {
		for _, w := range tk.words {
			if strings.Contains(text, w) {
				return tk.tone
			}
		}
	}
	return flower.MoodNeutral
}

// Summarize returns a bounded excerpt of the input for an episode summary.
func (p Policy) Summarize(in flower.Interaction) string {
	return "Discussed: " + truncateRunes(in.Input, p.SummaryExcerptLen) + "..."
}

// FormatFragment renders an interaction as short-term memory content.
func FormatFragment(in flower.Interaction) string {
	return fmt.Sprintf("User: %s\nFlower: %s", in.Input, in.Response)
}

// Record applies the retention policy to mem for one interaction. It depends
// only on its arguments; the interaction timestamp is the only clock.
func (p Policy) Record(mem *flower.Memory, in flower.Interaction) Outcome {
	frag := flower.Fragment{
		Content:    FormatFragment(in),
		Timestamp:  in.Timestamp,
		Importance: Importance(in),
	}
	out := Outcome{Fragment: frag}

	mem.ShortTerm = append(mem.ShortTerm, frag)

	if len(mem.ShortTerm) > p.ShortTermLimit {
		for _, f := range mem.ShortTerm {
			if len(out.Promoted) >= p.PromoteMax {
				break
			}
			if f.Importance > p.PromoteThreshold {
				out.Promoted = append(out.Promoted, f)
			}
		}
		mem.LongTerm = append(mem.LongTerm, out.Promoted...)

		start := len(mem.ShortTerm) - p.RetainAfterTrim
		if start < 0 {
			start = 0
		}
		keep := mem.ShortTerm[start:]
		mem.ShortTerm = append(make([]flower.Fragment, 0, p.ShortTermLimit+1), keep...)
		out.Trimmed = true
	}

	if frag.Importance > p.EpisodeThreshold {
		ep := flower.Episode{
			ID:            fmt.Sprintf("ep_%d_%d", in.Timestamp.UnixMilli(), len(mem.Episodic)),
			Fragments:     []flower.Fragment{frag},
			Summary:       p.Summarize(in),
			EmotionalTone: EmotionalTone(in),
		}
		mem.Episodic = append(mem.Episodic, ep)
		out.Episode = &ep
	}
	return out
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
