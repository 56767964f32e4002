// Package encoder turns flower state and recent memory into prompt context
// and derives the next emotional state from an interaction.
package encoder

import (
	"fmt"
	"math"
	"strings"

	"github.com/nidhogg/flowerbed/internal/flower"
)

// RecentWindow is the number of short-term fragments rendered into context.
const RecentWindow = 5

var (
	positiveWords = map[string]bool{"happy": true, "joy": true, "love": true, "beautiful": true}
	negativeWords = map[string]bool{"sad": true, "angry": true, "fear": true, "worried": true}
)

// Encode renders the flower's state line followed by its most recent
// short-term memories, oldest first.
func Encode(f *flower.Flower) string {
	recent := f.Memory.ShortTerm
	if len(recent) > RecentWindow {
		recent = recent[len(recent)-RecentWindow:]
	}
	contents := make([]string, len(recent))
	for i, m := range recent {
		contents[i] = m.Content
	}

	text := fmt.Sprintf("Current state: %s\nRecent memories:\n%s",
		DescribeState(f.State), strings.Join(contents, "\n"))
	return strings.TrimSpace(text)
}

// DescribeState renders a one-line description of the state.
func DescribeState(s flower.State) string {
	intensity := "somewhat"
	if s.EnergyLevel > 0.7 {
		intensity = "very"
	}
	return fmt.Sprintf("The flower is %s %s", intensity, s.CurrentMood)
}

// UpdateState derives the next state from an interaction outcome. Only mood,
// energy and coherence change; every other field is carried over.
func UpdateState(current flower.State, input, response string) flower.State {
	next := current
	next.CurrentMood = evolveMood(current.CurrentMood, Sentiment(input+" "+response))
	next.EnergyLevel = math.Max(0, current.EnergyLevel-0.1)
	next.Coherence = Coherence(response)
	return next
}

// Sentiment counts positive minus negative lexicon hits.
func Sentiment(text string) int {
	score := 0
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, wordPunct)
		if positiveWords[w] {
			score++
		}
		if negativeWords[w] {
			score--
		}
	}
	return score
}

// Coherence scores a response by sentence count, saturating at five.
func Coherence(response string) float64 {
	return math.Min(1, float64(SentenceCount(response))/5)
}

// SentenceCount splits on terminal punctuation and ignores blank segments.
func SentenceCount(text string) int {
	n := 0
	for _, s := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

const wordPunct = `.,;:!?"'()[]{}`

func evolveMood(current string, sentiment int) string {
	switch {
	case sentiment > 2:
		return flower.MoodJoyful
	case sentiment < -2:
		return flower.MoodMelancholic
	case sentiment == 0:
		return flower.MoodContemplative
	}
	return current
}
