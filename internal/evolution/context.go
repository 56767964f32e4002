package evolution

import (
	"strings"
	"time"
)

// DefaultWindow bounds how far back the trajectory and topics reach.
const DefaultWindow = 10

// Context is the derived, per-session view the rules read.
type Context struct {
	InteractionCount    int           `json:"interactionCount"`
	SessionDuration     time.Duration `json:"sessionDuration"`
	EmotionalTrajectory []string      `json:"emotionalTrajectory"`
	RecentTopics        []string      `json:"recentTopics"`
}

// Tracker accumulates a session's evolution context. It is a value type:
// Observe returns a new Tracker so a failed interaction can be discarded
// without touching the session's copy.
type Tracker struct {
	window     int
	count      int
	started    time.Time
	trajectory []string
	topics     []string
}

// NewTracker starts tracking a session that began at started.
func NewTracker(window int, started time.Time) Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return Tracker{window: window, started: started}
}

// Observe records one interaction: the mood it left the flower in and the
// topic of its input.
func (t Tracker) Observe(mood, input string) Tracker {
	if t.window <= 0 {
		t.window = DefaultWindow
	}
	next := t
	next.count++
	next.trajectory = pushBounded(t.trajectory, mood, t.window)
	if topic := Topic(input); topic != "" {
		next.topics = pushBounded(t.topics, topic, t.window)
	} else {
		next.topics = append([]string(nil), t.topics...)
	}
	return next
}

// Context snapshots the tracker as of now.
func (t Tracker) Context(now time.Time) Context {
	var d time.Duration
	if !t.started.IsZero() {
		d = now.Sub(t.started)
	}
	return Context{
		InteractionCount:    t.count,
		SessionDuration:     d,
		EmotionalTrajectory: append([]string(nil), t.trajectory...),
		RecentTopics:        append([]string(nil), t.topics...),
	}
}

// Count returns the number of observed interactions.
func (t Tracker) Count() int { return t.count }

func pushBounded(s []string, v string, max int) []string {
	out := make([]string, 0, max)
	out = append(out, s...)
	out = append(out, v)
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// Topic returns the leading keyword of an input, or "" if it has none.
func Topic(input string) string {
	kws := Keywords(input, 1)
	if len(kws) == 0 {
		return ""
	}
	return kws[0]
}

// Keywords does a simple keyword extraction from text.
// Splits on whitespace/punctuation, filters short words and stopwords.
func Keywords(text string, limit int) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})

	seen := make(map[string]bool)
	var result []string
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) < 3 || stopwords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		result = append(result, lower)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true,
	"but": true, "not": true, "you": true, "all": true,
	"can": true, "had": true, "her": true, "was": true,
	"one": true, "our": true, "out": true, "has": true,
	"have": true, "been": true, "this": true, "that": true,
	"with": true, "from": true, "they": true, "will": true,
	"what": true, "when": true, "make": true, "like": true,
	"just": true, "into": true, "than": true, "them": true,
	"some": true, "could": true, "would": true, "there": true,
	"how": true, "why": true, "who": true, "tell": true,
}
