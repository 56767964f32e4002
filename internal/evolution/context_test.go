package evolution

import (
	"testing"
	"time"
)

func TestTrackerObserveIsValue(t *testing.T) {
	tr := NewTracker(3, epoch)
	next := tr.Observe("joyful", "gardens are lovely")

	if tr.Count() != 0 || len(tr.Context(epoch).EmotionalTrajectory) != 0 {
		t.Fatalf("observe must not modify the receiver")
	}
	ec := next.Context(epoch.Add(90 * time.Second))
	if ec.InteractionCount != 1 || ec.SessionDuration != 90*time.Second {
		t.Fatalf("got %+v", ec)
	}
	if len(ec.RecentTopics) != 1 || ec.RecentTopics[0] != "gardens" {
		t.Fatalf("got topics %v", ec.RecentTopics)
	}
}

func TestTrackerWindow(t *testing.T) {
	tr := NewTracker(3, epoch)
	for _, mood := range []string{"a", "b", "c", "d", "e"} {
		tr = tr.Observe(mood, "topic "+mood)
	}
	ec := tr.Context(epoch)
	if ec.InteractionCount != 5 {
		t.Fatalf("got count %d, want 5", ec.InteractionCount)
	}
	if got := ec.EmotionalTrajectory; len(got) != 3 || got[0] != "c" || got[2] != "e" {
		t.Fatalf("got trajectory %v, want [c d e]", got)
	}
	if len(ec.RecentTopics) != 3 {
		t.Fatalf("got %d topics, want 3", len(ec.RecentTopics))
	}
}

func TestTrackerZeroValue(t *testing.T) {
	var tr Tracker
	tr = tr.Observe("joyful", "hello world")
	ec := tr.Context(epoch)
	if ec.InteractionCount != 1 || ec.SessionDuration != 0 {
		t.Fatalf("got %+v", ec)
	}
}

func TestTopic(t *testing.T) {
	tests := map[string]string{
		"How are you doing today?": "doing",
		"the cat":                  "cat",
		"hi ok":                    "",
		"Tell me about Roses":      "about",
	}
	for input, want := range tests {
		if got := Topic(input); got != want {
			t.Fatalf("Topic(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestKeywordsLimit(t *testing.T) {
	got := Keywords("roses roses tulips daisies lilies", 3)
	if len(got) != 3 || got[0] != "roses" || got[1] != "tulips" {
		t.Fatalf("got %v", got)
	}
}
