package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nidhogg/flowerbed/internal/api"
	"github.com/nidhogg/flowerbed/internal/config"
	"github.com/nidhogg/flowerbed/internal/flower"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*app, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Storage.Driver = "memory"

	a, err := newApp(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.Close)

	h := api.NewHandler(a.engine, a.jobs, a.hub, nil, zap.NewNop())
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return a, srv
}

func TestChatLoop(t *testing.T) {
	a, srv := newTestServer(t)
	f, err := a.engine.Seed(context.Background(), flower.Config{Type: "fern"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	c := newChatClient(srv.URL + "/")
	sessionID, err := c.bloom(f.ID)
	if err != nil {
		t.Fatalf("bloom: %v", err)
	}

	in := strings.NewReader("hello fern\n\n/state\n/events\nquit\nnever read\n")
	var out bytes.Buffer
	if err := c.loop(in, &out, f.ID, sessionID); err != nil {
		t.Fatalf("loop: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"I hear you: hello fern",
		"memory: short=1 long=0 episodes=0",
		"flower:response",
		"Bye!",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestChatUnknownFlower(t *testing.T) {
	_, srv := newTestServer(t)
	_, err := newChatClient(srv.URL).bloom("missing_000000")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("got %v, want a 404 error", err)
	}
}
