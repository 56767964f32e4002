//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("FLWR_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3210"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// call sends a JSON request and decodes the response into out.
func call(t *testing.T, method, path string, in, out interface{}) int {
	t.Helper()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, string(raw))
		}
	}
	return resp.StatusCode
}

type seedResponse struct {
	FlowerID string `json:"flowerId"`
	Status   string `json:"status"`
}

type bloomResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type tendResponse struct {
	Response string `json:"response"`
	State    struct {
		CurrentMood string  `json:"currentMood"`
		EnergyLevel float64 `json:"energyLevel"`
	} `json:"state"`
}

func TestHealth(t *testing.T) {
	var out map[string]interface{}
	if code := call(t, http.MethodGet, "/api/health", nil, &out); code != http.StatusOK {
		t.Fatalf("health: status %d", code)
	}
	if out["status"] != "ok" {
		t.Errorf("expected status ok, got: %v", out["status"])
	}
}

func TestFlowerLifecycle(t *testing.T) {
	var seeded seedResponse
	code := call(t, http.MethodPost, "/api/flowers/seed", map[string]interface{}{
		"type":   "smoke",
		"traits": []string{"curious"},
	}, &seeded)
	if code != http.StatusCreated {
		t.Fatalf("seed: status %d", code)
	}
	if !strings.HasPrefix(seeded.FlowerID, "smoke_") {
		t.Fatalf("unexpected flower id %q", seeded.FlowerID)
	}
	id := seeded.FlowerID
	t.Cleanup(func() { call(t, http.MethodDelete, "/api/flowers/"+id+"/wilt", nil, nil) })

	var bloomed bloomResponse
	if code := call(t, http.MethodPost, "/api/flowers/"+id+"/bloom", nil, &bloomed); code != http.StatusOK {
		t.Fatalf("bloom: status %d", code)
	}

	var tended tendResponse
	code = call(t, http.MethodPost, "/api/flowers/"+id+"/tend", map[string]string{
		"sessionId": bloomed.SessionID,
		"message":   "hello, little flower",
	}, &tended)
	if code != http.StatusOK {
		t.Fatalf("tend: status %d", code)
	}
	if len(tended.Response) == 0 {
		t.Error("expected a non-empty response")
	}
	if tended.State.EnergyLevel < 0 || tended.State.EnergyLevel > 1 {
		t.Errorf("energy out of range: %v", tended.State.EnergyLevel)
	}
	t.Logf("reply: %.200s (mood %s)", tended.Response, tended.State.CurrentMood)

	var doc map[string]interface{}
	if code := call(t, http.MethodGet, "/api/flowers/"+id, nil, &doc); code != http.StatusOK {
		t.Fatalf("get: status %d", code)
	}
	mem, _ := doc["memory"].(map[string]interface{})
	if st, _ := mem["shortTerm"].([]interface{}); len(st) != 1 {
		t.Errorf("expected one short-term memory, got %d", len(st))
	}

	if code := call(t, http.MethodDelete, "/api/flowers/"+id+"/wilt", nil, nil); code != http.StatusOK {
		t.Fatalf("wilt: status %d", code)
	}
	code = call(t, http.MethodPost, "/api/flowers/"+id+"/tend", map[string]string{
		"sessionId": bloomed.SessionID,
		"message":   "still there?",
	}, nil)
	if code != http.StatusNotFound {
		t.Errorf("expected 404 after wilt, got %d", code)
	}
}

func TestUnknownFlower(t *testing.T) {
	if code := call(t, http.MethodPost, "/api/flowers/nope_000000/bloom", nil, nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}
