package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var chatServer string

var chatCmd = &cobra.Command{
	Use:   "chat <flower-id>",
	Short: "Bloom a flower on a running server and tend it interactively",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatServer, "server", "http://localhost:3210", "flowerbed server URL")
}

func runChat(cmd *cobra.Command, args []string) error {
	c := newChatClient(chatServer)
	out := cmd.OutOrStdout()

	sessionID, err := c.bloom(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Blooming %s (session %s)\n", args[0], sessionID)
	fmt.Fprintln(out, "Type 'exit' or 'quit' to leave. Commands: /state, /events")
	fmt.Fprintln(out, "---")

	return c.loop(cmd.InOrStdin(), out, args[0], sessionID)
}

// chatClient talks to the HTTP API of a running server.
type chatClient struct {
	server string
	http   *http.Client
}

func newChatClient(server string) *chatClient {
	return &chatClient{
		server: strings.TrimRight(server, "/"),
		http:   &http.Client{Timeout: 65 * time.Second},
	}
}

func (c *chatClient) loop(in io.Reader, out io.Writer, flowerID, sessionID string) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return nil
		case "/state":
			if err := c.printState(out, flowerID); err != nil {
				fmt.Fprintf(out, "state failed: %v\n", err)
			}
			continue
		case "/events":
			if err := c.printEvents(out, flowerID); err != nil {
				fmt.Fprintf(out, "events failed: %v\n", err)
			}
			continue
		}

		reply, mood, err := c.tend(flowerID, sessionID, input)
		if err != nil {
			fmt.Fprintf(out, "tend failed: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "[%s] %s\n", mood, reply)
	}
}

func (c *chatClient) bloom(flowerID string) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(http.MethodPost, "/api/flowers/"+flowerID+"/bloom", nil, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

func (c *chatClient) tend(flowerID, sessionID, message string) (string, string, error) {
	var resp struct {
		Response string `json:"response"`
		State    struct {
			CurrentMood string `json:"currentMood"`
		} `json:"state"`
	}
	req := map[string]string{"sessionId": sessionID, "message": message}
	if err := c.do(http.MethodPost, "/api/flowers/"+flowerID+"/tend", req, &resp); err != nil {
		return "", "", err
	}
	return resp.Response, resp.State.CurrentMood, nil
}

func (c *chatClient) printState(out io.Writer, flowerID string) error {
	var ev struct {
		State struct {
			CurrentMood   string  `json:"currentMood"`
			EnergyLevel   float64 `json:"energyLevel"`
			Coherence     float64 `json:"coherence"`
			EmergentState string  `json:"emergentState"`
		} `json:"state"`
		Memory struct {
			ShortTerm int `json:"shortTermCount"`
			LongTerm  int `json:"longTermCount"`
			Episodic  int `json:"episodicCount"`
		} `json:"memory"`
	}
	if err := c.do(http.MethodGet, "/api/flowers/"+flowerID+"/sync", nil, &ev); err != nil {
		return err
	}
	s := ev.State
	fmt.Fprintf(out, "mood=%s energy=%.2f coherence=%.2f", s.CurrentMood, s.EnergyLevel, s.Coherence)
	if s.EmergentState != "" {
		fmt.Fprintf(out, " emergent=%s", s.EmergentState)
	}
	fmt.Fprintf(out, "\nmemory: short=%d long=%d episodes=%d\n", ev.Memory.ShortTerm, ev.Memory.LongTerm, ev.Memory.Episodic)
	return nil
}

func (c *chatClient) printEvents(out io.Writer, flowerID string) error {
	var evs []struct {
		Type      string    `json:"type"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := c.do(http.MethodGet, "/api/flowers/"+flowerID+"/events?limit=10", nil, &evs); err != nil {
		return err
	}
	for _, ev := range evs {
		fmt.Fprintf(out, "  %s %s\n", ev.Timestamp.Format(time.Kitchen), ev.Type)
	}
	return nil
}

func (c *chatClient) do(method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.server+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
