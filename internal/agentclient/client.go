package agentclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client talks to the agent's HTTP control surface and SSE event stream.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client pointed at the agent's base URL (OPENCODE_URL).
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 0}, // streaming connection: no blanket timeout
	}
}

// Events opens the SSE stream and returns a channel of decoded Events. The
// channel is closed when ctx is cancelled. Connection drops are retried
// with backoff, the same reconnect-loop shape the opencode-compatible
// clients in the corpus use for this protocol.
func (c *Client) Events(ctx context.Context) <-chan Event {
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		backoff := time.Second
		for {
			if ctx.Err() != nil {
				return
			}
			if err := c.connectAndRead(ctx, out); err != nil {
				log.Printf("[agentclient] event stream error: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}
	}()
	return out
}

func (c *Client) connectAndRead(ctx context.Context, out chan<- Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return fmt.Errorf("build event request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if strings.TrimSpace(data) == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			log.Printf("[agentclient] malformed event, skipping: %v", err)
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PromptPart is one part of a prompt: text, or a file given as a data URL.
type PromptPart struct {
	Type string `json:"type"` // "text" or "file"
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"` // data-URL for file parts
	Mime string `json:"mime,omitempty"`
}

type promptRequest struct {
	SessionID string       `json:"sessionId"`
	Parts     []PromptPart `json:"parts"`
	Model     *ModelRef    `json:"model,omitempty"`
	Command   string       `json:"command,omitempty"`
}

// Prompt submits a new user turn to the agent session.
func (c *Client) Prompt(ctx context.Context, sessionID string, parts []PromptPart, model *ModelRef) error {
	return c.postJSON(ctx, "/session/prompt", promptRequest{SessionID: sessionID, Parts: parts, Model: model}, nil)
}

// Command forwards a named command (/plan, /build, /review) to the agent.
func (c *Client) Command(ctx context.Context, sessionID, command, arg string) error {
	var parts []PromptPart
	if arg != "" {
		parts = []PromptPart{{Type: "text", Text: arg}}
	}
	return c.postJSON(ctx, "/session/prompt", promptRequest{SessionID: sessionID, Parts: parts, Command: command}, nil)
}

// Abort cancels the in-flight turn for a session.
func (c *Client) Abort(ctx context.Context, sessionID string) error {
	return c.postJSON(ctx, "/session/abort", map[string]string{"sessionId": sessionID}, nil)
}

// QuestionReply answers an outstanding question.asked request.
func (c *Client) QuestionReply(ctx context.Context, requestID string, answers [][]string) error {
	return c.postJSON(ctx, "/question/reply", map[string]any{"requestId": requestID, "answers": answers}, nil)
}

// QuestionReject cancels an outstanding question.
func (c *Client) QuestionReject(ctx context.Context, requestID string) error {
	return c.postJSON(ctx, "/question/reject", map[string]string{"requestId": requestID}, nil)
}

// PermissionDecision is one of "once", "always", "reject".
type PermissionDecision string

const (
	PermissionOnce    PermissionDecision = "once"
	PermissionAlways  PermissionDecision = "always"
	PermissionReject  PermissionDecision = "reject"
)

// PermissionReply answers an outstanding permission.asked request.
func (c *Client) PermissionReply(ctx context.Context, requestID string, decision PermissionDecision) error {
	return c.postJSON(ctx, "/permission/reply", map[string]string{"requestId": requestID, "decision": string(decision)}, nil)
}

// ListModels fetches the agent-known provider/model pairs (/model list).
func (c *Client) ListModels(ctx context.Context) ([]ModelRef, error) {
	var result struct {
		Models []ModelRef `json:"models"`
	}
	if err := c.getJSON(ctx, "/model/list", &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// TitleRequest asks the agent to generate a title for the first user
// message of a nameless session (§4.7).
func (c *Client) TitleRequest(ctx context.Context, sessionID, firstMessage string) (TitleResult, error) {
	var result TitleResult
	err := c.postJSON(ctx, "/session/title", map[string]string{"sessionId": sessionID, "text": firstMessage}, &result)
	return result, err
}

// ExternalURL returns the agent's externally-visible URL, if any, for the
// /connect command. Empty string means none is configured/available.
func (c *Client) ExternalURL(ctx context.Context) string {
	var result struct {
		URL string `json:"url"`
	}
	if err := c.getJSON(ctx, "/connect", &result); err != nil {
		return ""
	}
	return result.URL
}
