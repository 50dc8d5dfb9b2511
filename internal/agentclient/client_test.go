package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPromptPostsPartsAndModel(t *testing.T) {
	var captured promptRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/prompt" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	model := &ModelRef{Provider: "anthropic", Model: "claude"}
	parts := []PromptPart{{Type: "text", Text: "hello"}}

	if err := c.Prompt(context.Background(), "sess-1", parts, model); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if captured.SessionID != "sess-1" || len(captured.Parts) != 1 || captured.Parts[0].Text != "hello" {
		t.Fatalf("unexpected captured request: %+v", captured)
	}
	if captured.Model == nil || captured.Model.Model != "claude" {
		t.Fatalf("expected model to be forwarded, got %+v", captured.Model)
	}
}

func TestAbortPostsSessionID(t *testing.T) {
	var captured map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.Abort(context.Background(), "sess-9"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if captured["sessionId"] != "sess-9" {
		t.Fatalf("expected sessionId sess-9, got %+v", captured)
	}
}

func TestPostJSONSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("unauthorized"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Abort(context.Background(), "sess-1")
	if err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}

func TestExternalURLReturnsEmptyOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if got := c.ExternalURL(context.Background()); got != "" {
		t.Fatalf("expected empty string on error, got %q", got)
	}
}

func TestExternalURLReturnsConfiguredURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://example.com/tunnel"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if got := c.ExternalURL(context.Background()); got != "https://example.com/tunnel" {
		t.Fatalf("expected configured URL, got %q", got)
	}
}

func TestListModelsDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []ModelRef{{Provider: "openai", Model: "gpt"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].Provider != "openai" {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestTitleRequestDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TitleResult{Type: "title", Value: "Fix the bug"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.TitleRequest(context.Background(), "sess-1", "please fix the bug")
	if err != nil {
		t.Fatalf("TitleRequest: %v", err)
	}
	if result.Type != "title" || result.Value != "Fix the bug" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestEventsDecodesSSEStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		w.Write([]byte(`data: {"type":"session.idle","sessionId":"sess-1"}` + "\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events := c.Events(ctx)
	select {
	case ev := <-events:
		if ev.Type != EventSessionIdle || ev.SessionID != "sess-1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}
