package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// mockUpstream returns a Client pointed at an httptest server running handler.
func mockUpstream(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithBaseURL("test-key", "test-model", 0.7, srv.URL)
}

func TestChat(t *testing.T) {
	c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "test-model" {
			t.Errorf("model = %v", req["model"])
		}
		if req["stream"] != nil {
			t.Errorf("stream set on non-streaming request: %v", req["stream"])
		}

		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Hello!"}}]}`)
	})

	got, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "Hello!" {
		t.Errorf("response = %q, want Hello!", got)
	}
}

func TestChatUpstreamError(t *testing.T) {
	c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	})

	_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("Chat succeeded against failing upstream")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %v, want status in message", err)
	}
}

// TestStreamDeltas verifies SSE frames are unwrapped into bare text fragments
// in arrival order with no framing left over.
func TestStreamDeltas(t *testing.T) {
	frames := []string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo, "}}]}`,
		``,
		`: keep-alive comment`,
		`data: {"choices":[{"delta":{"content":"world"}}]}`,
		``,
		`data: [DONE]`,
		``,
	}
	c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["stream"] != true {
			t.Errorf("stream = %v, want true", req["stream"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintln(w, f)
		}
	})

	rc, err := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if string(got) != "Hello, world" {
		t.Errorf("stream = %q, want %q", got, "Hello, world")
	}
}

// TestStreamEmptyDeltasSkipped covers role-only first chunks and empty deltas.
func TestStreamEmptyDeltasSkipped(t *testing.T) {
	c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	rc, err := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer rc.Close()

	got, _ := io.ReadAll(rc)
	if string(got) != "ok" {
		t.Errorf("stream = %q, want %q", got, "ok")
	}
}

func TestStreamUpstreamRejects(t *testing.T) {
	c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})

	if _, err := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Fatal("Stream succeeded against rejecting upstream")
	}
}

// TestStreamAbandoned closes the reader mid-stream; the relay goroutine must
// not wedge on the pipe.
func TestStreamAbandoned(t *testing.T) {
	c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
			flusher.Flush()
		}
	})

	rc, err := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := rc.Read(buf); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
