package api

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestStreamRelaysUpstreamBytes(t *testing.T) {
	h := newTestHandler(t, &fakeLLM{streamBody: "Hello, world"})

	body := `{"messages":[{"role":"system","content":"be kind"},{"role":"user","content":"hi"}]}`
	rr := do(t, h, http.MethodPost, "/ai/stream", body)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/plain; charset=utf-8", ct)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
	if got := rr.Body.String(); got != "Hello, world" {
		t.Errorf("body = %q, want %q", got, "Hello, world")
	}
}

func TestStreamInvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{invalid`},
		{"missing messages", `{}`},
		{"messages null", `{"messages":null}`},
		{"messages not array", `{"messages":"hi"}`},
		{"messages object", `{"messages":{"role":"user"}}`},
		{"bad role", `{"messages":[{"role":"wizard","content":"hi"}]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeLLM{streamBody: "should not be reached"})

			rr := do(t, h, http.MethodPost, "/ai/stream", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
			}
			if got := rr.Body.String(); got != "Invalid payload" {
				t.Errorf("body = %q, want %q", got, "Invalid payload")
			}
			if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("Content-Type = %q, want text/plain", ct)
			}
		})
	}
}

func TestStreamEmptyMessagesAllowed(t *testing.T) {
	h := newTestHandler(t, &fakeLLM{streamBody: "ok"})

	rr := do(t, h, http.MethodPost, "/ai/stream", `{"messages":[]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if got := rr.Body.String(); got != "ok" {
		t.Errorf("body = %q, want %q", got, "ok")
	}
}

func TestStreamUpstreamFailure(t *testing.T) {
	h := newTestHandler(t, &fakeLLM{streamErr: errors.New("connection refused")})

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	rr := do(t, h, http.MethodPost, "/ai/stream", body)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestStreamRequiresAuth(t *testing.T) {
	h := newTestHandler(t, &fakeLLM{})

	rr := doUnauthenticated(t, h, http.MethodPost, "/ai/stream",
		`{"messages":[{"role":"user","content":"hi"}]}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}
