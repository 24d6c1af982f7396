package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/mkalen/rapport/internal/journey"
	"github.com/mkalen/rapport/internal/llm"
)

const maxRequestBodySize = 1 << 20 // 1MB

// LLMClient abstracts the chat-completion service so tests can substitute a
// fake. Implemented by llm.Client.
type LLMClient interface {
	Chat(ctx context.Context, messages []llm.Message) (string, error)
	Stream(ctx context.Context, messages []llm.Message) (io.ReadCloser, error)
}

// handleStream is the streaming relay: it forwards the message list to the
// chat-completion service and copies the token stream back as a raw byte
// stream, one flush per fragment, no framing. It holds no conversation state.
func handleStream(client LLMClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		messages, ok := decodeStreamPayload(r.Body)
		if !ok {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "Invalid payload")
			return
		}

		upstream, err := client.Stream(r.Context(), messages)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "upstream error: %v", err)
			return
		}
		defer upstream.Close()

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")

		buf := make([]byte, 4096)
		for {
			n, err := upstream.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return
				}
				flusher.Flush()
			}
			if err != nil {
				if err != io.EOF {
					// Bytes already flushed stand; the stream just ends early.
					slog.Error("upstream stream read error", "error", err)
				}
				return
			}
		}
	}
}

// decodeStreamPayload parses {messages:[{role,content}]}. A missing or
// non-array messages field, or a bad role, rejects the whole payload.
func decodeStreamPayload(body io.Reader) ([]llm.Message, bool) {
	var payload struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, false
	}
	// A JSON null (or any non-array value) is not a message list.
	if len(payload.Messages) == 0 || payload.Messages[0] != '[' {
		return nil, false
	}

	var messages []llm.Message
	if err := json.Unmarshal(payload.Messages, &messages); err != nil {
		return nil, false
	}
	for _, m := range messages {
		if !journey.ValidRole(m.Role) {
			return nil, false
		}
	}
	return messages, true
}
