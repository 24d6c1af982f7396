package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkalen/rapport/internal/journey"
	"github.com/mkalen/rapport/internal/prompt"
	"github.com/mkalen/rapport/internal/storage"
)

// Deps holds the wiring for the HTTP handler.
type Deps struct {
	Journeys  *journey.Service
	LLM       LLMClient
	JWTSecret []byte
}

// NewHandler returns the full HTTP surface: the health probe, the streaming
// relay, and the journey state endpoints. Everything except /health requires
// an authenticated caller; every operation is scoped to the token's user id.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(JWTAuth(deps.JWTSecret))

		r.Post("/ai/stream", handleStream(deps.LLM))

		r.Get("/journey", handleGetActive(deps))
		r.Post("/journey", handleStartNew(deps))
		r.Get("/journey/rapport", handleGetRapport(deps))
		r.Get("/journey/completed-days", handleCompletedDays(deps))
		r.Get("/journey/days/{day}", handleGetDay(deps))
		r.Put("/journey/days/{day}/messages", handleSaveMessages(deps))
		r.Post("/journey/days/{day}/complete", handleCompleteDay(deps))
		r.Get("/journey/days/{day}/prompt", handleSystemPrompt(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// journeyResponse is the wire shape of a journey.
type journeyResponse struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	CurrentDay int        `json:"currentDay"`
	IsActive   bool       `json:"isActive"`
	StartedAt  time.Time  `json:"startedAt"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
}

func toJourneyResponse(j storage.Journey) journeyResponse {
	return journeyResponse{
		ID:         j.ID,
		UserID:     j.UserID,
		CurrentDay: j.CurrentDay,
		IsActive:   j.IsActive,
		StartedAt:  j.StartedAt,
		ArchivedAt: j.ArchivedAt,
	}
}

func handleGetActive(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := deps.Journeys.GetActive(UserID(r))
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, nil)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get journey: %v", err)
			return
		}
		writeJSON(w, toJourneyResponse(j))
	}
}

func handleStartNew(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			StartDay *int `json:"startDay"`
		}
		// An empty body means "start at day 1"; an explicit out-of-range
		// startDay (including 0) is rejected below.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		startDay := 1
		if req.StartDay != nil {
			startDay = *req.StartDay
		}

		j, err := deps.Journeys.StartNew(UserID(r), startDay)
		if errors.Is(err, journey.ErrValidation) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to start journey: %v", err)
			return
		}
		writeJSON(w, toJourneyResponse(j))
	}
}

func handleGetDay(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, ok := dayParam(w, r)
		if !ok {
			return
		}

		rec, err := deps.Journeys.GetDay(UserID(r), day)
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, nil)
			return
		}
		if errors.Is(err, journey.ErrValidation) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get day: %v", err)
			return
		}
		writeJSON(w, rec)
	}
}

func handleSaveMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, ok := dayParam(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Messages []journey.Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Messages == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required")
			return
		}

		rec, err := deps.Journeys.SaveMessageBatch(UserID(r), day, req.Messages)
		if errors.Is(err, journey.ErrValidation) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no active journey")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save messages: %v", err)
			return
		}
		writeJSON(w, rec)
	}
}

func handleCompleteDay(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, ok := dayParam(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			AISummary      string         `json:"aiSummary"`
			RapportAppend  string         `json:"rapportAppend"`
			StructuredData map[string]any `json:"structuredData"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		userID := UserID(r)

		// Clients may send a precomputed summary; with none, generate it here
		// from the day's transcript with the transcript itself as the fallback.
		if req.AISummary == "" {
			req.AISummary = generateSummary(r, deps, userID, day)
		}
		if req.RapportAppend == "" {
			req.RapportAppend = prompt.RapportSection(day, req.AISummary)
		}

		rec, err := deps.Journeys.CompleteDay(userID, day, req.AISummary, req.RapportAppend, req.StructuredData)
		if errors.Is(err, journey.ErrValidation) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to complete day: %v", err)
			return
		}
		writeJSON(w, rec)
	}
}

// generateSummary asks the model for the structured day summary. Any failure
// or empty response falls back to the truncated raw transcript so the rapport
// document always gets an entry for a completed day.
func generateSummary(r *http.Request, deps Deps, userID string, day int) string {
	transcript := ""
	if rec, err := deps.Journeys.GetDay(userID, day); err == nil {
		transcript = prompt.FormatTranscript(rec.Messages)
	}

	summary, err := deps.LLM.Chat(r.Context(), prompt.BuildSummaryPrompt(day, transcript))
	if err != nil {
		slog.Error("summary generation failed, using transcript fallback", "day", day, "error", err)
		return prompt.FallbackSummary(day, transcript)
	}
	if strings.TrimSpace(summary) == "" {
		return prompt.FallbackSummary(day, transcript)
	}
	return summary
}

func handleCompletedDays(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, err := deps.Journeys.CompletedDays(UserID(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list completed days: %v", err)
			return
		}
		writeJSON(w, days)
	}
}

func handleGetRapport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rap, err := deps.Journeys.Rapport(UserID(r))
		if errors.Is(err, storage.ErrNotFound) {
			// No active journey yet; the document is simply empty.
			writeJSON(w, map[string]string{"content": ""})
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get rapport: %v", err)
			return
		}
		writeJSON(w, map[string]string{"content": rap.Content})
	}
}

func handleSystemPrompt(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, ok := dayParam(w, r)
		if !ok {
			return
		}

		content := ""
		rap, err := deps.Journeys.Rapport(UserID(r))
		if err == nil {
			content = rap.Content
		} else if !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get rapport: %v", err)
			return
		}

		writeJSON(w, map[string]string{"prompt": prompt.BuildSystemPrompt(day, content)})
	}
}

// dayParam parses and range-checks the {day} route parameter.
func dayParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	day, err := strconv.Atoi(chi.URLParam(r, "day"))
	if err != nil || day < 1 || day > storage.MaxDay {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "day must be an integer in [1,%d]", storage.MaxDay)
		return 0, false
	}
	return day, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
