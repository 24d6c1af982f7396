package journey

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/mkalen/rapport/internal/storage"
)

// MaxMessageRunes bounds a single chat turn. The clients cap input at the same
// length; enforcing it here keeps oversized payloads out of the store.
const MaxMessageRunes = 10000

// ErrValidation marks input rejected before touching storage. Handlers map it
// to a 4xx response.
var ErrValidation = errors.New("invalid input")

// Message is one role-tagged chat turn in a day's transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole reports whether role is one of the three chat roles.
func ValidRole(role string) bool {
	switch role {
	case "system", "user", "assistant":
		return true
	}
	return false
}

// Reflection is one day's record within a journey: the transcript, the
// completion stamp, and the AI-generated summary.
type Reflection struct {
	ID             string         `json:"id"`
	JourneyID      string         `json:"journeyId"`
	DayNumber      int            `json:"dayNumber"`
	Messages       []Message      `json:"messages"`
	AISummary      string         `json:"aiSummary,omitempty"`
	StructuredData map[string]any `json:"structuredData,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Store defines the storage operations the Service needs.
// Implemented by storage.Store.
type Store interface {
	GetActiveJourney(userID string) (storage.Journey, error)
	StartJourney(userID string, startDay int) (storage.Journey, error)
	GetJourney(id string) (storage.Journey, error)
	RaiseCurrentDay(journeyID string, day int) error
	GetReflection(journeyID string, day int) (storage.Reflection, error)
	UpsertReflectionMessages(journeyID string, day int, messagesJSON string) (storage.Reflection, error)
	CompleteReflection(journeyID string, day int, aiSummary, structuredJSON string) (storage.Reflection, error)
	CompletedDays(journeyID string) ([]int, error)
	GetRapport(journeyID string) (storage.Rapport, error)
	AppendRapport(journeyID string, text string) (storage.Rapport, error)
}

// Service owns the lifecycle of a user's journey and its per-day records.
// Every operation is scoped to a caller-supplied user id.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// GetActive returns the user's active journey, or storage.ErrNotFound when
// the user has never started one (callers treat absence as "none", not a failure).
func (s *Service) GetActive(userID string) (storage.Journey, error) {
	return s.store.GetActiveJourney(userID)
}

// StartNew archives any active journey and begins a fresh one at startDay.
func (s *Service) StartNew(userID string, startDay int) (storage.Journey, error) {
	if err := validDay(startDay); err != nil {
		return storage.Journey{}, err
	}
	return s.store.StartJourney(userID, startDay)
}

// AdvanceDay moves the journey pointer to min(30, max(currentDay, completedDay)+1).
// Monotonic: an out-of-order completion call never moves the pointer backwards.
func (s *Service) AdvanceDay(journeyID string, completedDay int) error {
	j, err := s.store.GetJourney(journeyID)
	if err != nil {
		return err
	}
	next := max(j.CurrentDay, completedDay) + 1
	if next > storage.MaxDay {
		next = storage.MaxDay
	}
	return s.store.RaiseCurrentDay(journeyID, next)
}

// GetDay returns the reflection the user saved for that day of their active
// journey, or storage.ErrNotFound if the day was never saved (or no journey exists).
func (s *Service) GetDay(userID string, day int) (Reflection, error) {
	if err := validDay(day); err != nil {
		return Reflection{}, err
	}
	j, err := s.store.GetActiveJourney(userID)
	if err != nil {
		return Reflection{}, err
	}
	rec, err := s.store.GetReflection(j.ID, day)
	if err != nil {
		return Reflection{}, err
	}
	return decodeReflection(rec)
}

// SaveMessageBatch replaces the whole transcript for the day. The full message
// list is resent on every save, so last write wins and a retry is harmless.
func (s *Service) SaveMessageBatch(userID string, day int, messages []Message) (Reflection, error) {
	if err := validDay(day); err != nil {
		return Reflection{}, err
	}
	if err := validMessages(messages); err != nil {
		return Reflection{}, err
	}

	j, err := s.store.GetActiveJourney(userID)
	if err != nil {
		return Reflection{}, err
	}

	if messages == nil {
		messages = []Message{}
	}
	encoded, err := json.Marshal(messages)
	if err != nil {
		return Reflection{}, fmt.Errorf("encoding messages: %w", err)
	}

	rec, err := s.store.UpsertReflectionMessages(j.ID, day, string(encoded))
	if err != nil {
		return Reflection{}, err
	}
	return decodeReflection(rec)
}

// CompleteDay stamps the day complete with its summary, appends rapportAppend
// to the journey's rapport document, and advances the current-day pointer.
// If the user has no active journey one is started lazily at the completed day,
// so a completion attempt never fails outright on a missing journey.
//
// The completion stamp and the rapport append are two writes, not one
// transaction: if the append fails the day stays completed with no rapport
// entry. That inconsistency is logged and surfaced rather than hidden.
func (s *Service) CompleteDay(userID string, day int, aiSummary, rapportAppend string, structuredData map[string]any) (Reflection, error) {
	if err := validDay(day); err != nil {
		return Reflection{}, err
	}
	if aiSummary == "" {
		return Reflection{}, fmt.Errorf("%w: aiSummary is required", ErrValidation)
	}
	if rapportAppend == "" {
		return Reflection{}, fmt.Errorf("%w: rapportAppend is required", ErrValidation)
	}

	j, err := s.store.GetActiveJourney(userID)
	if errors.Is(err, storage.ErrNotFound) {
		j, err = s.store.StartJourney(userID, day)
	}
	if err != nil {
		return Reflection{}, err
	}

	structuredJSON := ""
	if structuredData != nil {
		b, err := json.Marshal(structuredData)
		if err != nil {
			return Reflection{}, fmt.Errorf("encoding structured data: %w", err)
		}
		structuredJSON = string(b)
	}

	rec, err := s.store.CompleteReflection(j.ID, day, aiSummary, structuredJSON)
	if err != nil {
		return Reflection{}, err
	}

	if _, err := s.store.AppendRapport(j.ID, rapportAppend); err != nil {
		slog.Error("day completed but rapport append failed",
			"journey_id", j.ID, "day", day, "error", err)
		return Reflection{}, fmt.Errorf("appending rapport for completed day %d: %w", day, err)
	}

	if err := s.AdvanceDay(j.ID, day); err != nil {
		return Reflection{}, fmt.Errorf("advancing day: %w", err)
	}

	return decodeReflection(rec)
}

// CompletedDays returns the day numbers completed so far. A user with no
// active journey gets an empty set, not an error.
func (s *Service) CompletedDays(userID string) ([]int, error) {
	j, err := s.store.GetActiveJourney(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return []int{}, nil
	}
	if err != nil {
		return nil, err
	}
	days, err := s.store.CompletedDays(j.ID)
	if err != nil {
		return nil, err
	}
	if days == nil {
		days = []int{}
	}
	return days, nil
}

// Rapport returns the active journey's rapport document, lazily creating an
// empty one if the record is missing. With no active journey it returns
// storage.ErrNotFound.
func (s *Service) Rapport(userID string) (storage.Rapport, error) {
	j, err := s.store.GetActiveJourney(userID)
	if err != nil {
		return storage.Rapport{}, err
	}
	return s.store.GetRapport(j.ID)
}

func validDay(day int) error {
	if day < 1 || day > storage.MaxDay {
		return fmt.Errorf("%w: day %d out of range [1,%d]", ErrValidation, day, storage.MaxDay)
	}
	return nil
}

func validMessages(messages []Message) error {
	for i, m := range messages {
		if !ValidRole(m.Role) {
			return fmt.Errorf("%w: message %d: invalid role %q", ErrValidation, i, m.Role)
		}
		if utf8.RuneCountInString(m.Content) > MaxMessageRunes {
			return fmt.Errorf("%w: message %d: content exceeds %d characters", ErrValidation, i, MaxMessageRunes)
		}
	}
	return nil
}

func decodeReflection(rec storage.Reflection) (Reflection, error) {
	r := Reflection{
		ID:          rec.ID,
		JourneyID:   rec.JourneyID,
		DayNumber:   rec.DayNumber,
		AISummary:   rec.AISummary,
		CompletedAt: rec.CompletedAt,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(rec.Messages), &r.Messages); err != nil {
		return Reflection{}, fmt.Errorf("decoding messages for day %d: %w", rec.DayNumber, err)
	}
	if r.Messages == nil {
		r.Messages = []Message{}
	}
	if rec.StructuredData != "" {
		if err := json.Unmarshal([]byte(rec.StructuredData), &r.StructuredData); err != nil {
			return Reflection{}, fmt.Errorf("decoding structured data for day %d: %w", rec.DayNumber, err)
		}
	}
	return r, nil
}
