package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// MaxDay is the last day of the guided program.
const MaxDay = 30

type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

type Journey struct {
	ID         string
	UserID     string
	CurrentDay int
	IsActive   bool
	StartedAt  time.Time
	ArchivedAt *time.Time
}

type Reflection struct {
	ID             string
	JourneyID      string
	DayNumber      int
	Messages       string // JSON array stored as text
	AISummary      string
	StructuredData string // JSON object stored as text, empty if unset
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Rapport struct {
	JourneyID string
	Content   string
	UpdatedAt time.Time
}
