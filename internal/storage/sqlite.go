package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for users, journeys,
// reflections, and rapport documents.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "rapport.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Users ---

// EnsureUser creates the user row if it does not exist yet. Existing rows are
// left untouched; users are never deleted by this layer.
func (s *Store) EnsureUser(id, email, name string) error {
	_, err := s.db.Exec(`
		INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, email, name, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetUser(id string) (User, error) {
	var u User
	var createdAt string
	err := s.db.QueryRow(`SELECT id, email, name, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Name, &createdAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	u.CreatedAt = t
	return u, nil
}

// --- Journeys ---

const journeyColumns = "id, user_id, current_day, is_active, started_at, archived_at"

func scanJourney(row interface{ Scan(...any) error }) (Journey, error) {
	var j Journey
	var startedAt string
	var archivedAt sql.NullString
	if err := row.Scan(&j.ID, &j.UserID, &j.CurrentDay, &j.IsActive, &startedAt, &archivedAt); err != nil {
		return Journey{}, err
	}
	t, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return Journey{}, fmt.Errorf("parsing started_at: %w", err)
	}
	j.StartedAt = t
	if archivedAt.Valid {
		at, err := time.Parse(time.RFC3339, archivedAt.String)
		if err != nil {
			return Journey{}, fmt.Errorf("parsing archived_at: %w", err)
		}
		j.ArchivedAt = &at
	}
	return j, nil
}

// GetActiveJourney returns the single active journey for the user, or ErrNotFound.
func (s *Store) GetActiveJourney(userID string) (Journey, error) {
	row := s.db.QueryRow(`SELECT `+journeyColumns+` FROM journeys WHERE user_id = ? AND is_active = 1`, userID)
	j, err := scanJourney(row)
	if err == sql.ErrNoRows {
		return Journey{}, ErrNotFound
	}
	return j, err
}

func (s *Store) GetJourney(id string) (Journey, error) {
	row := s.db.QueryRow(`SELECT `+journeyColumns+` FROM journeys WHERE id = ?`, id)
	j, err := scanJourney(row)
	if err == sql.ErrNoRows {
		return Journey{}, ErrNotFound
	}
	return j, err
}

// StartJourney archives any active journey for the user, creates a fresh one
// starting at startDay, and creates its empty rapport document. All three
// writes happen in one transaction so concurrent starts cannot leave two
// active journeys behind.
func (s *Store) StartJourney(userID string, startDay int) (Journey, error) {
	if startDay < 1 || startDay > MaxDay {
		return Journey{}, fmt.Errorf("start day %d out of range [1,%d]", startDay, MaxDay)
	}

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return Journey{}, fmt.Errorf("beginning start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO users (id, email, name, created_at) VALUES (?, '', '', ?)
		ON CONFLICT(id) DO NOTHING`, userID, nowStr); err != nil {
		return Journey{}, fmt.Errorf("ensuring user: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE journeys SET is_active = 0, archived_at = ?
		WHERE user_id = ? AND is_active = 1`, nowStr, userID); err != nil {
		return Journey{}, fmt.Errorf("archiving active journey: %w", err)
	}

	j := Journey{
		ID:         uuid.New().String(),
		UserID:     userID,
		CurrentDay: startDay,
		IsActive:   true,
		StartedAt:  now,
	}
	if _, err := tx.Exec(`
		INSERT INTO journeys (id, user_id, current_day, is_active, started_at)
		VALUES (?, ?, ?, 1, ?)`,
		j.ID, j.UserID, j.CurrentDay, nowStr); err != nil {
		return Journey{}, fmt.Errorf("creating journey: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO rapports (journey_id, content, updated_at) VALUES (?, '', ?)`,
		j.ID, nowStr); err != nil {
		return Journey{}, fmt.Errorf("creating rapport: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Journey{}, fmt.Errorf("committing start: %w", err)
	}
	return j, nil
}

// RaiseCurrentDay moves the journey's current day forward to day. The guard in
// the WHERE clause makes the update monotonic: a stale caller with a smaller
// day is a no-op, never a rollback.
func (s *Store) RaiseCurrentDay(journeyID string, day int) error {
	if day > MaxDay {
		day = MaxDay
	}
	_, err := s.db.Exec(`UPDATE journeys SET current_day = ? WHERE id = ? AND current_day < ?`,
		day, journeyID, day)
	return err
}

// --- Reflections ---

const reflectionColumns = "id, journey_id, day_number, messages, ai_summary, structured_data, completed_at, created_at, updated_at"

func scanReflection(row interface{ Scan(...any) error }) (Reflection, error) {
	var r Reflection
	var completedAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&r.ID, &r.JourneyID, &r.DayNumber, &r.Messages, &r.AISummary,
		&r.StructuredData, &completedAt, &createdAt, &updatedAt); err != nil {
		return Reflection{}, err
	}
	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Reflection{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Reflection{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return Reflection{}, fmt.Errorf("parsing completed_at: %w", err)
		}
		r.CompletedAt = &t
	}
	return r, nil
}

// GetReflection returns the reflection for (journeyID, day), or ErrNotFound if
// that day was never saved.
func (s *Store) GetReflection(journeyID string, day int) (Reflection, error) {
	row := s.db.QueryRow(`SELECT `+reflectionColumns+` FROM reflections WHERE journey_id = ? AND day_number = ?`,
		journeyID, day)
	r, err := scanReflection(row)
	if err == sql.ErrNoRows {
		return Reflection{}, ErrNotFound
	}
	return r, err
}

// UpsertReflectionMessages replaces the full message transcript for
// (journeyID, day). Last write wins; completion fields are left untouched.
func (s *Store) UpsertReflectionMessages(journeyID string, day int, messagesJSON string) (Reflection, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO reflections (id, journey_id, day_number, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(journey_id, day_number) DO UPDATE SET
			messages = excluded.messages,
			updated_at = excluded.updated_at`,
		uuid.New().String(), journeyID, day, messagesJSON, now, now,
	)
	if err != nil {
		return Reflection{}, err
	}
	return s.GetReflection(journeyID, day)
}

// CompleteReflection stamps completion on (journeyID, day), setting the summary
// and optional structured data. If no row exists yet one is created with an
// empty transcript. Idempotent: a retry refreshes the same fields.
func (s *Store) CompleteReflection(journeyID string, day int, aiSummary, structuredJSON string) (Reflection, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO reflections (id, journey_id, day_number, messages, ai_summary, structured_data, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, '[]', ?, ?, ?, ?, ?)
		ON CONFLICT(journey_id, day_number) DO UPDATE SET
			ai_summary = excluded.ai_summary,
			structured_data = excluded.structured_data,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at`,
		uuid.New().String(), journeyID, day, aiSummary, structuredJSON, now, now, now,
	)
	if err != nil {
		return Reflection{}, err
	}
	return s.GetReflection(journeyID, day)
}

// CompletedDays returns the day numbers with a completion stamp, ascending.
func (s *Store) CompletedDays(journeyID string) ([]int, error) {
	rows, err := s.db.Query(`
		SELECT day_number FROM reflections
		WHERE journey_id = ? AND completed_at IS NOT NULL
		ORDER BY day_number ASC`, journeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// --- Rapports ---

// GetRapport returns the rapport document for the journey, lazily creating an
// empty one if the journey predates rapport rows or was created elsewhere.
func (s *Store) GetRapport(journeyID string) (Rapport, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.Exec(`
		INSERT INTO rapports (journey_id, content, updated_at) VALUES (?, '', ?)
		ON CONFLICT(journey_id) DO NOTHING`, journeyID, now); err != nil {
		return Rapport{}, fmt.Errorf("initializing rapport: %w", err)
	}

	var r Rapport
	var updatedAt string
	err := s.db.QueryRow(`SELECT journey_id, content, updated_at FROM rapports WHERE journey_id = ?`, journeyID).
		Scan(&r.JourneyID, &r.Content, &updatedAt)
	if err != nil {
		return Rapport{}, err
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return Rapport{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	r.UpdatedAt = t
	return r, nil
}

// AppendRapport concatenates text onto the journey's rapport with a blank-line
// separator. Content only ever grows; prior text is never rewritten.
func (s *Store) AppendRapport(journeyID string, text string) (Rapport, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return Rapport{}, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO rapports (journey_id, content, updated_at) VALUES (?, '', ?)
		ON CONFLICT(journey_id) DO NOTHING`, journeyID, now); err != nil {
		return Rapport{}, fmt.Errorf("initializing rapport: %w", err)
	}

	var existing string
	if err := tx.QueryRow(`SELECT content FROM rapports WHERE journey_id = ?`, journeyID).Scan(&existing); err != nil {
		return Rapport{}, fmt.Errorf("reading rapport: %w", err)
	}

	content := strings.TrimSpace(existing + "\n\n" + text)
	if _, err := tx.Exec(`UPDATE rapports SET content = ?, updated_at = ? WHERE journey_id = ?`,
		content, now, journeyID); err != nil {
		return Rapport{}, fmt.Errorf("writing rapport: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Rapport{}, fmt.Errorf("committing append: %w", err)
	}

	t, _ := time.Parse(time.RFC3339, now)
	return Rapport{JourneyID: journeyID, Content: content, UpdatedAt: t}, nil
}
