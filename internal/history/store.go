// Package history keeps graded attempts in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one graded submission.
type Entry struct {
	ID         int64
	SessionID  string
	Module     string
	PromptID   string
	PromptText string
	Transcript string
	Duration   time.Duration
	Score      float64
	Feedback   string
	Attempt    int
	CreatedAt  time.Time
}

// ModuleSummary aggregates entries for one module.
type ModuleSummary struct {
	Module       string
	Submissions  int
	AverageScore float64
	BestScore    float64
}

// Store reads and writes the history database.
type Store struct {
	db *sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sessionId TEXT NOT NULL,
		module TEXT NOT NULL,
		promptId TEXT NOT NULL,
		promptText TEXT NOT NULL,
		transcript TEXT NOT NULL,
		durationMs INTEGER NOT NULL,
		score REAL NOT NULL,
		feedback TEXT NOT NULL DEFAULT '',
		attempt INTEGER NOT NULL,
		createdAt REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS attempts_module_created ON attempts(module, createdAt);
`

// DefaultPath returns $XDG_DATA_HOME/recital/history.sqlite with a ~/.local/share fallback.
func DefaultPath() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "recital", "history.sqlite"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "recital", "history.sqlite"), nil
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends entry. A zero CreatedAt is stamped with the current time.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (sessionId, module, promptId, promptText, transcript, durationMs, score, feedback, attempt, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.SessionID, entry.Module, entry.PromptID, entry.PromptText, entry.Transcript,
		entry.Duration.Milliseconds(), entry.Score, entry.Feedback, entry.Attempt, unixFromTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty module matches all modules.
func (s *Store) Recent(ctx context.Context, module string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sessionId, module, promptId, promptText, transcript, durationMs, score, feedback, attempt, createdAt
		FROM attempts
		WHERE ? = '' OR module = ?
		ORDER BY createdAt DESC, id DESC
		LIMIT ?
	`, module, module, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durationMs int64
		var createdAt float64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Module, &e.PromptID, &e.PromptText, &e.Transcript,
			&durationMs, &e.Score, &e.Feedback, &e.Attempt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.CreatedAt = timeFromUnix(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary aggregates submissions per module, ordered by module name.
func (s *Store) Summary(ctx context.Context) ([]ModuleSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module, COUNT(*), AVG(score), MAX(score)
		FROM attempts
		GROUP BY module
		ORDER BY module ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var out []ModuleSummary
	for rows.Next() {
		var m ModuleSummary
		if err := rows.Scan(&m.Module, &m.Submissions, &m.AverageScore, &m.BestScore); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func timeFromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
