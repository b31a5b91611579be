// Package history keeps a SQLite timeline of announced utterances.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-announcer/internal/config"
	"github.com/loqalabs/loqa-announcer/internal/orchestrator"
)

// Entry is one recorded utterance outcome.
type Entry struct {
	ID          int64
	SessionID   string
	UtteranceID string
	Text        string
	Source      string
	Engine      string
	Voice       string
	Status      string
	Error       string
	Duration    time.Duration
	CreatedAt   time.Time
	FinishedAt  time.Time
}

// Store wraps the SQLite-backed history. In ephemeral mode it holds no
// database and every call is a no-op.
type Store struct {
	db        *sql.DB
	cfg       config.HistoryConfig
	log       *slog.Logger
	clock     func() time.Time
	sessionID string
}

// Open initializes the store according to config and applies retention.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "history"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("history vacuum failed", slogError(err))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slogError(err))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS utterances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT,
    utterance_id TEXT NOT NULL,
    text TEXT NOT NULL,
    source TEXT,
    engine TEXT,
    voice TEXT,
    status TEXT NOT NULL,
    error TEXT,
    duration_ms INTEGER,
    created_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_utterances_finished ON utterances(finished_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// BeginSession starts a new run. In session mode earlier runs are removed.
func (s *Store) BeginSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	s.sessionID = id
	if s.db == nil {
		return id, nil
	}
	if s.cfg.RetentionMode == "session" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
			return "", fmt.Errorf("clear previous sessions: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM utterances`); err != nil {
			return "", fmt.Errorf("clear previous utterances: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO sessions(session_id, started_at) VALUES(?, ?)`, id, s.clock().UnixMilli()); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// Record implements orchestrator.Recorder.
func (s *Store) Record(ctx context.Context, res orchestrator.Result) error {
	if s.db == nil {
		return nil
	}
	var errText string
	if res.Err != nil {
		errText = res.Err.Error()
	}
	finished := res.FinishedAt
	if finished.IsZero() {
		finished = s.clock()
	}
	created := res.CreatedAt
	if created.IsZero() {
		created = finished
	}
	var session any
	if s.sessionID != "" {
		session = s.sessionID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances(session_id, utterance_id, text, source, engine, voice, status, error, duration_ms, created_at, finished_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session, res.ID, res.Text, res.Source, res.Engine, res.Voice, string(res.Status), errText,
		res.Duration.Milliseconds(), created.UnixMilli(), finished.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert utterance: %w", err)
	}
	return nil
}

// List returns up to limit entries, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(session_id, ''), utterance_id, text, COALESCE(source, ''), COALESCE(engine, ''),
		        COALESCE(voice, ''), status, COALESCE(error, ''), COALESCE(duration_ms, 0), created_at, finished_at
		 FROM utterances ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			durationMS        int64
			created, finished int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UtteranceID, &e.Text, &e.Source, &e.Engine,
			&e.Voice, &e.Status, &e.Error, &durationMS, &created, &finished); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt = time.UnixMilli(created).UTC()
		e.FinishedAt = time.UnixMilli(finished).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune applies retention days and the row cap.
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM utterances WHERE finished_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ? AND session_id NOT IN (SELECT DISTINCT session_id FROM utterances WHERE session_id IS NOT NULL)`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM utterances WHERE id IN (
			SELECT id FROM utterances ORDER BY finished_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ensure checks the store matches its retention mode.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral history should not have a database connection")
	}
	return nil
}

var _ orchestrator.Recorder = (*Store)(nil)

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
