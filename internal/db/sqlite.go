package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// activeStatuses are the non-terminal session states. The partial unique
// index below enforces at most one active session per (user, machine).
const activeStatuses = `('diagnosing','awaiting_feedback')`

// Schema version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sessions (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    machine_id   TEXT NOT NULL DEFAULT '',
    category     TEXT NOT NULL DEFAULT 'other',
    report       TEXT NOT NULL,
    assessment   TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'diagnosing',
    current_step INTEGER NOT NULL DEFAULT 0,
    created_at   DATETIME NOT NULL,
    updated_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active
    ON sessions(user_id, machine_id)
    WHERE status IN ` + activeStatuses + `;

CREATE TABLE IF NOT EXISTS steps (
    id                TEXT PRIMARY KEY,
    session_id        TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    number            INTEGER NOT NULL,
    instruction       TEXT NOT NULL,
    safety_warnings   TEXT NOT NULL DEFAULT '[]',
    duration          INTEGER NOT NULL DEFAULT 0,
    requires_feedback INTEGER NOT NULL DEFAULT 1,
    source            TEXT NOT NULL,
    outcome           TEXT NOT NULL DEFAULT '',
    created_at        DATETIME NOT NULL,
    UNIQUE(session_id, number)
);
CREATE INDEX IF NOT EXISTS idx_steps_session ON steps(session_id, number ASC);

CREATE TABLE IF NOT EXISTS feedback (
    step_id     TEXT PRIMARY KEY REFERENCES steps(id) ON DELETE CASCADE,
    session_id  TEXT NOT NULL,
    raw_input   TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_session ON feedback(session_id);

CREATE TABLE IF NOT EXISTS solution_effectiveness (
    category        TEXT NOT NULL,
    machine_model   TEXT NOT NULL,
    solution_key    TEXT NOT NULL,
    solution_text   TEXT NOT NULL,
    success_count   INTEGER NOT NULL DEFAULT 0,
    attempt_count   INTEGER NOT NULL DEFAULT 0,
    expert_verified INTEGER NOT NULL DEFAULT 0,
    last_observed   DATETIME NOT NULL,
    PRIMARY KEY (category, machine_model, solution_key)
);
CREATE INDEX IF NOT EXISTS idx_effectiveness_lookup
    ON solution_effectiveness(category, machine_model, attempt_count DESC);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// WAL mode for concurrent turn handlers.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// isUniqueViolation matches the modernc driver's constraint error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ─── Sessions ─────────────────────────────────────────────────────────────────

func (s *sqliteStore) CreateSession(ctx context.Context, rec *SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sessions(id, user_id, machine_id, category, report, assessment, status, current_step, created_at, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?)
    `,
		rec.ID, rec.UserID, rec.MachineID, rec.Category, rec.Report, rec.Assessment,
		rec.Status, rec.CurrentStep, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrActiveSessionExists
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,user_id,machine_id,category,report,assessment,status,current_step,created_at,updated_at
         FROM sessions WHERE id=?`, id)
	return scanSession(row)
}

func (s *sqliteStore) GetActiveSession(ctx context.Context, userID, machineID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,user_id,machine_id,category,report,assessment,status,current_step,created_at,updated_at
         FROM sessions WHERE user_id=? AND machine_id=? AND status IN `+activeStatuses,
		userID, machineID)
	return scanSession(row)
}

func (s *sqliteStore) UpdateSessionStatus(ctx context.Context, id, status, category string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status=?, category=?, updated_at=? WHERE id=?`,
		status, category, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,user_id,machine_id,category,report,assessment,status,current_step,created_at,updated_at FROM sessions`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	rec := &SessionRecord{}
	var createdAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.UserID, &rec.MachineID, &rec.Category, &rec.Report,
		&rec.Assessment, &rec.Status, &rec.CurrentStep, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = parseTime(createdAt)
	rec.UpdatedAt, _ = parseTime(updatedAt)
	return rec, nil
}

// ─── Steps ────────────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendStep(ctx context.Context, step *StepRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id=?`, step.SessionID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	switch status {
	case "completed", "escalated", "abandoned":
		return ErrNotFound
	}

	var open int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM steps WHERE session_id=? AND outcome=''`, step.SessionID).Scan(&open)
	if err != nil {
		return fmt.Errorf("count open steps: %w", err)
	}
	if open > 0 {
		return ErrOpenStep
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO steps(id, session_id, number, instruction, safety_warnings, duration, requires_feedback, source, outcome, created_at)
        VALUES(?,?,?,?,?,?,?,?,'',?)
    `,
		step.ID, step.SessionID, step.Number, step.Instruction, step.SafetyWarnings,
		step.Duration, step.RequiresFeedback, step.Source, step.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET current_step=?, status='awaiting_feedback', updated_at=? WHERE id=?`,
		step.Number, time.Now().UTC(), step.SessionID)
	if err != nil {
		return fmt.Errorf("advance session: %w", err)
	}

	return tx.Commit()
}

func (s *sqliteStore) GetSteps(ctx context.Context, sessionID string) ([]*StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,session_id,number,instruction,safety_warnings,duration,requires_feedback,source,outcome,created_at
         FROM steps WHERE session_id=? ORDER BY number ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*StepRecord
	for rows.Next() {
		rec, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) GetOpenStep(ctx context.Context, sessionID string) (*StepRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,session_id,number,instruction,safety_warnings,duration,requires_feedback,source,outcome,created_at
         FROM steps WHERE session_id=? AND outcome='' ORDER BY number DESC LIMIT 1`, sessionID)
	rec, err := scanStep(row)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanStep(row rowScanner) (*StepRecord, error) {
	rec := &StepRecord{}
	var createdAt string
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.Number, &rec.Instruction, &rec.SafetyWarnings,
		&rec.Duration, &rec.RequiresFeedback, &rec.Source, &rec.Outcome, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = parseTime(createdAt)
	return rec, nil
}

// ─── Feedback ─────────────────────────────────────────────────────────────────

func (s *sqliteStore) RecordFeedback(ctx context.Context, fb *FeedbackRecord, newStatus string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO feedback(step_id, session_id, raw_input, outcome, created_at)
        VALUES(?,?,?,?,?)
    `, fb.StepID, fb.SessionID, fb.RawInput, fb.Outcome, fb.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrDuplicateFeedback
	}
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE steps SET outcome=? WHERE id=?`, fb.Outcome, fb.StepID)
	if err != nil {
		return fmt.Errorf("set step outcome: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET status=?, updated_at=? WHERE id=?`,
		newStatus, time.Now().UTC(), fb.SessionID)
	if err != nil {
		return fmt.Errorf("transition session: %w", err)
	}

	return tx.Commit()
}

func (s *sqliteStore) GetFeedback(ctx context.Context, stepID string) (*FeedbackRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT step_id,session_id,raw_input,outcome,created_at FROM feedback WHERE step_id=?`, stepID)
	rec := &FeedbackRecord{}
	var createdAt string
	err := row.Scan(&rec.StepID, &rec.SessionID, &rec.RawInput, &rec.Outcome, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = parseTime(createdAt)
	return rec, nil
}

// ─── Solution effectiveness ───────────────────────────────────────────────────

func (s *sqliteStore) RecordOutcome(ctx context.Context, category, model, solutionKey, solutionText string, succeeded, expertVerified bool) error {
	succ := 0
	if succeeded {
		succ = 1
	}
	expert := 0
	if expertVerified {
		expert = 1
	}

	// Atomic increment: concurrent completions for the same key serialize on
	// the row, never losing an update.
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO solution_effectiveness(category, machine_model, solution_key, solution_text, success_count, attempt_count, expert_verified, last_observed)
        VALUES(?,?,?,?,?,1,?,?)
        ON CONFLICT(category, machine_model, solution_key) DO UPDATE SET
            attempt_count   = attempt_count + 1,
            success_count   = success_count + excluded.success_count,
            expert_verified = MAX(expert_verified, excluded.expert_verified),
            last_observed   = excluded.last_observed
    `, category, model, solutionKey, solutionText, succ, expert, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

func (s *sqliteStore) QueryEffectiveness(ctx context.Context, category, model string, limit int) ([]*EffectivenessRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT category,machine_model,solution_key,solution_text,success_count,attempt_count,expert_verified,last_observed
              FROM solution_effectiveness WHERE category=? AND attempt_count > 0`
	args := []any{category}
	if model != "" {
		query += ` AND machine_model = ?`
		args = append(args, model)
	}
	query += ` ORDER BY attempt_count DESC, last_observed DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*EffectivenessRecord
	for rows.Next() {
		rec := &EffectivenessRecord{}
		var lastObserved string
		if err := rows.Scan(&rec.Category, &rec.MachineModel, &rec.SolutionKey, &rec.SolutionText,
			&rec.SuccessCount, &rec.AttemptCount, &rec.ExpertVerified, &lastObserved); err != nil {
			return nil, err
		}
		rec.LastObserved, _ = parseTime(lastObserved)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
