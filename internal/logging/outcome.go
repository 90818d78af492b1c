package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// #region outcome-entry
// Stage names a refinement step.
type Stage string

const (
	StageAnalysis  Stage = "analysis"
	StageIndex     Stage = "index_upsert"
	StageSimilar   Stage = "similar_query"
	StageNarrative Stage = "narrative"
)

// Outcome is how a stage ended.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeDegraded  Outcome = "degraded" // served with an empty or canned result
	OutcomeCancelled Outcome = "cancelled"
)

// OutcomeEntry is a single row in the refinement_log table.
type OutcomeEntry struct {
	RunID      string
	SessionID  string
	Stage      Stage
	Outcome    Outcome
	Reason     string
	DetailJSON string
	CreatedAt  time.Time
}
// #endregion outcome-entry

const schema = `CREATE TABLE IF NOT EXISTS refinement_log (
	run_id      TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	stage       TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	reason      TEXT,
	detail_json TEXT,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refinement_log_session ON refinement_log(session_id);`

// OutcomeLog appends refinement outcomes to SQLite.
type OutcomeLog struct {
	db *sql.DB
}

// #region open
// NewOutcomeLog creates the refinement_log table if needed.
func NewOutcomeLog(db *sql.DB) (*OutcomeLog, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create refinement_log: %w", err)
	}
	return &OutcomeLog{db: db}, nil
}

// NewRunID returns an id grouping the entries of one ingest.
func NewRunID() string { return uuid.NewString() }
// #endregion open

// #region log-outcome
// Log writes one entry. CreatedAt defaults to now.
func (l *OutcomeLog) Log(ctx context.Context, entry OutcomeEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO refinement_log (run_id, session_id, stage, outcome, reason, detail_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.SessionID,
		string(entry.Stage),
		string(entry.Outcome),
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.DetailJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log outcome: %w", err)
	}
	return nil
}
// #endregion log-outcome

// #region list
// ForSession returns the entries of a session in insertion order.
func (l *OutcomeLog) ForSession(ctx context.Context, sessionID string) ([]OutcomeEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, session_id, stage, outcome, reason, detail_json, created_at
		 FROM refinement_log WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query refinement_log: %w", err)
	}
	defer rows.Close()

	var out []OutcomeEntry
	for rows.Next() {
		var (
			e              OutcomeEntry
			stage, outcome string
			reason, detail sql.NullString
			created        string
		)
		if err := rows.Scan(&e.RunID, &e.SessionID, &stage, &outcome, &reason, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan refinement_log: %w", err)
		}
		e.Stage, e.Outcome = Stage(stage), Outcome(outcome)
		e.Reason, e.DetailJSON = reason.String, detail.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}
// #endregion list

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
