package database

import (
	"context"
	"time"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS execution_history (
	id           TEXT PRIMARY KEY,
	language     TEXT NOT NULL,
	status       TEXT NOT NULL,
	reason       TEXT NOT NULL,
	duration_ms  BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// ExecutionRecord is one row of execution history. Code and output are
// deliberately not persisted, only the outcome classification.
type ExecutionRecord struct {
	ID       string
	Language string
	Status   string
	Reason   string
	Duration time.Duration
}

// EnsureSchema creates the history table if it does not exist.
func (db *Database) EnsureSchema(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, historySchema)
	return err
}

// InsertExecution writes one history row. Callers treat failures as
// non-fatal; history is best effort.
func (db *Database) InsertExecution(ctx context.Context, rec ExecutionRecord) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO execution_history (id, language, status, reason, duration_ms)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.Language, rec.Status, rec.Reason, rec.Duration.Milliseconds(),
	)
	if err != nil {
		db.log.Warn().Err(err).Str("execution_id", rec.ID).Msg("failed to insert execution history")
	}
	return err
}
