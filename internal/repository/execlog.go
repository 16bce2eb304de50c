// Package repository persists execution logs for operator visibility. It is
// additive: the message handler works without it, and a write failure here
// never affects delivery outcome.
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arc-self/rotor/internal/model"
)

// ExecLogRepository writes execution logs to Postgres.
type ExecLogRepository struct {
	pool *pgxpool.Pool
}

// NewExecLogRepository builds an ExecLogRepository backed by pool.
func NewExecLogRepository(pool *pgxpool.Pool) *ExecLogRepository {
	return &ExecLogRepository{pool: pool}
}

// InsertExecLog stores one message's execution log as a JSONB row.
func (r *ExecLogRepository) InsertExecLog(ctx context.Context, workspaceID, messageID string, log model.ExecutionLog) error {
	entries := make([]execLogEntryJSON, 0, len(log))
	for _, e := range log {
		entry := execLogEntryJSON{
			StepID:     e.StepID,
			Outcome:    string(e.Outcome),
			DurationMs: e.DurationMs,
			FanOut:     e.FanOut,
		}
		if e.Err != nil {
			entry.Err = e.Err.Error()
		}
		entries = append(entries, entry)
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("execlog: marshal: %w", err)
	}

	const stmt = `
		INSERT INTO rotor_execution_logs (workspace_id, message_id, entries, created_at)
		VALUES ($1, $2, $3, now())
	`
	if _, err := r.pool.Exec(ctx, stmt, workspaceID, messageID, payload); err != nil {
		return fmt.Errorf("execlog: insert: %w", err)
	}
	return nil
}

type execLogEntryJSON struct {
	StepID     string `json:"stepId"`
	Outcome    string `json:"outcome"`
	DurationMs int64  `json:"durationMs"`
	FanOut     int    `json:"fanOut"`
	Err        string `json:"err,omitempty"`
}
