package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"cronflow/internal/task"
)

// LogRepo implements store.LogStore.
type LogRepo struct {
	db *sql.DB
}

// Logs returns the execution audit log repository.
func (s *Store) Logs() *LogRepo { return &LogRepo{db: s.db} }

// Create writes one audit record. The execution result is stored as JSON.
func (r *LogRepo) Create(ctx context.Context, l *task.Log) error {
	var result interface{}
	if l.Result != nil {
		raw, err := json.Marshal(l.Result)
		if err != nil {
			return fmt.Errorf("failed to encode execution result: %w", err)
		}
		result = raw
	}

	query := `
		INSERT INTO task_log (task_id, environment, external_id, name, expect_time, actual_time,
			cost_time, status, origin, callback_method, callback_params, remark, creator, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		l.TaskID,
		l.Environment,
		l.ExternalID,
		l.Name,
		l.ExpectTime,
		l.ActualTime,
		l.CostTime,
		l.Status,
		l.Origin,
		pq.Array(l.Callback.Method),
		nullableJSON(l.Callback.Params),
		l.Remark,
		l.Creator,
		result,
		l.CreatedAt,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("failed to create task log: %w", err)
	}
	return nil
}
