package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"cronflow/internal/dispatch"
	"cronflow/internal/task"
)

// CrontabRepo implements store.CrontabStore.
type CrontabRepo struct {
	db *sql.DB
}

// Crontabs returns the crontab definition repository.
func (s *Store) Crontabs() *CrontabRepo { return &CrontabRepo{db: s.db} }

const crontabColumns = `id, environment, external_id, name, crontab, last_gen_time, enabled,
	retry_times, callback_method, callback_params, deadline, remark, creator, filter_id, created_at`

// Create inserts a new definition and fills in its assigned ID.
func (r *CrontabRepo) Create(ctx context.Context, c *task.Crontab) error {
	query := `
		INSERT INTO task_crontab (environment, external_id, name, crontab, last_gen_time, enabled,
			retry_times, callback_method, callback_params, deadline, remark, creator, filter_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		c.Environment,
		c.ExternalID,
		c.Name,
		c.Crontab,
		c.LastGenTime,
		c.Enabled,
		c.RetryTimes,
		pq.Array(c.Callback.Method),
		nullableJSON(c.Callback.Params),
		c.Deadline,
		c.Remark,
		c.Creator,
		c.FilterID,
		c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to create crontab: %w", err)
	}
	return nil
}

// Save updates an existing definition by ID, the materialization watermark
// included.
func (r *CrontabRepo) Save(ctx context.Context, c *task.Crontab) error {
	query := `
		UPDATE task_crontab
		SET environment = $1, external_id = $2, name = $3, crontab = $4, last_gen_time = $5,
			enabled = $6, retry_times = $7, callback_method = $8, callback_params = $9,
			deadline = $10, remark = $11, creator = $12, filter_id = $13
		WHERE id = $14
	`
	_, err := r.db.ExecContext(ctx, query,
		c.Environment,
		c.ExternalID,
		c.Name,
		c.Crontab,
		c.LastGenTime,
		c.Enabled,
		c.RetryTimes,
		pq.Array(c.Callback.Method),
		nullableJSON(c.Callback.Params),
		c.Deadline,
		c.Remark,
		c.Creator,
		c.FilterID,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save crontab %d: %w", c.ID, err)
	}
	return nil
}

// GetByID returns a definition, or nil when no row matches.
func (r *CrontabRepo) GetByID(ctx context.Context, id int64) (*task.Crontab, error) {
	query := "SELECT " + crontabColumns + " FROM task_crontab WHERE id = $1"
	c, err := scanCrontab(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crontab %d: %w", id, err)
	}
	return c, nil
}

// ExistsByExternalID reports whether any definition carries the key.
func (r *CrontabRepo) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM task_crontab WHERE external_id = $1)", externalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check crontab existence: %w", err)
	}
	return exists, nil
}

// ExistsByExternalIDAndRule reports whether a definition carries both the key
// and the exact cron expression.
func (r *CrontabRepo) ExistsByExternalIDAndRule(ctx context.Context, externalID, rule string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM task_crontab WHERE external_id = $1 AND crontab = $2)",
		externalID, rule).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check crontab existence: %w", err)
	}
	return exists, nil
}

// ClearByExternalID removes every definition carrying the business key.
func (r *CrontabRepo) ClearByExternalID(ctx context.Context, externalID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM task_crontab WHERE external_id = $1", externalID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear crontabs for %s: %w", externalID, err)
	}
	return res.RowsAffected()
}

// Query lists definitions matching the filter, scoped to the context's
// environment when one is set.
func (r *CrontabRepo) Query(ctx context.Context, q task.CrontabQuery, p task.Page) (*task.CrontabResult, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if env := task.EnvironmentFromContext(ctx); env != "" {
		conds = append(conds, "environment = "+arg(env))
	}
	if q.WatermarkLTE != nil {
		conds = append(conds, "last_gen_time <= "+arg(*q.WatermarkLTE))
	}
	if q.Enabled != nil {
		conds = append(conds, "enabled = "+arg(*q.Enabled))
	}
	if q.Creator != "" {
		conds = append(conds, "creator = "+arg(q.Creator))
	}
	if q.FilterID != "" {
		conds = append(conds, "filter_id LIKE "+arg("%"+q.FilterID+"%"))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	result := &task.CrontabResult{}
	if p.Enabled() {
		countQuery := "SELECT COUNT(*) FROM task_crontab" + where
		if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&result.Total); err != nil {
			return nil, fmt.Errorf("failed to count crontabs: %w", err)
		}
	}

	query := "SELECT " + crontabColumns + " FROM task_crontab" + where + orderClause(q.Order, crontabOrderColumns)
	if p.Enabled() {
		query += fmt.Sprintf(" LIMIT %s OFFSET %s", arg(p.Size()), arg(p.Offset()))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query crontabs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCrontab(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crontab: %w", err)
		}
		result.List = append(result.List, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("crontab rows error: %w", err)
	}
	return result, nil
}

var crontabOrderColumns = map[string]bool{
	"id":            true,
	"last_gen_time": true,
	"created_at":    true,
}

func scanCrontab(row rowScanner) (*task.Crontab, error) {
	var c task.Crontab
	var methods pq.StringArray
	var params []byte
	var deadline sql.NullTime

	err := row.Scan(
		&c.ID,
		&c.Environment,
		&c.ExternalID,
		&c.Name,
		&c.Crontab,
		&c.LastGenTime,
		&c.Enabled,
		&c.RetryTimes,
		&methods,
		&params,
		&deadline,
		&c.Remark,
		&c.Creator,
		&c.FilterID,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if deadline.Valid {
		t := deadline.Time
		c.Deadline = &t
	}
	c.Callback = dispatch.Callback{Method: methods, Params: params}
	return &c, nil
}
