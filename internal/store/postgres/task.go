package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"cronflow/internal/dispatch"
	"cronflow/internal/task"
)

// TaskRepo implements store.TaskStore.
type TaskRepo struct {
	db *sql.DB
}

// Tasks returns the task instance repository.
func (s *Store) Tasks() *TaskRepo { return &TaskRepo{db: s.db} }

const taskColumns = `id, environment, external_id, name, expect_time, origin, retry_times,
	actual_time, cost_time, status, callback_method, callback_params, remark, creator, created_at`

// Create inserts a new instance. The unique index on (external_id,
// expect_time) makes a duplicate create a no-op; the returned bool reports
// whether a row was actually written.
func (r *TaskRepo) Create(ctx context.Context, in *task.Instance) (bool, error) {
	query := `
		INSERT INTO task_instance (environment, external_id, name, expect_time, origin, retry_times,
			actual_time, cost_time, status, callback_method, callback_params, remark, creator, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (external_id, expect_time) DO NOTHING
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		in.Environment,
		in.ExternalID,
		in.Name,
		in.ExpectTime,
		in.Origin,
		in.RetryTimes,
		in.ActualTime,
		in.CostTime,
		in.Status,
		pq.Array(in.Callback.Method),
		nullableJSON(in.Callback.Params),
		in.Remark,
		in.Creator,
		in.CreatedAt,
	).Scan(&in.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create task instance: %w", err)
	}
	return true, nil
}

// CreateBatch inserts many instances in one statement and returns how many
// rows were actually written; duplicates on (external_id, expect_time) are
// silently skipped. Inserted IDs are not reported back to the instances.
func (r *TaskRepo) CreateBatch(ctx context.Context, ins []*task.Instance) (int, error) {
	if len(ins) == 0 {
		return 0, nil
	}

	const fieldsPerRow = 14
	placeholders := make([]string, 0, len(ins))
	args := make([]any, 0, len(ins)*fieldsPerRow)
	for i, in := range ins {
		base := i * fieldsPerRow
		row := make([]string, fieldsPerRow)
		for j := range row {
			row[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(row, ", ")+")")
		args = append(args,
			in.Environment,
			in.ExternalID,
			in.Name,
			in.ExpectTime,
			in.Origin,
			in.RetryTimes,
			in.ActualTime,
			in.CostTime,
			in.Status,
			pq.Array(in.Callback.Method),
			nullableJSON(in.Callback.Params),
			in.Remark,
			in.Creator,
			in.CreatedAt,
		)
	}

	query := `
		INSERT INTO task_instance (environment, external_id, name, expect_time, origin, retry_times,
			actual_time, cost_time, status, callback_method, callback_params, remark, creator, created_at)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON CONFLICT (external_id, expect_time) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to batch create task instances: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count batch created task instances: %w", err)
	}
	return int(n), nil
}

// Save updates an existing instance by ID.
func (r *TaskRepo) Save(ctx context.Context, in *task.Instance) error {
	query := `
		UPDATE task_instance
		SET environment = $1, external_id = $2, name = $3, expect_time = $4, origin = $5,
			retry_times = $6, actual_time = $7, cost_time = $8, status = $9,
			callback_method = $10, callback_params = $11, remark = $12, creator = $13
		WHERE id = $14
	`
	_, err := r.db.ExecContext(ctx, query,
		in.Environment,
		in.ExternalID,
		in.Name,
		in.ExpectTime,
		in.Origin,
		in.RetryTimes,
		in.ActualTime,
		in.CostTime,
		in.Status,
		pq.Array(in.Callback.Method),
		nullableJSON(in.Callback.Params),
		in.Remark,
		in.Creator,
		in.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save task instance %d: %w", in.ID, err)
	}
	return nil
}

// GetByID returns an instance, or nil when no row matches.
func (r *TaskRepo) GetByID(ctx context.Context, id int64) (*task.Instance, error) {
	query := "SELECT " + taskColumns + " FROM task_instance WHERE id = $1"
	in, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task instance %d: %w", id, err)
	}
	return in, nil
}

// DeleteByIDs removes instances and returns the number of deleted rows.
func (r *TaskRepo) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, "DELETE FROM task_instance WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete task instances: %w", err)
	}
	return res.RowsAffected()
}

// CancelByIDs moves still-claimable instances to Canceled. Rows in any other
// state are left untouched.
func (r *TaskRepo) CancelByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE task_instance
		SET status = $1
		WHERE id = ANY($2) AND status IN ($3, $4)
	`, task.StatusCanceled, pq.Array(ids), task.StatusPending, task.StatusRetry)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel task instances: %w", err)
	}
	return res.RowsAffected()
}

// UpdateStatus applies a compare-and-set status transition and reports
// whether the row changed.
func (r *TaskRepo) UpdateStatus(ctx context.Context, id int64, from, to task.Status) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE task_instance SET status = $1 WHERE id = $2 AND status = $3", to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update status of task instance %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExistsByExternalIDAndExpectTime reports whether an instance already exists
// for the business key and expected time.
func (r *TaskRepo) ExistsByExternalIDAndExpectTime(ctx context.Context, externalID string, expectTime time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM task_instance WHERE external_id = $1 AND expect_time = $2)",
		externalID, expectTime).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check task instance existence: %w", err)
	}
	return exists, nil
}

// ClearByExternalID removes every instance carrying the business key.
func (r *TaskRepo) ClearByExternalID(ctx context.Context, externalID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM task_instance WHERE external_id = $1", externalID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear task instances for %s: %w", externalID, err)
	}
	return res.RowsAffected()
}

// Query lists instances matching the filter, scoped to the context's
// environment when one is set.
func (r *TaskRepo) Query(ctx context.Context, q task.InstanceQuery, p task.Page) (*task.InstanceResult, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if env := task.EnvironmentFromContext(ctx); env != "" {
		conds = append(conds, "environment = "+arg(env))
	}
	if len(q.IDs) > 0 {
		conds = append(conds, "id = ANY("+arg(pq.Array(q.IDs))+")")
	}
	if len(q.ExternalIDs) > 0 {
		conds = append(conds, "external_id = ANY("+arg(pq.Array(q.ExternalIDs))+")")
	}
	if len(q.Statuses) > 0 {
		conds = append(conds, "status = ANY("+arg(pq.Array(q.Statuses))+")")
	}
	if q.ExpectTimeLTE != nil {
		conds = append(conds, "expect_time <= "+arg(*q.ExpectTimeLTE))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	result := &task.InstanceResult{}
	if p.Enabled() {
		countQuery := "SELECT COUNT(*) FROM task_instance" + where
		if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&result.Total); err != nil {
			return nil, fmt.Errorf("failed to count task instances: %w", err)
		}
	}

	query := "SELECT " + taskColumns + " FROM task_instance" + where + orderClause(q.Order, instanceOrderColumns)
	if p.Enabled() {
		query += fmt.Sprintf(" LIMIT %s OFFSET %s", arg(p.Size()), arg(p.Offset()))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task instances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		in, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task instance: %w", err)
		}
		result.List = append(result.List, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task instance rows error: %w", err)
	}
	return result, nil
}

// instanceOrderColumns is the sortable column whitelist for instance queries.
var instanceOrderColumns = map[string]bool{
	"id":          true,
	"expect_time": true,
	"created_at":  true,
	"status":      true,
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row rowScanner) (*task.Instance, error) {
	var in task.Instance
	var methods pq.StringArray
	var params []byte
	var actualTime sql.NullTime

	err := row.Scan(
		&in.ID,
		&in.Environment,
		&in.ExternalID,
		&in.Name,
		&in.ExpectTime,
		&in.Origin,
		&in.RetryTimes,
		&actualTime,
		&in.CostTime,
		&in.Status,
		&methods,
		&params,
		&in.Remark,
		&in.Creator,
		&in.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if actualTime.Valid {
		t := actualTime.Time
		in.ActualTime = &t
	}
	in.Callback = dispatch.Callback{Method: methods, Params: params}
	return &in, nil
}

// orderClause renders validated ORDER BY terms; unknown columns and
// directions are dropped.
func orderClause(orders []task.Order, allowed map[string]bool) string {
	var terms []string
	for _, o := range orders {
		if !allowed[o.Column] {
			continue
		}
		dir := strings.ToUpper(o.Direction)
		if dir != "ASC" && dir != "DESC" {
			dir = "ASC"
		}
		terms = append(terms, o.Column+" "+dir)
	}
	if len(terms) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}

// nullableJSON maps an empty payload to SQL NULL.
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
