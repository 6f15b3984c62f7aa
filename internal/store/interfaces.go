// Package store defines the persistence interfaces for task instances,
// crontab definitions and execution logs.
package store

import (
	"context"
	"database/sql"
	"time"

	"cronflow/internal/task"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows passing either a connection pool or an active transaction to
// the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TaskStore persists task instances.
type TaskStore interface {
	// Create inserts a new instance and reports whether a row was written.
	// A second create for the same (external_id, expect_time) pair is a
	// no-op that returns false.
	Create(ctx context.Context, in *task.Instance) (bool, error)

	// CreateBatch inserts many instances at once, skipping duplicates, and
	// returns how many rows were written.
	CreateBatch(ctx context.Context, ins []*task.Instance) (int, error)

	// Save updates an existing instance by ID.
	Save(ctx context.Context, in *task.Instance) error

	// GetByID returns an instance, or nil when no row matches.
	GetByID(ctx context.Context, id int64) (*task.Instance, error)

	// DeleteByIDs removes instances and returns how many rows were deleted.
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)

	// CancelByIDs moves still-claimable instances to the Cancel status and
	// returns how many rows changed.
	CancelByIDs(ctx context.Context, ids []int64) (int64, error)

	// UpdateStatus moves an instance from one status to another and reports
	// whether the transition was applied.
	UpdateStatus(ctx context.Context, id int64, from, to task.Status) (bool, error)

	// ExistsByExternalIDAndExpectTime reports whether an instance already
	// exists for the business key and expected time.
	ExistsByExternalIDAndExpectTime(ctx context.Context, externalID string, expectTime time.Time) (bool, error)

	// Query lists instances matching the filter.
	Query(ctx context.Context, q task.InstanceQuery, p task.Page) (*task.InstanceResult, error)

	// ClearByExternalID removes every instance carrying the business key and
	// returns how many rows were deleted.
	ClearByExternalID(ctx context.Context, externalID string) (int64, error)
}

// CrontabStore persists crontab definitions.
type CrontabStore interface {
	// Create inserts a new definition.
	Create(ctx context.Context, c *task.Crontab) error

	// Save updates an existing definition by ID, watermark included.
	Save(ctx context.Context, c *task.Crontab) error

	// GetByID returns a definition, or nil when no row matches.
	GetByID(ctx context.Context, id int64) (*task.Crontab, error)

	// ExistsByExternalID reports whether any definition carries the key.
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)

	// ExistsByExternalIDAndRule reports whether a definition carries both
	// the key and the exact cron expression.
	ExistsByExternalIDAndRule(ctx context.Context, externalID, rule string) (bool, error)

	// Query lists definitions matching the filter.
	Query(ctx context.Context, q task.CrontabQuery, p task.Page) (*task.CrontabResult, error)

	// ClearByExternalID removes every definition carrying the business key
	// and returns how many rows were deleted.
	ClearByExternalID(ctx context.Context, externalID string) (int64, error)
}

// LogStore persists execution audit records.
type LogStore interface {
	Create(ctx context.Context, l *task.Log) error
}
