package task

import (
	"context"
	"time"

	"cronflow/internal/dispatch"
)

// Log is the immutable audit record written once per execution or
// cancellation attempt. It mirrors the instance fields at the time of the
// event plus the execution result.
type Log struct {
	ID          int64
	TaskID      int64
	Environment string
	ExternalID  string
	Name        string
	ExpectTime  time.Time
	ActualTime  *time.Time
	CostTime    int64
	Status      Status
	Origin      OriginType
	Callback    dispatch.Callback
	Remark      string
	Creator     string
	CreatedAt   time.Time
	Result      *ExecuteResult
}

// NewLogFromInstance snapshots an instance into an audit log entry.
func NewLogFromInstance(in *Instance) *Log {
	return &Log{
		TaskID:      in.ID,
		Environment: in.Environment,
		ExternalID:  in.ExternalID,
		Name:        in.Name,
		ExpectTime:  in.ExpectTime,
		ActualTime:  in.ActualTime,
		CostTime:    in.CostTime,
		Status:      in.Status,
		Origin:      in.Origin,
		Callback:    in.Callback,
		Remark:      in.Remark,
		Creator:     in.Creator,
		CreatedAt:   time.Now(),
	}
}

// PrepareForCreation validates the snapshot before it is written.
func (l *Log) PrepareForCreation(ctx context.Context) error {
	if l.Environment == "" {
		l.Environment = EnvironmentFromContext(ctx)
	}
	if l.TaskID == 0 {
		return Validationf("task id cannot be empty")
	}
	if l.ExternalID == "" {
		return Validationf("external id cannot be empty")
	}
	if l.Name == "" {
		return Validationf("task name cannot be empty")
	}
	if l.ExpectTime.IsZero() {
		return Validationf("expected execution time cannot be empty")
	}
	l.ID = 0
	return nil
}
