package task

import (
	"context"
	"time"

	"cronflow/internal/dispatch"
)

// Instance is one concrete, schedulable unit of work: a named callback to run
// at a minute-precision expected time, with a remaining retry budget.
type Instance struct {
	ID          int64
	Environment string
	// ExternalID is the caller-supplied business key. Together with
	// ExpectTime it uniquely identifies an instance; a second create for the
	// same pair is a no-op.
	ExternalID string
	Name       string
	ExpectTime time.Time
	Origin     OriginType
	// RetryTimes is the remaining retry count, decremented on each failed
	// attempt.
	RetryTimes int
	ActualTime *time.Time
	// CostTime is the last execution duration in whole milliseconds.
	CostTime  int64
	Status    Status
	Callback  dispatch.Callback
	Remark    string
	Creator   string
	CreatedAt time.Time
}

// NewInstanceFromCrontab builds an unsaved instance for one occurrence of a
// crontab definition, copying the definition's identity and callback.
func NewInstanceFromCrontab(c *Crontab, expectTime time.Time) *Instance {
	return &Instance{
		Environment: c.Environment,
		ExternalID:  c.ExternalID,
		Name:        c.Name,
		ExpectTime:  expectTime,
		Origin:      OriginCron,
		RetryTimes:  c.RetryTimes,
		Callback:    c.Callback,
		Remark:      c.Remark,
		Creator:     c.Creator,
		CreatedAt:   time.Now(),
	}
}

// ShouldCreate reports whether the instance has not been persisted yet.
func (i *Instance) ShouldCreate() bool { return i.ID == 0 }

// PrepareForCreation validates and normalizes the instance before its first
// save: required fields checked, environment defaulted from the context,
// negative retries clamped to zero, status forced to Pending.
func (i *Instance) PrepareForCreation(ctx context.Context) error {
	if i.Environment == "" {
		i.Environment = EnvironmentFromContext(ctx)
	}
	if i.ExternalID == "" {
		return Validationf("external id cannot be empty")
	}
	if i.Name == "" {
		return Validationf("task name cannot be empty")
	}
	if i.ExpectTime.IsZero() {
		return Validationf("expected execution time cannot be empty")
	}
	if i.Origin == 0 {
		i.Origin = OriginCron
	}
	if i.RetryTimes < 0 {
		i.RetryTimes = 0
	}
	if !i.Callback.Valid() {
		return Validationf("callback descriptor must have exactly two non-empty components")
	}

	i.ID = 0
	i.CreatedAt = time.Now()
	i.Status = StatusPending
	return nil
}

// PrepareForExecution checks the instance may be claimed for execution.
func (i *Instance) PrepareForExecution() error {
	if !i.Status.Claimable() {
		return BusinessRulef("only pending or retry tasks can be executed, status is %s", i.Status)
	}
	return nil
}

// PrepareForCancel checks the instance may be canceled.
func (i *Instance) PrepareForCancel() error {
	if !i.Status.Claimable() {
		return BusinessRulef("only pending or retry tasks can be canceled, status is %s", i.Status)
	}
	return nil
}

// Execute runs the instance's callback through the dispatcher, measuring
// elapsed time in whole milliseconds. As a side effect of measuring it records
// the actual execution time and sets the instance's cost time and a
// provisional Success/Failed status; the caller applies the retry-vs-failed
// decision on top.
func (i *Instance) Execute(ctx context.Context, d dispatch.Dispatcher) *ExecuteResult {
	now := time.Now()
	i.ActualTime = &now

	result := &ExecuteResult{}
	start := time.Now()
	output, err := d.Dispatch(ctx, i.Callback)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		result.Success = false
		result.ErrorMessage = err.Error()
	} else {
		result.Success = true
		result.Output = output
	}
	result.CostTime = elapsed
	i.CostTime = elapsed
	if result.Success {
		i.Status = StatusSuccess
	} else {
		i.Status = StatusFailed
	}
	return result
}
