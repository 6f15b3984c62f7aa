// Package scheduler contains the task scheduling core: the domain service,
// the crontab materializer, the execution engine and the retention reaper.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"cronflow/internal/dispatch"
	"cronflow/internal/store"
	"cronflow/internal/task"
)

const (
	// batchCreateChunk bounds how many instances a single batch create
	// prepares before writing.
	batchCreateChunk = 500

	// maxCancelBatch bounds how many instances one cancel request may touch.
	maxCancelBatch = 100

	// maxOccurrencesPerRun caps occurrence generation per crontab per
	// materializer run.
	maxOccurrencesPerRun = 100
)

// Service is the scheduling domain service. All writes to task instances,
// crontab definitions and audit logs go through it.
type Service struct {
	tasks      store.TaskStore
	crontabs   store.CrontabStore
	logs       store.LogStore
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
}

// NewService wires the domain service.
func NewService(tasks store.TaskStore, crontabs store.CrontabStore, logs store.LogStore, d dispatch.Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		tasks:      tasks,
		crontabs:   crontabs,
		logs:       logs,
		dispatcher: d,
		logger:     logger,
	}
}

// Create persists a new task instance. Creating the same (external id,
// expected time) pair twice is an idempotent no-op.
func (s *Service) Create(ctx context.Context, in *task.Instance) error {
	if err := in.PrepareForCreation(ctx); err != nil {
		return err
	}
	created, err := s.tasks.Create(ctx, in)
	if err != nil {
		return task.Infrastructure("create task instance", err)
	}
	if !created {
		s.logger.Debug("task already exists, create skipped",
			"external_id", in.ExternalID, "expect_time", in.ExpectTime)
	}
	return nil
}

// BatchCreate persists many instances in bounded chunks and returns how many
// rows were actually written. Validation failures fail the whole batch before
// anything is written.
func (s *Service) BatchCreate(ctx context.Context, ins []*task.Instance) (int, error) {
	for _, in := range ins {
		if err := in.PrepareForCreation(ctx); err != nil {
			return 0, err
		}
	}

	var created int
	for start := 0; start < len(ins); start += batchCreateChunk {
		end := start + batchCreateChunk
		if end > len(ins) {
			end = len(ins)
		}
		n, err := s.tasks.CreateBatch(ctx, ins[start:end])
		created += n
		if err != nil {
			return created, task.Infrastructure("batch create task instances", err)
		}
	}
	return created, nil
}

// CreateCrontab persists a new crontab definition. A definition with the same
// external id and cron expression may only exist once.
func (s *Service) CreateCrontab(ctx context.Context, c *task.Crontab) error {
	if err := c.PrepareForCreate(ctx); err != nil {
		return err
	}
	exists, err := s.crontabs.ExistsByExternalIDAndRule(ctx, c.ExternalID, c.Crontab)
	if err != nil {
		return task.Infrastructure("check crontab existence", err)
	}
	if exists {
		return task.BusinessRulef("crontab for %s with rule %q already exists", c.ExternalID, c.Crontab)
	}
	if err := s.crontabs.Create(ctx, c); err != nil {
		return task.Infrastructure("create crontab", err)
	}
	return nil
}

// SaveCrontab creates the definition when it has no ID yet and updates it
// otherwise.
func (s *Service) SaveCrontab(ctx context.Context, c *task.Crontab) error {
	if c.ID == 0 {
		return s.CreateCrontab(ctx, c)
	}
	if err := c.PrepareForUpdate(ctx); err != nil {
		return err
	}
	if err := s.crontabs.Save(ctx, c); err != nil {
		return task.Infrastructure("save crontab", err)
	}
	return nil
}

// GetCrontab returns a definition, or nil when it does not exist.
func (s *Service) GetCrontab(ctx context.Context, id int64) (*task.Crontab, error) {
	c, err := s.crontabs.GetByID(ctx, id)
	if err != nil {
		return nil, task.Infrastructure("get crontab", err)
	}
	return c, nil
}

// MaterializeCrontab expands one definition into concrete task instances up
// to lookaheadDays ahead, bounded by the definition's deadline and by
// maxOccurrencesPerRun. The advanced watermark is saved once at the end, and
// a definition whose deadline has been fully covered is disabled. Each
// occurrence is isolated: one failed insert does not stop the rest.
func (s *Service) MaterializeCrontab(ctx context.Context, c *task.Crontab, lookaheadDays int) (int, error) {
	if err := c.PrepareForMaterialize(); err != nil {
		return 0, err
	}

	until := time.Now().AddDate(0, 0, lookaheadDays)
	deadlineBounded := false
	if c.Deadline != nil && c.Deadline.Before(until) {
		until = *c.Deadline
		deadlineBounded = true
	}

	occurrences, next, err := c.AdvanceCursor(until, maxOccurrencesPerRun)
	if err != nil {
		return 0, err
	}

	var created int
	for _, occ := range occurrences {
		in := task.NewInstanceFromCrontab(c, occ)
		if err := in.PrepareForCreation(ctx); err != nil {
			s.logger.Warn("skipping invalid occurrence",
				"crontab_id", c.ID, "expect_time", occ, "error", err)
			continue
		}
		ok, err := s.tasks.Create(ctx, in)
		if err != nil {
			s.logger.Error("failed to create occurrence",
				"crontab_id", c.ID, "expect_time", occ, "error", err)
			continue
		}
		if ok {
			created++
		}
	}

	c.LastGenTime = next
	if deadlineBounded && len(occurrences) < maxOccurrencesPerRun {
		// Everything up to the deadline has been generated.
		c.Enabled = false
	}
	if err := s.crontabs.Save(ctx, c); err != nil {
		return created, task.Infrastructure("save crontab watermark", err)
	}
	occurrencesCreated.Add(ctx, int64(created))
	return created, nil
}

// Execute runs one claimed instance end to end: transition to Running,
// dispatch the callback, apply the retry decision, persist the outcome and
// write the audit record. The status transition is a compare-and-set; losing
// it means another node already took the instance.
func (s *Service) Execute(ctx context.Context, in *task.Instance) error {
	if err := in.PrepareForExecution(); err != nil {
		return err
	}

	tracer := otel.Tracer("cronflow/scheduler")
	ctx, span := tracer.Start(ctx, "execute_task",
		trace.WithAttributes(
			attribute.Int64("task.id", in.ID),
			attribute.String("task.external_id", in.ExternalID),
			attribute.String("task.name", in.Name),
			attribute.String("task.callback", in.Callback.Key()),
		))
	defer span.End()

	claimed, err := s.tasks.UpdateStatus(ctx, in.ID, in.Status, task.StatusRunning)
	if err != nil {
		return task.Infrastructure("claim task instance", err)
	}
	if !claimed {
		return task.BusinessRulef("task %d was claimed by another node", in.ID)
	}
	in.Status = task.StatusRunning

	result := in.Execute(ctx, s.dispatcher)

	// A failed run consumes one retry before the decision, so a budget of N
	// allows N attempts in total.
	if !result.Success {
		if in.RetryTimes > 0 {
			in.RetryTimes--
		}
		if in.RetryTimes > 0 {
			in.Status = task.StatusRetry
		}
	}

	if err := s.tasks.Save(ctx, in); err != nil {
		return task.Infrastructure("save task instance outcome", err)
	}
	s.writeLog(ctx, in, result)

	tasksExecuted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", in.Status.String())))
	executeSeconds.Record(ctx, float64(result.CostTime)/1000)

	if !result.Success {
		s.logger.Warn("task execution failed",
			"task_id", in.ID, "name", in.Name, "status", in.Status.String(),
			"retries_left", in.RetryTimes, "error", result.ErrorMessage)
	} else {
		s.logger.Info("task executed",
			"task_id", in.ID, "name", in.Name, "cost_ms", result.CostTime)
	}
	return nil
}

// Cancel moves still-claimable instances to Canceled, at most maxCancelBatch
// at a time, and writes one audit record per canceled instance. It returns
// how many instances were canceled.
func (s *Service) Cancel(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, task.Validationf("task ids cannot be empty")
	}
	if len(ids) > maxCancelBatch {
		return 0, task.BusinessRulef("cannot cancel more than %d tasks at once", maxCancelBatch)
	}

	res, err := s.tasks.Query(ctx, task.InstanceQuery{IDs: ids}, task.NoPage())
	if err != nil {
		return 0, task.Infrastructure("query tasks to cancel", err)
	}

	var eligible []*task.Instance
	var eligibleIDs []int64
	for _, in := range res.List {
		if err := in.PrepareForCancel(); err != nil {
			s.logger.Warn("skipping non-cancelable task", "task_id", in.ID, "error", err)
			continue
		}
		eligible = append(eligible, in)
		eligibleIDs = append(eligibleIDs, in.ID)
	}
	if len(eligibleIDs) == 0 {
		return 0, nil
	}

	n, err := s.tasks.CancelByIDs(ctx, eligibleIDs)
	if err != nil {
		return 0, task.Infrastructure("cancel task instances", err)
	}
	for _, in := range eligible {
		in.Status = task.StatusCanceled
		s.writeLog(ctx, in, nil)
	}
	return n, nil
}

// DeleteByIDs removes instances outright, audit-free. Used by retention and
// operator tooling.
func (s *Service) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	n, err := s.tasks.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, task.Infrastructure("delete task instances", err)
	}
	return n, nil
}

// ClearByExternalID removes every instance and definition carrying the
// business key.
func (s *Service) ClearByExternalID(ctx context.Context, externalID string) (tasks, crontabs int64, err error) {
	if externalID == "" {
		return 0, 0, task.Validationf("external id cannot be empty")
	}
	tasks, err = s.tasks.ClearByExternalID(ctx, externalID)
	if err != nil {
		return 0, 0, task.Infrastructure("clear task instances", err)
	}
	crontabs, err = s.crontabs.ClearByExternalID(ctx, externalID)
	if err != nil {
		return tasks, 0, task.Infrastructure("clear crontabs", err)
	}
	return tasks, crontabs, nil
}

// ExistsByExternalID reports whether any crontab definition carries the key.
func (s *Service) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	exists, err := s.crontabs.ExistsByExternalID(ctx, externalID)
	if err != nil {
		return false, task.Infrastructure("check crontab existence", err)
	}
	return exists, nil
}

// QueryTasks lists task instances.
func (s *Service) QueryTasks(ctx context.Context, q task.InstanceQuery, p task.Page) (*task.InstanceResult, error) {
	res, err := s.tasks.Query(ctx, q, p)
	if err != nil {
		return nil, task.Infrastructure("query task instances", err)
	}
	return res, nil
}

// QueryCrontabs lists crontab definitions.
func (s *Service) QueryCrontabs(ctx context.Context, q task.CrontabQuery, p task.Page) (*task.CrontabResult, error) {
	res, err := s.crontabs.Query(ctx, q, p)
	if err != nil {
		return nil, task.Infrastructure("query crontabs", err)
	}
	return res, nil
}

// writeLog records an audit entry; audit failures are logged, never fatal.
func (s *Service) writeLog(ctx context.Context, in *task.Instance, result *task.ExecuteResult) {
	l := task.NewLogFromInstance(in)
	l.Result = result
	if err := l.PrepareForCreation(ctx); err != nil {
		s.logger.Error("invalid audit record", "task_id", in.ID, "error", err)
		return
	}
	if err := s.logs.Create(ctx, l); err != nil {
		s.logger.Error("failed to write audit record", "task_id", in.ID, "error", err)
	}
}
