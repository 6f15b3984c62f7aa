package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"cronflow/internal/dispatch"
	"cronflow/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	tasks    *fakeTaskStore
	crontabs *fakeCrontabStore
	logs     *fakeLogStore
	registry *dispatch.Registry
	svc      *Service
}

func newTestEnv() *testEnv {
	env := &testEnv{
		tasks:    newFakeTaskStore(),
		crontabs: newFakeCrontabStore(),
		logs:     &fakeLogStore{},
		registry: dispatch.NewRegistry(),
	}
	env.registry.Register("test", "ok", func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"done"`), nil
	})
	env.registry.Register("test", "fail", func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("handler exploded")
	})
	env.svc = NewService(env.tasks, env.crontabs, env.logs, env.registry, testLogger())
	return env
}

func pendingInstance(externalID string, expect time.Time) *task.Instance {
	return &task.Instance{
		ExternalID: externalID,
		Name:       "task " + externalID,
		ExpectTime: expect,
		Callback:   dispatch.NewCallback("test", "ok", nil),
	}
}

func TestServiceCreate_Idempotent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	expect := time.Now().Add(time.Hour)

	if err := env.svc.Create(ctx, pendingInstance("order-1", expect)); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := env.svc.Create(ctx, pendingInstance("order-1", expect)); err != nil {
		t.Fatalf("duplicate create must be a no-op, got %v", err)
	}
	if n := env.tasks.count(); n != 1 {
		t.Fatalf("got %d instances, want 1", n)
	}
}

func TestServiceCreate_Validation(t *testing.T) {
	env := newTestEnv()

	in := pendingInstance("", time.Now().Add(time.Hour))
	err := env.svc.Create(context.Background(), in)
	var verr *task.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if env.tasks.count() != 0 {
		t.Fatal("nothing should be written on validation failure")
	}
}

func TestServiceBatchCreate(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	base := time.Now().Add(time.Hour)

	var ins []*task.Instance
	for i := 0; i < 3; i++ {
		ins = append(ins, pendingInstance("batch-1", base.Add(time.Duration(i)*time.Minute)))
	}
	created, err := env.svc.BatchCreate(ctx, ins)
	if err != nil {
		t.Fatalf("BatchCreate: %v", err)
	}
	if created != 3 {
		t.Fatalf("got %d created, want 3", created)
	}

	// A validation failure anywhere fails the batch before any write.
	bad := []*task.Instance{
		pendingInstance("batch-2", base),
		{Name: "missing external id", ExpectTime: base, Callback: dispatch.NewCallback("test", "ok", nil)},
	}
	if _, err := env.svc.BatchCreate(ctx, bad); err == nil {
		t.Fatal("expected validation error")
	}
	if env.tasks.count() != 3 {
		t.Fatalf("failed batch must not write, got %d instances", env.tasks.count())
	}
}

func TestServiceCreateCrontab_RejectsDuplicateRule(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	c := &task.Crontab{
		ExternalID: "report-1",
		Name:       "daily report",
		Crontab:    "30 9 * * *",
		Enabled:    true,
		Callback:   dispatch.NewCallback("test", "ok", nil),
	}
	if err := env.svc.CreateCrontab(ctx, c); err != nil {
		t.Fatalf("CreateCrontab: %v", err)
	}

	dup := &task.Crontab{
		ExternalID: "report-1",
		Name:       "daily report again",
		Crontab:    "30 9 * * *",
		Enabled:    true,
		Callback:   dispatch.NewCallback("test", "ok", nil),
	}
	err := env.svc.CreateCrontab(ctx, dup)
	var berr *task.BusinessRuleError
	if !errors.As(err, &berr) {
		t.Fatalf("expected BusinessRuleError, got %v", err)
	}
}

func TestServiceExecute_Success(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	in := pendingInstance("exec-1", time.Now())
	if err := env.svc.Create(ctx, in); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := env.svc.Execute(ctx, in); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	stored := env.tasks.byID(in.ID)
	if stored.Status != task.StatusSuccess {
		t.Fatalf("got status %s, want success", stored.Status)
	}
	if stored.ActualTime == nil {
		t.Fatal("actual time must be recorded")
	}

	logs := env.logs.entries()
	if len(logs) != 1 {
		t.Fatalf("got %d audit records, want 1", len(logs))
	}
	if !logs[0].Result.Success {
		t.Fatal("audit record must carry the successful result")
	}
	if string(logs[0].Result.Output) != `"done"` {
		t.Fatalf("got output %s", logs[0].Result.Output)
	}
}

func TestServiceExecute_FailureConsumesRetryBudget(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	in := pendingInstance("exec-2", time.Now())
	in.Callback = dispatch.NewCallback("test", "fail", nil)
	in.RetryTimes = 2
	if err := env.svc.Create(ctx, in); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := env.svc.Execute(ctx, in); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	stored := env.tasks.byID(in.ID)
	if stored.Status != task.StatusRetry {
		t.Fatalf("got status %s, want retry", stored.Status)
	}
	if stored.RetryTimes != 1 {
		t.Fatalf("got %d retries left, want 1", stored.RetryTimes)
	}

	// The second failing run consumes the last retry and terminates.
	if err := env.svc.Execute(ctx, stored); err != nil {
		t.Fatalf("Execute #2: %v", err)
	}
	stored = env.tasks.byID(in.ID)
	if stored.Status != task.StatusFailed {
		t.Fatalf("got status %s, want failed", stored.Status)
	}
	if stored.RetryTimes != 0 {
		t.Fatalf("got %d retries left, want 0", stored.RetryTimes)
	}
}

func TestServiceExecute_SingleRetryFailsTerminally(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	in := pendingInstance("exec-single-retry", time.Now())
	in.Callback = dispatch.NewCallback("test", "fail", nil)
	in.RetryTimes = 1
	if err := env.svc.Create(ctx, in); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// One failure spends the whole budget; the instance must not go back
	// into rotation.
	if err := env.svc.Execute(ctx, in); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	stored := env.tasks.byID(in.ID)
	if stored.Status != task.StatusFailed {
		t.Fatalf("got status %s, want failed", stored.Status)
	}
	if stored.RetryTimes != 0 {
		t.Fatalf("got %d retries left, want 0", stored.RetryTimes)
	}
}

func TestServiceExecute_LostClaim(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	in := pendingInstance("exec-3", time.Now())
	if err := env.svc.Create(ctx, in); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Another node moved the row first.
	if _, err := env.tasks.UpdateStatus(ctx, in.ID, task.StatusPending, task.StatusRunning); err != nil {
		t.Fatal(err)
	}

	err := env.svc.Execute(ctx, in)
	var berr *task.BusinessRuleError
	if !errors.As(err, &berr) {
		t.Fatalf("expected BusinessRuleError, got %v", err)
	}
	if len(env.logs.entries()) != 0 {
		t.Fatal("a lost claim must not produce an audit record")
	}
}

func TestServiceExecute_RejectsTerminalStatus(t *testing.T) {
	env := newTestEnv()

	in := pendingInstance("exec-4", time.Now())
	in.Status = task.StatusSuccess
	in.ID = 1

	err := env.svc.Execute(context.Background(), in)
	var berr *task.BusinessRuleError
	if !errors.As(err, &berr) {
		t.Fatalf("expected BusinessRuleError, got %v", err)
	}
}

func TestServiceCancel(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	claimable := pendingInstance("cancel-1", time.Now().Add(time.Hour))
	terminal := pendingInstance("cancel-2", time.Now().Add(time.Hour))
	if err := env.svc.Create(ctx, claimable); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Create(ctx, terminal); err != nil {
		t.Fatal(err)
	}
	env.tasks.byID(terminal.ID).Status = task.StatusSuccess

	n, err := env.svc.Cancel(ctx, []int64{claimable.ID, terminal.ID})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d canceled, want 1", n)
	}
	if got := env.tasks.byID(claimable.ID).Status; got != task.StatusCanceled {
		t.Fatalf("got status %s, want canceled", got)
	}
	if got := env.tasks.byID(terminal.ID).Status; got != task.StatusSuccess {
		t.Fatalf("terminal instance must be untouched, got %s", got)
	}
	if len(env.logs.entries()) != 1 {
		t.Fatalf("got %d audit records, want 1", len(env.logs.entries()))
	}
}

func TestServiceCancel_BatchLimit(t *testing.T) {
	env := newTestEnv()

	ids := make([]int64, maxCancelBatch+1)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	_, err := env.svc.Cancel(context.Background(), ids)
	var berr *task.BusinessRuleError
	if !errors.As(err, &berr) {
		t.Fatalf("expected BusinessRuleError, got %v", err)
	}
}

func TestServiceMaterializeCrontab(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	c := &task.Crontab{
		ExternalID:  "mat-1",
		Name:        "hourly",
		Crontab:     "0 * * * *",
		LastGenTime: time.Now().Add(-time.Hour),
		Enabled:     true,
		Callback:    dispatch.NewCallback("test", "ok", nil),
	}
	if err := env.svc.CreateCrontab(ctx, c); err != nil {
		t.Fatalf("CreateCrontab: %v", err)
	}

	created, err := env.svc.MaterializeCrontab(ctx, c, 3)
	if err != nil {
		t.Fatalf("MaterializeCrontab: %v", err)
	}
	// An hourly rule over a 3 day window stays under the per-run cap.
	if created < 70 || created > maxOccurrencesPerRun {
		t.Fatalf("got %d created, want roughly 73", created)
	}
	if env.tasks.count() != created {
		t.Fatalf("store holds %d instances, want %d", env.tasks.count(), created)
	}

	saved := env.crontabs.byID(c.ID)
	if !saved.LastGenTime.After(time.Now()) {
		t.Fatalf("watermark must advance past now, got %v", saved.LastGenTime)
	}

	// A second run over the same window creates nothing new.
	again, err := env.svc.MaterializeCrontab(ctx, saved, 3)
	if err != nil {
		t.Fatalf("second MaterializeCrontab: %v", err)
	}
	if again != 0 {
		t.Fatalf("second run created %d instances, want 0", again)
	}
}

func TestServiceMaterializeCrontab_CapsPerRun(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	c := &task.Crontab{
		ExternalID:  "mat-2",
		Name:        "every minute",
		Crontab:     "* * * * *",
		LastGenTime: time.Now().Add(-time.Hour),
		Enabled:     true,
		Callback:    dispatch.NewCallback("test", "ok", nil),
	}
	if err := env.svc.CreateCrontab(ctx, c); err != nil {
		t.Fatal(err)
	}

	created, err := env.svc.MaterializeCrontab(ctx, c, 3)
	if err != nil {
		t.Fatalf("MaterializeCrontab: %v", err)
	}
	if created != maxOccurrencesPerRun {
		t.Fatalf("got %d created, want the per-run cap %d", created, maxOccurrencesPerRun)
	}
}

func TestServiceMaterializeCrontab_DisablesOnDeadline(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	deadline := time.Now().Add(90 * time.Minute)
	c := &task.Crontab{
		ExternalID:  "mat-3",
		Name:        "short lived",
		Crontab:     "0 * * * *",
		LastGenTime: time.Now().Add(-time.Hour),
		Enabled:     true,
		Deadline:    &deadline,
		Callback:    dispatch.NewCallback("test", "ok", nil),
	}
	if err := env.svc.CreateCrontab(ctx, c); err != nil {
		t.Fatal(err)
	}

	if _, err := env.svc.MaterializeCrontab(ctx, c, 3); err != nil {
		t.Fatalf("MaterializeCrontab: %v", err)
	}

	saved := env.crontabs.byID(c.ID)
	if saved.Enabled {
		t.Fatal("a definition fully covered to its deadline must be disabled")
	}
	if saved.LastGenTime.After(deadline) {
		t.Fatalf("watermark %v must not pass the deadline %v", saved.LastGenTime, deadline)
	}
}

func TestServiceMaterializeCrontab_RejectsDisabled(t *testing.T) {
	env := newTestEnv()

	c := &task.Crontab{
		ID:          1,
		ExternalID:  "mat-4",
		Name:        "disabled",
		Crontab:     "0 * * * *",
		LastGenTime: time.Now(),
		Enabled:     false,
		Callback:    dispatch.NewCallback("test", "ok", nil),
	}
	_, err := env.svc.MaterializeCrontab(context.Background(), c, 3)
	var verr *task.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestServiceClearByExternalID(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if err := env.svc.Create(ctx, pendingInstance("clear-1", time.Now().Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	c := &task.Crontab{
		ExternalID: "clear-1",
		Name:       "to clear",
		Crontab:    "0 * * * *",
		Enabled:    true,
		Callback:   dispatch.NewCallback("test", "ok", nil),
	}
	if err := env.svc.CreateCrontab(ctx, c); err != nil {
		t.Fatal(err)
	}

	tasks, crontabs, err := env.svc.ClearByExternalID(ctx, "clear-1")
	if err != nil {
		t.Fatalf("ClearByExternalID: %v", err)
	}
	if tasks != 1 || crontabs != 1 {
		t.Fatalf("got tasks=%d crontabs=%d, want 1 and 1", tasks, crontabs)
	}
}
