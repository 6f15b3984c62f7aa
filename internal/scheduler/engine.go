package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"cronflow/internal/lock"
	"cronflow/internal/logger"
	"cronflow/internal/task"
)

// EngineConfig holds configuration for the execution engine.
type EngineConfig struct {
	// ID identifies this node; it doubles as the lock owner token.
	ID string
	// Concurrency bounds how many instances run at once (default: 500).
	Concurrency int
	// LockTTL is how long the per-instance execution lock lives
	// (default: 10m).
	LockTTL time.Duration
	// PageSize is how many due instances one poll page claims (default: 200).
	PageSize int
	// MaxPages bounds how many pages a single poll walks (default: 1000).
	MaxPages int
	// PollInterval is the delay between polls (default: 10s).
	PollInterval time.Duration
	// RatePerSecond throttles dispatches across the node; zero means
	// unlimited.
	RatePerSecond float64
}

func (c *EngineConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 500
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	if c.PageSize <= 0 {
		c.PageSize = 200
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 1000
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
}

// Engine polls for due task instances and executes them under a distributed
// per-instance lock, so a cluster of nodes can share one table safely.
type Engine struct {
	svc     *Service
	locker  lock.Locker
	config  EngineConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	done    chan struct{}
}

// NewEngine creates an execution engine.
func NewEngine(svc *Service, locker lock.Locker, config EngineConfig, logger *slog.Logger) *Engine {
	config.applyDefaults()

	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}

	return &Engine{
		svc:     svc,
		locker:  locker,
		config:  config,
		limiter: rate.NewLimiter(limit, config.Concurrency),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Run polls until the context is cancelled, letting in-flight executions
// finish before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("execution engine starting",
		"node_id", e.config.ID, "concurrency", e.config.Concurrency,
		"poll_interval", e.config.PollInterval)

	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := e.runOnce(ctx, sem, &wg); err != nil {
			e.logger.Error("poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			e.logger.Info("execution engine stopping, draining in-flight tasks")
			wg.Wait()
			close(e.done)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Done returns a channel closed once the engine has fully drained.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// RunOnce walks one full poll synchronously. Used by tests and one-shot
// tooling.
func (e *Engine) RunOnce(ctx context.Context) (int, error) {
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup
	n, err := e.runOnce(ctx, sem, &wg)
	wg.Wait()
	return n, err
}

// runOnce pages through due instances and hands each to a worker goroutine.
// A row two nodes both see is harmless: the per-instance lock and the
// compare-and-set claim let only one of them run it.
func (e *Engine) runOnce(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) (int, error) {
	// Tag the sweep so log lines from its worker goroutines correlate.
	ctx = logger.WithRunID(ctx, uuid.NewString())

	now := time.Now()
	query := task.InstanceQuery{
		Statuses:      []task.Status{task.StatusPending, task.StatusRetry},
		ExpectTimeLTE: &now,
		Order:         []task.Order{{Column: "expect_time", Direction: "asc"}},
	}

	var dispatched int
	for page := 0; page < e.config.MaxPages; page++ {
		res, err := e.svc.QueryTasks(ctx, query, task.NewPage(page+1, e.config.PageSize))
		if err != nil {
			return dispatched, err
		}
		if len(res.List) == 0 {
			break
		}

		for _, in := range res.List {
			if err := e.limiter.Wait(ctx); err != nil {
				return dispatched, err
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return dispatched, ctx.Err()
			}

			wg.Add(1)
			dispatched++
			go func(id int64) {
				defer wg.Done()
				defer func() { <-sem }()
				e.runOne(ctx, id)
			}(in.ID)
		}

		if len(res.List) < e.config.PageSize {
			break
		}
	}
	return dispatched, nil
}

// runOne executes a single instance under its distributed lock. A lock held
// elsewhere is a silent skip: some other node owns this instance.
func (e *Engine) runOne(ctx context.Context, id int64) {
	log := logger.FromContext(ctx, e.logger)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during task execution", "task_id", id, "panic", r)
		}
	}()

	name := fmt.Sprintf("execute-%d", id)
	acquired, err := e.locker.Acquire(ctx, name, e.config.ID, e.config.LockTTL)
	if err != nil {
		log.Error("failed to acquire execution lock", "task_id", id, "error", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if _, err := e.locker.Release(context.WithoutCancel(ctx), name, e.config.ID); err != nil {
			log.Error("failed to release execution lock", "task_id", id, "error", err)
		}
	}()

	// Re-read under the lock: the instance may have moved on since the poll.
	in, err := e.svc.tasks.GetByID(ctx, id)
	if err != nil {
		log.Error("failed to load task instance", "task_id", id, "error", err)
		return
	}
	if in == nil || !in.Status.Claimable() {
		return
	}

	if err := e.svc.Execute(ctx, in); err != nil {
		var berr *task.BusinessRuleError
		if errors.As(err, &berr) {
			log.Debug("task not executed", "task_id", id, "reason", berr.Msg)
			return
		}
		log.Error("task execution errored", "task_id", id, "error", err)

		// A mid-run failure must not strand the row in Running, where the
		// poll would never see it again. Best effort: the row may not have
		// reached Running yet.
		forced, ferr := e.svc.tasks.UpdateStatus(context.WithoutCancel(ctx), id, task.StatusRunning, task.StatusFailed)
		if ferr != nil {
			log.Error("failed to force task to failed", "task_id", id, "error", ferr)
			return
		}
		if forced {
			log.Warn("task forced to failed after execution error", "task_id", id)
		}
	}
}
