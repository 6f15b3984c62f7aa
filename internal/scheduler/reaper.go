package scheduler

import (
	"context"
	"log/slog"
	"time"

	"cronflow/internal/task"
)

// ReaperConfig holds configuration for the retention reaper.
type ReaperConfig struct {
	// RetentionDays is how long finished instances are kept (default: 10).
	RetentionDays int
	// Interval is the delay between sweeps (default: 1h).
	Interval time.Duration
	// PageSize is how many rows one delete batch covers (default: 1000).
	PageSize int
	// MaxPages bounds how many batches a single sweep deletes (default: 100).
	MaxPages int
}

func (c *ReaperConfig) applyDefaults() {
	if c.RetentionDays <= 0 {
		c.RetentionDays = 10
	}
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}
}

// Reaper deletes task instances older than the retention window, oldest
// first, in bounded batches.
type Reaper struct {
	svc    *Service
	config ReaperConfig
	logger *slog.Logger
}

// NewReaper creates a retention reaper on top of the domain service.
func NewReaper(svc *Service, config ReaperConfig, logger *slog.Logger) *Reaper {
	config.applyDefaults()
	return &Reaper{svc: svc, config: config, logger: logger}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("retention reaper starting",
		"retention_days", r.config.RetentionDays, "interval", r.config.Interval)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		if deleted, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("retention sweep failed", "error", err)
		} else if deleted > 0 {
			r.logger.Info("retention sweep deleted instances", "deleted", deleted)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce deletes instances whose expected run time fell out of the
// retention window, in batches. Retention keys on the expected time, not the
// row's age: an instance scheduled far ahead stays until its own due date
// has aged out. The first page is re-read after every batch because deletion
// shifts the remaining rows forward.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -r.config.RetentionDays)
	query := task.InstanceQuery{
		ExpectTimeLTE: &cutoff,
		Order:         []task.Order{{Column: "id", Direction: "asc"}},
	}

	var deleted int64
	for page := 0; page < r.config.MaxPages; page++ {
		res, err := r.svc.QueryTasks(ctx, query, task.NewPage(1, r.config.PageSize))
		if err != nil {
			return deleted, err
		}
		if len(res.List) == 0 {
			break
		}

		ids := make([]int64, 0, len(res.List))
		for _, in := range res.List {
			ids = append(ids, in.ID)
		}
		n, err := r.svc.DeleteByIDs(ctx, ids)
		if err != nil {
			return deleted, err
		}
		deleted += n
		instancesReaped.Add(ctx, n)

		if len(res.List) < r.config.PageSize {
			break
		}
	}
	return deleted, nil
}
