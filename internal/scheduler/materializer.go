package scheduler

import (
	"context"
	"log/slog"
	"time"

	"cronflow/internal/task"
)

// MaterializerConfig holds configuration for the crontab materializer.
type MaterializerConfig struct {
	// LookaheadDays is how far ahead occurrences are generated (default: 3).
	LookaheadDays int
	// Interval is the delay between runs (default: 1m).
	Interval time.Duration
	// PageSize is how many due definitions one page loads (default: 100).
	PageSize int
	// MaxPages bounds how many pages a single run walks (default: 100).
	MaxPages int
}

func (c *MaterializerConfig) applyDefaults() {
	if c.LookaheadDays <= 0 {
		c.LookaheadDays = 3
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}
}

// Materializer periodically expands enabled crontab definitions whose
// watermark has fallen behind into concrete task instances.
type Materializer struct {
	svc    *Service
	config MaterializerConfig
	logger *slog.Logger
}

// NewMaterializer creates a materializer on top of the domain service.
func NewMaterializer(svc *Service, config MaterializerConfig, logger *slog.Logger) *Materializer {
	config.applyDefaults()
	return &Materializer{svc: svc, config: config, logger: logger}
}

// Run materializes on a fixed interval until the context is cancelled.
func (m *Materializer) Run(ctx context.Context) error {
	m.logger.Info("materializer starting",
		"lookahead_days", m.config.LookaheadDays, "interval", m.config.Interval)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		if created, err := m.RunOnce(ctx); err != nil {
			m.logger.Error("materializer run failed", "error", err)
		} else if created > 0 {
			m.logger.Info("materialized occurrences", "created", created)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce expands every due definition once. Definitions are isolated from
// each other: one failing expansion does not stop the run. The first page is
// re-read each round because a successfully materialized definition advances
// its watermark and drops out of the filter; MaxPages bounds the walk when
// failing definitions stay behind.
func (m *Materializer) RunOnce(ctx context.Context) (int, error) {
	now := time.Now()
	enabled := true
	query := task.CrontabQuery{
		WatermarkLTE: &now,
		Enabled:      &enabled,
		Order:        []task.Order{{Column: "last_gen_time", Direction: "asc"}},
	}

	var created int
	var stuck int
	for page := 0; page < m.config.MaxPages; page++ {
		res, err := m.svc.QueryCrontabs(ctx, query, task.NewPage(1, m.config.PageSize))
		if err != nil {
			return created, err
		}
		if len(res.List) <= stuck {
			break
		}

		for _, c := range res.List {
			n, err := m.svc.MaterializeCrontab(ctx, c, m.config.LookaheadDays)
			if err != nil {
				m.logger.Error("failed to materialize crontab",
					"crontab_id", c.ID, "external_id", c.ExternalID, "error", err)
				stuck++
				continue
			}
			created += n
		}

		if len(res.List) < m.config.PageSize {
			break
		}
	}
	return created, nil
}
