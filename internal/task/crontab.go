package task

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"cronflow/internal/dispatch"
)

// Crontab is a recurring rule that spawns task instances. Its watermark
// (LastGenTime) marks the instant up to which occurrences have already been
// materialized; it only moves forward.
type Crontab struct {
	ID          int64
	Environment string
	ExternalID  string
	Name        string
	// Crontab is a standard 5-field cron expression.
	Crontab string
	// LastGenTime is the materialization watermark.
	LastGenTime time.Time
	Enabled     bool
	// RetryTimes is the retry budget handed to each spawned instance.
	RetryTimes int
	Callback   dispatch.Callback
	// Deadline, when set, stops occurrence generation at that instant.
	Deadline  *time.Time
	Remark    string
	Creator   string
	FilterID  string
	CreatedAt time.Time
}

// PrepareForCreate validates and normalizes the definition before its first
// save.
func (c *Crontab) PrepareForCreate(ctx context.Context) error {
	if err := c.validate(ctx); err != nil {
		return err
	}
	c.ID = 0
	c.CreatedAt = time.Now()
	return nil
}

// PrepareForUpdate validates the definition before saving changes.
func (c *Crontab) PrepareForUpdate(ctx context.Context) error {
	return c.validate(ctx)
}

func (c *Crontab) validate(ctx context.Context) error {
	if c.Environment == "" {
		c.Environment = EnvironmentFromContext(ctx)
	}
	if c.Name == "" {
		return Validationf("crontab name cannot be empty")
	}
	if c.ExternalID == "" {
		return Validationf("external id cannot be empty")
	}
	if c.Crontab == "" {
		return Validationf("cron expression cannot be empty")
	}
	if _, err := cron.ParseStandard(c.Crontab); err != nil {
		return Validationf("invalid cron expression %q: %v", c.Crontab, err)
	}
	if c.LastGenTime.IsZero() {
		c.LastGenTime = time.Now()
	}
	if c.RetryTimes < 0 {
		c.RetryTimes = 0
	}
	if c.Deadline != nil {
		// Compared at day granularity: a deadline earlier today is still
		// acceptable, yesterday is not.
		deadlineDay := truncateToDay(*c.Deadline)
		today := truncateToDay(time.Now())
		if deadlineDay.Before(today) {
			return Validationf("deadline cannot be earlier than today")
		}
	}
	if !c.Callback.Valid() {
		return Validationf("callback descriptor must have exactly two non-empty components")
	}
	return nil
}

// PrepareForMaterialize checks the definition is fit to generate instances:
// persisted, enabled, and carrying a valid cron expression.
func (c *Crontab) PrepareForMaterialize() error {
	if c.ID == 0 {
		return Validationf("crontab id cannot be empty")
	}
	if c.Crontab == "" {
		return Validationf("cron expression cannot be empty")
	}
	if _, err := cron.ParseStandard(c.Crontab); err != nil {
		return Validationf("invalid cron expression %q: %v", c.Crontab, err)
	}
	if !c.Enabled {
		return Validationf("disabled crontab cannot generate tasks")
	}
	if !c.Callback.Valid() {
		return Validationf("callback descriptor must have exactly two non-empty components")
	}
	if c.LastGenTime.IsZero() {
		c.LastGenTime = time.Now()
	}
	return nil
}

// AdvanceCursor lists occurrences strictly after the watermark and at or
// before until, capped at limit, and returns the advanced watermark alongside
// them. The receiver is not mutated; the caller persists the new watermark, so
// repeated calls against the saved definition never return duplicates.
func (c *Crontab) AdvanceCursor(until time.Time, limit int) ([]time.Time, time.Time, error) {
	if err := c.PrepareForMaterialize(); err != nil {
		return nil, c.LastGenTime, err
	}
	next := c.LastGenTime
	if until.Before(next) {
		return nil, next, nil
	}

	sched, err := cron.ParseStandard(c.Crontab)
	if err != nil {
		return nil, next, Validationf("invalid cron expression %q: %v", c.Crontab, err)
	}

	var occurrences []time.Time
	for len(occurrences) < limit {
		t := sched.Next(next)
		if t.IsZero() || t.After(until) {
			break
		}
		occurrences = append(occurrences, t)
		next = t
	}
	// When the window is exhausted below the limit, everything at or before
	// until has been listed; moving the watermark there keeps the definition
	// out of the due set until the window moves.
	if len(occurrences) < limit && until.After(next) {
		next = until
	}
	return occurrences, next, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
