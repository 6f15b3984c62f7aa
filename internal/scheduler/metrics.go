package scheduler

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Instruments for the scheduling core. The meter provider is the global one
// configured at startup; before that these are no-ops.
var (
	meter = otel.Meter("cronflow/scheduler")

	tasksExecuted, _ = meter.Int64Counter("cronflow.tasks.executed",
		metric.WithDescription("Task executions by final status"))
	executeSeconds, _ = meter.Float64Histogram("cronflow.tasks.execute_seconds",
		metric.WithDescription("Task callback duration in seconds"),
		metric.WithUnit("s"))
	occurrencesCreated, _ = meter.Int64Counter("cronflow.crontab.occurrences_created",
		metric.WithDescription("Task instances materialized from crontab definitions"))
	instancesReaped, _ = meter.Int64Counter("cronflow.tasks.reaped",
		metric.WithDescription("Task instances removed by the retention reaper"))
)
