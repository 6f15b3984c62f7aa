// Package task contains the scheduler's domain entities: task instances,
// crontab definitions, audit logs, and their state machines.
package task

// Status is the lifecycle state of a task instance. The numeric encoding
// matches the storage layer and must not be reordered.
type Status int

const (
	StatusUnknown  Status = 0
	StatusPending  Status = 1
	StatusRunning  Status = 2
	StatusSuccess  Status = 3
	StatusFailed   Status = 4
	StatusCanceled Status = 5
	StatusTimeout  Status = 6
	StatusRetry    Status = 7
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCanceled, StatusTimeout:
		return true
	}
	return false
}

// Claimable reports whether an instance in this state may be executed or
// canceled.
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusRetry
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	case StatusTimeout:
		return "timeout"
	case StatusRetry:
		return "retry"
	}
	return "unknown"
}

// OriginType records how an instance came to exist: expanded from a crontab
// definition or submitted directly for a specific time.
type OriginType int

const (
	OriginCron  OriginType = 1
	OriginAdhoc OriginType = 2
)

func (o OriginType) String() string {
	switch o {
	case OriginCron:
		return "cron"
	case OriginAdhoc:
		return "adhoc"
	}
	return "unknown"
}
