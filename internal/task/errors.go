package task

import "fmt"

// ValidationError reports malformed input caught at construction or
// preparation time: a bad recurrence spec, an invalid cron expression, a
// missing required field, an out-of-range value.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// BusinessRuleError reports a request that is well-formed but not allowed in
// the current state, such as executing a task that is not Pending or Retry.
type BusinessRuleError struct {
	Msg string
}

func (e *BusinessRuleError) Error() string { return e.Msg }

// BusinessRulef builds a BusinessRuleError from a format string.
func BusinessRulef(format string, args ...any) error {
	return &BusinessRuleError{Msg: fmt.Sprintf(format, args...)}
}

// InfrastructureError wraps a failure of an external collaborator (lock store
// or database unreachable). It is distinct from negative results like "lock
// already held", which are normal return values.
type InfrastructureError struct {
	Msg string
	Err error
}

func (e *InfrastructureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// Infrastructure wraps err with a message, preserving the cause chain.
func Infrastructure(msg string, err error) error {
	return &InfrastructureError{Msg: msg, Err: err}
}
