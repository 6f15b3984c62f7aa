package task

import "encoding/json"

// ExecuteResult captures the outcome of one execution attempt. It is embedded
// in the audit log row for the attempt.
type ExecuteResult struct {
	Success      bool            `json:"success"`
	CostTime     int64           `json:"cost_time"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
}
