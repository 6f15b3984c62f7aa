package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// shellParams is the argument payload for the builtin shell handler:
// an executable name followed by its arguments.
type shellParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// ShellHandler runs a local command and returns its combined output.
// It is the default handler registered by schedulerd under "shell.run",
// intended for deployments that schedule OS-level jobs.
func ShellHandler(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p shellParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid shell params: %w", err)
	}
	if p.Command == "" {
		return nil, fmt.Errorf("shell params missing command")
	}

	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("command %q: %w: %s", p.Command, err, buf.String())
	}

	out, err := json.Marshal(buf.String())
	if err != nil {
		return nil, err
	}
	return out, nil
}
