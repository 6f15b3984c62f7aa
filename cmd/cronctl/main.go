// Package main is the entry point for the cronflow CLI.
// The CLI is the operator terminal tool for managing schedules and tasks.
package main

import (
	"os"

	"cronflow/cmd/cronctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
