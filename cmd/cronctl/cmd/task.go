package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"cronflow/internal/dispatch"
	"cronflow/internal/task"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage task instances",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Submit a one-off task instance",
	Long: `Submit a single task instance due at --expect-time. Submitting the same
external id and expect time twice is a no-op.

Example:
  cronctl task create --external-id adhoc-1 --name "backfill" \
    --expect-time "2026-10-01 03:00" --handler shell --method run \
    --params '{"command":"backfill-orders"}'`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		externalID, _ := flags.GetString("external-id")
		name, _ := flags.GetString("name")
		expect, _ := flags.GetString("expect-time")
		handler, _ := flags.GetString("handler")
		method, _ := flags.GetString("method")
		params, _ := flags.GetString("params")
		retry, _ := flags.GetInt("retry")
		remark, _ := flags.GetString("remark")
		creator, _ := flags.GetString("creator")

		if externalID == "" {
			cmd.Println("Error: --external-id is required")
			return
		}
		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}
		if expect == "" {
			cmd.Println("Error: --expect-time is required")
			return
		}
		if handler == "" || method == "" {
			cmd.Println("Error: --handler and --method are required")
			return
		}

		expectTime, err := parseTimeFlag(expect)
		if err != nil {
			cmd.Printf("Error: invalid --expect-time: %v\n", err)
			return
		}

		in := &task.Instance{
			ExternalID: externalID,
			Name:       name,
			ExpectTime: expectTime,
			Origin:     task.OriginAdhoc,
			RetryTimes: retry,
			Callback:   dispatch.NewCallback(handler, method, json.RawMessage(params)),
			Remark:     remark,
			Creator:    creator,
		}

		ctx, svc, closeStore, err := openService(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer closeStore()

		if err := svc.Create(ctx, in); err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		if in.ID == 0 {
			cmd.Printf("Task already exists for %s at %s, nothing created\n", externalID, expectTime.Format(time.RFC3339))
			return
		}
		cmd.Printf("✓ Task created!\nID: %d\nDue: %s\n", in.ID, in.ExpectTime.Format(time.RFC3339))
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List task instances",
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		externalIDs, _ := flags.GetStringSlice("external-id")
		statuses, _ := flags.GetStringSlice("status")
		due, _ := flags.GetString("due-before")
		page, _ := flags.GetInt("page")
		size, _ := flags.GetInt("size")

		q := task.InstanceQuery{
			ExternalIDs: externalIDs,
			Order:       []task.Order{{Column: "expect_time", Direction: "asc"}},
		}
		for _, s := range statuses {
			st, err := parseStatus(s)
			if err != nil {
				cmd.Printf("Error: %v\n", err)
				return
			}
			q.Statuses = append(q.Statuses, st)
		}
		if due != "" {
			t, err := parseTimeFlag(due)
			if err != nil {
				cmd.Printf("Error: invalid --due-before: %v\n", err)
				return
			}
			q.ExpectTimeLTE = &t
		}

		ctx, svc, closeStore, err := openService(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer closeStore()

		res, err := svc.QueryTasks(ctx, q, task.NewPage(page, size))
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		cmd.Printf("Total: %d\n", res.Total)
		for _, in := range res.List {
			cmd.Printf("%-6d %-24s %-10s due=%s retry=%d %s\n",
				in.ID, in.ExternalID, in.Status,
				in.ExpectTime.Format(time.RFC3339), in.RetryTimes, in.Name)
		}
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>...",
	Short: "Cancel pending task instances",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ids := make([]int64, 0, len(args))
		for _, raw := range args {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				cmd.Printf("Error: invalid id %q\n", raw)
				return
			}
			ids = append(ids, id)
		}

		ctx, svc, closeStore, err := openService(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer closeStore()

		n, err := svc.Cancel(ctx, ids)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Printf("✓ Canceled %d of %d tasks\n", n, len(ids))
	},
}

var taskClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all tasks and crontabs for an external id",
	Run: func(cmd *cobra.Command, args []string) {
		externalID, _ := cmd.Flags().GetString("external-id")
		if externalID == "" {
			cmd.Println("Error: --external-id is required")
			return
		}

		ctx, svc, closeStore, err := openService(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer closeStore()

		tasks, crontabs, err := svc.ClearByExternalID(ctx, externalID)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Printf("✓ Cleared %d tasks and %d crontabs for %s\n", tasks, crontabs, externalID)
	},
}

func parseStatus(s string) (task.Status, error) {
	for _, st := range []task.Status{
		task.StatusPending, task.StatusRunning, task.StatusSuccess,
		task.StatusFailed, task.StatusCanceled, task.StatusTimeout,
		task.StatusRetry,
	} {
		if st.String() == s {
			return st, nil
		}
	}
	return task.StatusUnknown, fmt.Errorf("unknown status %q", s)
}

func init() {
	createFlags := taskCreateCmd.Flags()
	createFlags.String("external-id", "", "Business key of the task (required)")
	createFlags.StringP("name", "n", "", "Human-readable name (required)")
	createFlags.String("expect-time", "", `Due time ("2006-01-02 15:04", required)`)
	createFlags.String("handler", "", "Callback handler name (required)")
	createFlags.String("method", "", "Callback method name (required)")
	createFlags.String("params", "", "Callback params as a JSON document")
	createFlags.Int("retry", 0, "Retry budget")
	createFlags.String("remark", "", "Free-form note")
	createFlags.String("creator", "", "Creator identifier")

	listFlags := taskListCmd.Flags()
	listFlags.StringSlice("external-id", nil, "Filter by external id")
	listFlags.StringSlice("status", nil, "Filter by status (pending, running, success, failed, canceled, timeout, retry)")
	listFlags.String("due-before", "", "Only tasks due at or before this instant")
	listFlags.Int("page", 1, "Page number")
	listFlags.Int("size", 20, "Page size")

	taskClearCmd.Flags().String("external-id", "", "Business key to clear (required)")

	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskCancelCmd, taskClearCmd)
	rootCmd.AddCommand(taskCmd)
}
