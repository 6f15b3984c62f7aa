package cmd

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"cronflow/internal/dispatch"
	"cronflow/internal/task"
)

var crontabCmd = &cobra.Command{
	Use:   "crontab",
	Short: "Manage crontab definitions",
}

var crontabCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new crontab definition",
	Long: `Create a recurring crontab definition. The scheduler materializes it into
concrete task instances ahead of their due time.

Example:
  cronctl crontab create --external-id order-sync --name "order sync" \
    --cron "*/5 * * * *" --handler shell --method run \
    --params '{"command":"sync-orders"}' --retry 3`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		externalID, _ := flags.GetString("external-id")
		name, _ := flags.GetString("name")
		rule, _ := flags.GetString("cron")
		handler, _ := flags.GetString("handler")
		method, _ := flags.GetString("method")
		params, _ := flags.GetString("params")
		retry, _ := flags.GetInt("retry")
		remark, _ := flags.GetString("remark")
		creator, _ := flags.GetString("creator")
		deadline, _ := flags.GetString("deadline")

		if externalID == "" {
			cmd.Println("Error: --external-id is required")
			return
		}
		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}
		if rule == "" {
			cmd.Println("Error: --cron is required")
			return
		}
		if handler == "" || method == "" {
			cmd.Println("Error: --handler and --method are required")
			return
		}

		c := &task.Crontab{
			ExternalID: externalID,
			Name:       name,
			Crontab:    rule,
			Enabled:    true,
			RetryTimes: retry,
			Callback:   dispatch.NewCallback(handler, method, json.RawMessage(params)),
			Remark:     remark,
			Creator:    creator,
		}
		if deadline != "" {
			t, err := parseTimeFlag(deadline)
			if err != nil {
				cmd.Printf("Error: invalid --deadline: %v\n", err)
				return
			}
			c.Deadline = &t
		}

		ctx, svc, closeStore, err := openService(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer closeStore()

		if err := svc.CreateCrontab(ctx, c); err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Printf("✓ Crontab created!\nID: %d\nExternal ID: %s\nRule: %s\n", c.ID, c.ExternalID, c.Crontab)
	},
}

var crontabListCmd = &cobra.Command{
	Use:   "list",
	Short: "List crontab definitions",
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		creator, _ := flags.GetString("creator")
		filterID, _ := flags.GetString("filter-id")
		enabledOnly, _ := flags.GetBool("enabled")
		page, _ := flags.GetInt("page")
		size, _ := flags.GetInt("size")

		q := task.CrontabQuery{
			Creator:  creator,
			FilterID: filterID,
			Order:    []task.Order{{Column: "id", Direction: "asc"}},
		}
		if enabledOnly {
			t := true
			q.Enabled = &t
		}

		ctx, svc, closeStore, err := openService(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer closeStore()

		res, err := svc.QueryCrontabs(ctx, q, task.NewPage(page, size))
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		cmd.Printf("Total: %d\n", res.Total)
		for _, c := range res.List {
			state := "disabled"
			if c.Enabled {
				state = "enabled"
			}
			deadline := "-"
			if c.Deadline != nil {
				deadline = c.Deadline.Format(time.RFC3339)
			}
			cmd.Printf("%-6d %-24s %-16s %-8s watermark=%s deadline=%s\n",
				c.ID, c.ExternalID, c.Crontab, state,
				c.LastGenTime.Format(time.RFC3339), deadline)
		}
	},
}

var crontabEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a crontab definition",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setCrontabEnabled(cmd, args[0], true)
	},
}

var crontabDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a crontab definition",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setCrontabEnabled(cmd, args[0], false)
	},
}

func setCrontabEnabled(cmd *cobra.Command, rawID string, enabled bool) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		cmd.Printf("Error: invalid id %q\n", rawID)
		return
	}

	ctx, svc, closeStore, err := openService(cmd.Context())
	if err != nil {
		cmd.Printf("Error: %v\n", err)
		return
	}
	defer closeStore()

	c, err := svc.GetCrontab(ctx, id)
	if err != nil {
		cmd.Printf("Error: %v\n", err)
		return
	}
	if c == nil {
		cmd.Printf("Error: crontab %d not found\n", id)
		return
	}
	c.Enabled = enabled
	if err := svc.SaveCrontab(ctx, c); err != nil {
		cmd.Printf("Error: %v\n", err)
		return
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	cmd.Printf("✓ Crontab %d %s\n", id, state)
}

// parseTimeFlag accepts a date or a date with a time, both in local time.
func parseTimeFlag(v string) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02 15:04", v, time.Local); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", v, time.Local)
}

func init() {
	flags := crontabCreateCmd.Flags()
	flags.String("external-id", "", "Business key of the definition (required)")
	flags.StringP("name", "n", "", "Human-readable name (required)")
	flags.String("cron", "", "Standard 5-field cron expression (required)")
	flags.String("handler", "", "Callback handler name (required)")
	flags.String("method", "", "Callback method name (required)")
	flags.String("params", "", "Callback params as a JSON document")
	flags.Int("retry", 0, "Retry budget handed to each spawned instance")
	flags.String("remark", "", "Free-form note")
	flags.String("creator", "", "Creator identifier")
	flags.String("deadline", "", `Stop generating occurrences after this instant ("2006-01-02 15:04")`)

	listFlags := crontabListCmd.Flags()
	listFlags.String("creator", "", "Filter by creator")
	listFlags.String("filter-id", "", "Filter by filter id substring")
	listFlags.Bool("enabled", false, "Only list enabled definitions")
	listFlags.Int("page", 1, "Page number")
	listFlags.Int("size", 20, "Page size")

	crontabCmd.AddCommand(crontabCreateCmd, crontabListCmd, crontabEnableCmd, crontabDisableCmd)
	rootCmd.AddCommand(crontabCmd)
}
