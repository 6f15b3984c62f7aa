package cmd

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"cronflow/internal/dispatch"
	"cronflow/internal/recurrence"
	"cronflow/internal/task"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Create schedules from a human-level repeat rule",
	Long: `Create schedules from a repeat rule instead of a raw cron expression.

A no_repeat rule creates a single task instance. A custom_repeat rule expands
to its concrete occurrences and batch-creates them. Every other rule compiles
to a cron expression and creates a crontab definition.

Repeat kinds and their --day argument:
  no_repeat        calendar date ("2030-04-12")
  daily_repeat     none
  weekly_repeat    weekday number 0-6 (0=Monday)
  monthly_repeat   day of month 1-31
  annually_repeat  calendar date; the year fixes the month and day
  weekday_repeat   none (runs Monday through Friday)
  custom_repeat    calendar date, the base date of the series

Examples:
  cronctl schedule --external-id report --name "weekly report" \
    --repeat weekly_repeat --day 0 --time 09:30 --handler shell --method run

  cronctl schedule --external-id audit --name "month-end audit" \
    --repeat custom_repeat --day 2030-01-31 --time 08:00 \
    --unit month --interval 1 --values 31 --handler shell --method run`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		externalID, _ := flags.GetString("external-id")
		name, _ := flags.GetString("name")
		repeat, _ := flags.GetString("repeat")
		day, _ := flags.GetString("day")
		timeOfDay, _ := flags.GetString("time")
		unit, _ := flags.GetString("unit")
		interval, _ := flags.GetInt("interval")
		values, _ := flags.GetIntSlice("values")
		month, _ := flags.GetInt("month")
		deadline, _ := flags.GetString("deadline")
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
		if repeat == "" {
			cmd.Println("Error: --repeat is required")
			return
		}
		if handler == "" || method == "" {
			cmd.Println("Error: --handler and --method are required")
			return
		}

		kind := recurrence.Kind(repeat)

		var custom *recurrence.Custom
		if kind == recurrence.CustomRepeat {
			custom = &recurrence.Custom{
				Unit:     recurrence.IntervalUnit(unit),
				Interval: interval,
				Values:   values,
				Month:    time.Month(month),
			}
		}

		var deadlineAt *time.Time
		if deadline != "" {
			t, err := parseTimeFlag(deadline)
			if err != nil {
				cmd.Printf("Error: invalid --deadline: %v\n", err)
				return
			}
			deadlineAt = &t
		}

		spec, err := recurrence.New(kind, day, timeOfDay, custom, deadlineAt)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		ctx, svc, closeStore, err := openService(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer closeStore()

		cb := dispatch.NewCallback(handler, method, json.RawMessage(params))

		switch kind {
		case recurrence.NoRepeat:
			due, err := spec.Datetime()
			if err != nil {
				cmd.Printf("Error: %v\n", err)
				return
			}
			in := &task.Instance{
				ExternalID: externalID,
				Name:       name,
				ExpectTime: due,
				Origin:     task.OriginAdhoc,
				RetryTimes: retry,
				Callback:   cb,
				Remark:     remark,
				Creator:    creator,
			}
			if err := svc.Create(ctx, in); err != nil {
				cmd.Printf("Error: %v\n", err)
				return
			}
			cmd.Printf("✓ Task created!\nID: %d\nDue: %s\n", in.ID, due.Format(time.RFC3339))

		case recurrence.CustomRepeat:
			occurrences, err := spec.Occurrences(time.Now())
			if err != nil {
				cmd.Printf("Error: %v\n", err)
				return
			}
			ins := make([]*task.Instance, 0, len(occurrences))
			for _, at := range occurrences {
				ins = append(ins, &task.Instance{
					ExternalID: externalID,
					Name:       name,
					ExpectTime: at,
					Origin:     task.OriginAdhoc,
					RetryTimes: retry,
					Callback:   cb,
					Remark:     remark,
					Creator:    creator,
				})
			}
			created, err := svc.BatchCreate(ctx, ins)
			if err != nil {
				cmd.Printf("Error: %v\n", err)
				return
			}
			cmd.Printf("✓ Created %d of %d occurrences\nFirst: %s\nLast:  %s\n",
				created, len(occurrences),
				occurrences[0].Format(time.RFC3339),
				occurrences[len(occurrences)-1].Format(time.RFC3339))

		default:
			rule, err := spec.CronRule()
			if err != nil {
				cmd.Printf("Error: %v\n", err)
				return
			}
			c := &task.Crontab{
				ExternalID: externalID,
				Name:       name,
				Crontab:    rule,
				Enabled:    true,
				RetryTimes: retry,
				Callback:   cb,
				Deadline:   spec.Deadline(),
				Remark:     remark,
				Creator:    creator,
			}
			if err := svc.CreateCrontab(ctx, c); err != nil {
				cmd.Printf("Error: %v\n", err)
				return
			}
			cmd.Printf("✓ Crontab created!\nID: %d\nRule: %s\n", c.ID, rule)
		}
	},
}

func init() {
	flags := scheduleCmd.Flags()
	flags.String("external-id", "", "Business key of the schedule (required)")
	flags.StringP("name", "n", "", "Human-readable name (required)")
	flags.String("repeat", "", "Repeat kind (required, see long help)")
	flags.String("day", "", "Day argument of the repeat kind")
	flags.String("time", "", `Time of day ("15:04")`)
	flags.String("unit", "", "custom_repeat step unit (day, week, month, year)")
	flags.Int("interval", 1, "custom_repeat step interval, 1-30")
	flags.IntSlice("values", nil, "custom_repeat weekday or day-of-month values")
	flags.Int("month", 0, "custom_repeat calendar month for the year unit")
	flags.String("deadline", "", `Stop the schedule after this instant ("2006-01-02 15:04")`)
	flags.String("handler", "", "Callback handler name (required)")
	flags.String("method", "", "Callback method name (required)")
	flags.String("params", "", "Callback params as a JSON document")
	flags.Int("retry", 0, "Retry budget")
	flags.String("remark", "", "Free-form note")
	flags.String("creator", "", "Creator identifier")

	rootCmd.AddCommand(scheduleCmd)
}
