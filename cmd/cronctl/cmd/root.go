package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cronflow/internal/dispatch"
	"cronflow/internal/scheduler"
	"cronflow/internal/store/postgres"
	"cronflow/internal/task"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cronctl",
	Short: "Cronctl is a command line tool for managing cronflow schedules and tasks",
	Long: `cronctl is the command-line interface for the cronflow task scheduler.

cronflow materializes crontab definitions into concrete task instances ahead
of time and executes them across a cluster of nodes, coordinated by a
distributed lock.

Common workflows:

  Create a crontab definition:
    cronctl crontab create --external-id order-sync --name "order sync" --cron "*/5 * * * *" --handler shell --method run --params '{"command":"sync-orders"}'

  Create schedules from a human-level repeat rule:
    cronctl schedule --external-id report --name "weekly report" --repeat weekly_repeat --day 0 --time 09:30 --handler shell --method run

  Submit a one-off task:
    cronctl task create --external-id adhoc-1 --name "backfill" --expect-time "2026-10-01 03:00" --handler shell --method run

  Inspect and cancel:
    cronctl crontab list
    cronctl task list --status pending
    cronctl task cancel 17 18 19

Configuration:
  Set the database via environment variables or a config file:
    CRONFLOW_DATABASE_URL  PostgreSQL connection string
    CRONFLOW_ENVIRONMENT   Optional environment scope for every operation`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".cronctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".cronctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "CRONFLOW_VARNAME"
	viper.SetEnvPrefix("CRONFLOW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cronctl.yaml)")

	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))

	rootCmd.PersistentFlags().StringP("environment", "e", "", "Environment scope for every operation")
	viper.BindPFlag("environment", rootCmd.PersistentFlags().Lookup("environment"))
}

// openService connects to the database and builds the domain service. The
// returned context carries the environment scope when one is configured.
func openService(ctx context.Context) (context.Context, *scheduler.Service, func(), error) {
	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return ctx, nil, nil, fmt.Errorf("database not configured; set CRONFLOW_DATABASE_URL or --database-url")
	}

	st, err := postgres.New(ctx, databaseURL)
	if err != nil {
		return ctx, nil, nil, err
	}

	if env := viper.GetString("environment"); env != "" {
		ctx = task.WithEnvironment(ctx, env)
	}

	// The CLI never executes callbacks, so the dispatcher stays empty.
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := scheduler.NewService(st.Tasks(), st.Crontabs(), st.Logs(), dispatch.NewRegistry(), quiet)
	return ctx, svc, func() { st.Close() }, nil
}
