// Package main is the entry point for the cronflow scheduler daemon. One
// process runs the crontab materializer, the execution engine and the
// retention reaper; multiple daemons may share one database, coordinated by
// the distributed lock.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"cronflow/internal/config"
	"cronflow/internal/dispatch"
	"cronflow/internal/lock"
	"cronflow/internal/logger"
	"cronflow/internal/observability"
	"cronflow/internal/scheduler"
	"cronflow/internal/store/postgres"
	"cronflow/internal/task"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations and exit")
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.EnvironmentEnabled {
		ctx = task.WithEnvironment(ctx, cfg.Environment)
	}

	st, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if *migrateFlag {
		if err := postgres.Migrate(st.DB()); err != nil {
			log.Error("migration failed", "error", err)
			os.Exit(1)
		}
		log.Info("migrations applied")
		return
	}

	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.Init(ctx, "cronflow-schedulerd", cfg.OTELEndpoint)
		if err != nil {
			log.Error("failed to init tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "cronflow-schedulerd")
	if err != nil {
		log.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()

	var locker lock.Locker
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		locker = lock.NewRedisLocker(client)
		log.Info("using redis lock", "addr", cfg.RedisAddr)
	} else {
		locker = lock.NewMemoryLocker()
		log.Warn("REDIS_ADDR not set, using in-process lock; run a single node only")
	}

	registry := dispatch.NewRegistry()
	registry.Register("shell", "run", dispatch.ShellHandler)

	svc := scheduler.NewService(st.Tasks(), st.Crontabs(), st.Logs(), registry, log)

	// Observable gauge that queries the DB only when scraped.
	meter := otel.Meter("cronflow-schedulerd")
	_, err = meter.Int64ObservableGauge("cronflow.tasks.claimable",
		metric.WithDescription("Current number of pending or retryable task instances"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			res, err := svc.QueryTasks(ctx, task.InstanceQuery{
				Statuses: []task.Status{task.StatusPending, task.StatusRetry},
			}, task.NewPage(1, 1))
			if err != nil {
				log.Error("failed to count claimable tasks", "error", err)
				return nil // don't fail the scrape on a DB error
			}
			obs.Observe(res.Total)
			return nil
		}),
	)
	if err != nil {
		log.Error("failed to register claimable tasks metric", "error", err)
	}

	nodeID := uuid.NewString()
	engine := scheduler.NewEngine(svc, locker, scheduler.EngineConfig{
		ID:            nodeID,
		Concurrency:   cfg.Concurrency,
		LockTTL:       cfg.LockTTL,
		PollInterval:  cfg.PollInterval,
		RatePerSecond: cfg.RatePerSecond,
	}, log)
	materializer := scheduler.NewMaterializer(svc, scheduler.MaterializerConfig{
		LookaheadDays: cfg.LookaheadDays,
		Interval:      cfg.MaterializeInterval,
	}, log)
	reaper := scheduler.NewReaper(svc, scheduler.ReaperConfig{
		RetentionDays: cfg.RetentionDays,
		Interval:      cfg.ReapInterval,
	}, log)

	go func() {
		if err := materializer.Run(ctx); err != nil && err != context.Canceled {
			log.Error("materializer stopped", "error", err)
		}
	}()
	go func() {
		if err := reaper.Run(ctx); err != nil && err != context.Canceled {
			log.Error("reaper stopped", "error", err)
		}
	}()
	go func() {
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			log.Error("engine stopped", "error", err)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		log.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server error", "error", err)
		}
	}()

	log.Info("schedulerd started", "node_id", nodeID, "concurrency", cfg.Concurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down, draining in-flight tasks")
	cancel()
	<-engine.Done()
}
