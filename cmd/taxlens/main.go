// Command taxlens is the operations CLI: it can run the API server, run the
// worker inline, apply migrations, and fire a one-shot reconciliation sweep
// without going through redis.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"taxlens/internal/archive"
	"taxlens/internal/config"
	"taxlens/internal/database"
	"taxlens/internal/filestore"
	"taxlens/internal/ingest"
	"taxlens/internal/queue"
	"taxlens/internal/reconcile"
	"taxlens/internal/server"
	"taxlens/internal/session"
	"taxlens/internal/store"
	"taxlens/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "taxlens: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "taxlens",
		Short:        "taxlens salary-slip backend",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newMigrateCmd(),
		newSweepCmd(),
		newEnqueueSweepCmd(),
	)
	return cmd
}

// bootstrap loads config, connects the database and applies migrations.
func bootstrap(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return cfg, pool, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			st := store.NewPostgresStore(pool)
			files, err := filestore.New(cfg.UploadDir)
			if err != nil {
				return err
			}
			sessions := session.NewManager(st)
			var archiver ingest.Archiver
			if cfg.ArchiveEnabled() {
				arch, err := archive.New(cfg)
				if err != nil {
					return err
				}
				if err := arch.EnsureBucket(ctx); err != nil {
					return err
				}
				archiver = arch
			}
			ingester := ingest.New(st, files, sessions, cfg.MaxFileSize, cfg.SessionTTL, archiver)
			return server.New(cfg, st, files, sessions, ingester).Run(ctx)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background worker and sweep scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			st := store.NewPostgresStore(pool)
			files, err := filestore.New(cfg.UploadDir)
			if err != nil {
				return err
			}
			sessions := session.NewManager(st)
			reconciler := reconcile.New(sessions, st, files, cfg.SweepGrace)

			redisOpt := asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}
			srv := asynq.NewServer(redisOpt, asynq.Config{Concurrency: cfg.Workers})
			scheduler := asynq.NewScheduler(redisOpt, nil)
			cronspec := fmt.Sprintf("@every %s", cfg.SweepInterval)
			if _, err := scheduler.Register(cronspec, queue.NewSweepTask()); err != nil {
				return fmt.Errorf("register sweep schedule: %w", err)
			}
			go func() {
				_ = scheduler.Run()
			}()
			go func() {
				<-ctx.Done()
				scheduler.Shutdown()
				srv.Shutdown()
			}()
			return srv.Run(worker.NewProcessor(reconciler).Handler())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			for _, name := range database.MigrationNames() {
				fmt.Printf("known migration: %s\n", name)
			}
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep inline and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			st := store.NewPostgresStore(pool)
			files, err := filestore.New(cfg.UploadDir)
			if err != nil {
				return err
			}
			sessions := session.NewManager(st)
			reconciler := reconcile.New(sessions, st, files, cfg.SweepGrace)
			report, err := reconciler.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("sessions expired: %d\norphans removed: %d\nfailures: %d\n",
				report.SessionsExpired, report.OrphansRemoved, report.Failures)
			return nil
		},
	}
}

func newEnqueueSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue-sweep",
		Short: "Enqueue an immediate sweep for the worker to pick up",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := asynq.NewClient(asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer client.Close()
			return queue.EnqueueSweep(cmd.Context(), client)
		},
	}
}
