package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"taxlens/internal/config"
	"taxlens/internal/database"
	"taxlens/internal/filestore"
	"taxlens/internal/queue"
	"taxlens/internal/reconcile"
	"taxlens/internal/session"
	"taxlens/internal/store"
	"taxlens/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	st := store.NewPostgresStore(pool)
	files, err := filestore.New(cfg.UploadDir)
	if err != nil {
		log.Fatalf("init filestore: %v", err)
	}
	sessions := session.NewManager(st)
	reconciler := reconcile.New(sessions, st, files, cfg.SweepGrace)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Workers,
	})
	scheduler := asynq.NewScheduler(redisOpt, nil)
	cronspec := fmt.Sprintf("@every %s", cfg.SweepInterval)
	if _, err := scheduler.Register(cronspec, queue.NewSweepTask()); err != nil {
		log.Fatalf("register sweep schedule: %v", err)
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			log.Printf("scheduler stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		scheduler.Shutdown()
		srv.Shutdown()
	}()

	processor := worker.NewProcessor(reconciler)
	log.Printf("worker running, sweep every %s", cfg.SweepInterval)
	if err := srv.Run(processor.Handler()); err != nil {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
}
