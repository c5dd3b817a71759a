package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"taxlens/internal/archive"
	"taxlens/internal/config"
	"taxlens/internal/database"
	"taxlens/internal/filestore"
	"taxlens/internal/ingest"
	"taxlens/internal/server"
	"taxlens/internal/session"
	"taxlens/internal/store"
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

	var archiver ingest.Archiver
	if cfg.ArchiveEnabled() {
		arch, err := archive.New(cfg)
		if err != nil {
			log.Fatalf("init archive: %v", err)
		}
		if err := arch.EnsureBucket(ctx); err != nil {
			log.Fatalf("ensure archive bucket: %v", err)
		}
		archiver = arch
	}
	ingester := ingest.New(st, files, sessions, cfg.MaxFileSize, cfg.SessionTTL, archiver)

	srv := server.New(cfg, st, files, sessions, ingester)
	if err := srv.Run(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
