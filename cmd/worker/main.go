// Package main はワーカープロセスのエントリーポイントです。
// キューからのジョブ実行と、期限切れリソースの掃除を担います。
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yourusername/file-forge/internal/config"
	"github.com/yourusername/file-forge/internal/files"
	"github.com/yourusername/file-forge/internal/jobs"
	"github.com/yourusername/file-forge/internal/storage"
	"github.com/yourusername/file-forge/internal/sweeper"
	"github.com/yourusername/file-forge/internal/tools"
	"github.com/yourusername/file-forge/internal/worker"
)

const sweepLeaseKey = "file-forge:sweep-lease"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	jobRepo := jobs.NewRepository(db)
	if err := jobRepo.Migrate(); err != nil {
		log.Fatalf("Failed to migrate jobs schema: %v", err)
	}
	fileRepo := files.NewRepository(db)
	if err := fileRepo.Migrate(); err != nil {
		log.Fatalf("Failed to migrate files schema: %v", err)
	}

	store, err := newStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// ワーカーサーバーの起動
	registry := tools.Default()
	workDir := filepath.Join(cfg.StorageDir, "work")
	handler := worker.NewHandler(cfg, jobRepo, fileRepo, store, registry, workDir, logger)
	manager, err := worker.NewManager(cfg, handler, logger)
	if err != nil {
		log.Fatalf("Failed to initialize worker: %v", err)
	}
	if err := manager.Start(); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	// スイーパーの起動（リースはRedis上で共有される）
	queueClient, err := worker.NewClient(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize queue client: %v", err)
	}
	defer queueClient.Close()

	leaseTTL := time.Duration(cfg.SweepIntervalMinutes) * time.Minute
	locker, err := sweeper.NewRedisLocker(cfg.QueueRedisURL, sweepLeaseKey, leaseTTL)
	if err != nil {
		log.Fatalf("Failed to initialize sweep lease: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sw := sweeper.New(cfg, jobRepo, fileRepo, store, queueClient, locker, logger)
	go sw.Run(ctx)

	logger.Printf("Worker started (concurrency: %d)", cfg.WorkerConcurrency)
	<-ctx.Done()

	logger.Printf("Shutting down worker")
	manager.Shutdown()
}

// newStore は設定に応じたアーティファクトストアを作成します。
func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageType {
	case "s3":
		return storage.NewS3Store(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
	case "local":
		return storage.NewLocalStore(filepath.Join(cfg.StorageDir, "blobs"))
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.StorageType)
	}
}
