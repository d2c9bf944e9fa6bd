// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yourusername/file-forge/internal/config"
	"github.com/yourusername/file-forge/internal/files"
	"github.com/yourusername/file-forge/internal/identity"
	"github.com/yourusername/file-forge/internal/jobs"
	"github.com/yourusername/file-forge/internal/scheduler"
	"github.com/yourusername/file-forge/internal/server"
	"github.com/yourusername/file-forge/internal/storage"
	"github.com/yourusername/file-forge/internal/tools"
	"github.com/yourusername/file-forge/internal/worker"
)

const sessionMaxAgeSeconds = 60 * 60 * 24 * 7

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	// データベース接続とマイグレーション
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

	// アーティファクトストアの選択
	store, err := newStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// キュークライアント（ジョブ投入用）
	queueClient, err := worker.NewClient(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize queue client: %v", err)
	}
	defer queueClient.Close()

	registry := tools.Default()
	sched := scheduler.New(cfg, registry, jobRepo, fileRepo, queueClient, logger)
	srv := server.New(cfg, sched, jobRepo, fileRepo, store, registry, logger)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（ゲストトークン用クッキー）
	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   sessionMaxAgeSeconds,
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(identity.SessionCookieName, sessionStore))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-User-ID",
		"X-User-Role",
	}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	srv.Register(router)

	// サーバーの起動
	addr := ":" + cfg.Port
	logger.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
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
