// Package server はHTTP境界を提供します。ハンドラーは要求の解釈と
// 応答の整形だけを行い、業務判断はすべて下位レイヤーに委ねます。
package server

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/file-forge/internal/config"
	"github.com/yourusername/file-forge/internal/files"
	"github.com/yourusername/file-forge/internal/identity"
	"github.com/yourusername/file-forge/internal/jobs"
	"github.com/yourusername/file-forge/internal/scheduler"
	"github.com/yourusername/file-forge/internal/storage"
	"github.com/yourusername/file-forge/internal/tools"
)

// Server はAPIハンドラー群とその依存をまとめます。
type Server struct {
	cfg      *config.Config
	sched    *scheduler.Scheduler
	jobs     *jobs.Repository
	files    *files.Repository
	store    storage.Store
	registry *tools.Registry
	logger   *log.Logger
}

// New は Server を作成します。
func New(cfg *config.Config, sched *scheduler.Scheduler, jobRepo *jobs.Repository, fileRepo *files.Repository, store storage.Store, registry *tools.Registry, logger *log.Logger) *Server {
	return &Server{
		cfg:      cfg,
		sched:    sched,
		jobs:     jobRepo,
		files:    fileRepo,
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

// Register はルーティングを設定します。/api 配下はすべて識別ミドルウェアを通ります。
func (s *Server) Register(router *gin.Engine) {
	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	api.Use(identity.Middleware())
	{
		api.GET("/tools", s.handleListTools)

		filesRoutes := api.Group("/files")
		{
			filesRoutes.POST("", s.handleUploadFile)
			filesRoutes.GET("/:id", s.handleGetFile)
			filesRoutes.DELETE("/:id", s.handleDeleteFile)
			filesRoutes.GET("/:id/download", s.handleDownloadFile)
		}

		jobsRoutes := api.Group("/jobs")
		{
			jobsRoutes.POST("", s.handleSubmitJob)
			jobsRoutes.GET("", s.handleListJobs)
			jobsRoutes.GET("/:id", s.handleGetJob)
			jobsRoutes.POST("/:id/cancel", s.handleCancelJob)
		}
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "file-forge-api",
		"version": "0.1.0",
	})
}
