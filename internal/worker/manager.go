package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/yourusername/file-forge/internal/config"
)

// Manager はAsynqワーカーサーバーのライフサイクルを管理します。
type Manager struct {
	server  *asynq.Server
	handler *Handler
	logger  *log.Logger
}

// NewManager はワーカーサーバーを作成します。
func NewManager(cfg *config.Config, handler *Handler, logger *log.Logger) (*Manager, error) {
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid queue redis url: %w", err)
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Printf("[ERROR] task %s failed: %v", task.Type(), err)
		}),
	})

	return &Manager{server: server, handler: handler, logger: logger}, nil
}

// Start はワーカーサーバーをバックグラウンドで起動します。
func (m *Manager) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeProcessJob, m.handler.ProcessTask)

	if err := m.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}
	m.logger.Printf("[INFO] worker server started")
	return nil
}

// Shutdown は実行中のタスクの完了を待ってからサーバーを停止します。
func (m *Manager) Shutdown() {
	m.server.Shutdown()
	m.logger.Printf("[INFO] worker server stopped")
}
