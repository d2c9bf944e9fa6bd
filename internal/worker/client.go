package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/file-forge/internal/config"
)

// Client はジョブIDをAsynqキューへ投入します。
// scheduler.Enqueuer とスイーパーの再投入の両方から使われます。
type Client struct {
	client     *asynq.Client
	maxRetries int
	timeout    time.Duration
}

// NewClient は設定からAsynqクライアントを作成します。
func NewClient(cfg *config.Config) (*Client, error) {
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid queue redis url: %w", err)
	}
	return &Client{
		client:     asynq.NewClient(opt),
		maxRetries: cfg.MaxTaskRetries,
		// タスク自体のタイムアウトは実行時間上限より長めに取り、
		// 打ち切りの判定は必ずハンドラー側のコンテキストで行う
		timeout: cfg.TaskTimeout() + time.Minute,
	}, nil
}

// EnqueueJob はジョブ実行タスクをキューへ投入します。
func (c *Client) EnqueueJob(ctx context.Context, jobID string) error {
	task, err := NewProcessJobTask(jobID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(c.maxRetries),
		asynq.Timeout(c.timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Close はクライアントの接続を閉じます。
func (c *Client) Close() error {
	return c.client.Close()
}
