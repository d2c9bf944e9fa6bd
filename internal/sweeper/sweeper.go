// Package sweeper は期限切れリソースの回収と、キュー投入漏れジョブの
// 再投入を定期的に行います。
//
// ファイルの削除は必ず「メタデータの論理削除 → ブロブ削除 → メタデータの
// 物理削除」の順で行います。ブロブ削除に失敗した場合は論理削除済みの行を
// 残し、次回の掃除で再試行します。行より先にブロブだけが消えることはあっても、
// 参照の残った行が指す先が黙って消えることはありません。
package sweeper

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/yourusername/file-forge/internal/config"
	"github.com/yourusername/file-forge/internal/files"
	"github.com/yourusername/file-forge/internal/jobs"
	"github.com/yourusername/file-forge/internal/storage"
)

const sweepBatchSize = 200

// Enqueuer はジョブIDをワークキューへ投入します。
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobID string) error
}

// Sweeper は掃除ループを実行します。
type Sweeper struct {
	cfg      *config.Config
	jobs     *jobs.Repository
	files    *files.Repository
	store    storage.Store
	enqueuer Enqueuer
	locker   Locker
	logger   *log.Logger
}

// New は Sweeper を作成します。
func New(cfg *config.Config, jobRepo *jobs.Repository, fileRepo *files.Repository, store storage.Store, enqueuer Enqueuer, locker Locker, logger *log.Logger) *Sweeper {
	return &Sweeper{
		cfg:      cfg,
		jobs:     jobRepo,
		files:    fileRepo,
		store:    store,
		enqueuer: enqueuer,
		locker:   locker,
		logger:   logger,
	}
}

// Run は設定された間隔で掃除を繰り返します。ctx のキャンセルで停止します。
func (s *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.SweepIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Printf("[INFO] sweeper started: interval=%s", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("[INFO] sweeper stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	acquired, err := s.locker.Acquire(ctx)
	if err != nil {
		s.logger.Printf("[ERROR] failed to acquire sweep lease: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := s.locker.Release(ctx); err != nil {
			s.logger.Printf("[WARN] failed to release sweep lease: %v", err)
		}
	}()

	s.Sweep(ctx, time.Now().UTC())
}

// Sweep は1回分の掃除を実行します。
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	if deleted, err := s.jobs.DeleteExpired(ctx, now); err != nil {
		s.logger.Printf("[ERROR] failed to delete expired jobs: %v", err)
	} else if deleted > 0 {
		s.logger.Printf("[INFO] deleted %d expired jobs", deleted)
	}

	s.sweepFiles(ctx, now)
	s.requeueStalePending(ctx, now)
}

func (s *Sweeper) sweepFiles(ctx context.Context, now time.Time) {
	candidates, err := s.files.SweepCandidates(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Printf("[ERROR] failed to list sweep candidates: %v", err)
		return
	}

	removed := 0
	for _, file := range candidates {
		if !file.IsDeleted {
			if _, err := s.files.SoftDelete(ctx, file.FileID); err != nil {
				s.logger.Printf("[ERROR] failed to soft-delete file %s: %v", file.FileID, err)
				continue
			}
		}
		if err := s.store.Delete(ctx, file.StoredReference); err != nil && !errors.Is(err, storage.ErrNotFound) {
			// 行を残しておけば次回の掃除で再試行される
			s.logger.Printf("[ERROR] failed to delete blob %s: %v", file.StoredReference, err)
			continue
		}
		if err := s.files.HardDelete(ctx, file.FileID); err != nil {
			s.logger.Printf("[ERROR] failed to hard-delete file %s: %v", file.FileID, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Printf("[INFO] swept %d files", removed)
	}
}

// requeueStalePending はクレームされないまま放置された pending ジョブを
// キューへ投入し直します。永続化後のキュー投入失敗や、キュー側での
// タスク喪失からの復旧経路です。
func (s *Sweeper) requeueStalePending(ctx context.Context, now time.Time) {
	olderThan := now.Add(-time.Duration(s.cfg.PendingRequeueMinutes) * time.Minute)
	stale, err := s.jobs.StalePending(ctx, olderThan, sweepBatchSize)
	if err != nil {
		s.logger.Printf("[ERROR] failed to list stale pending jobs: %v", err)
		return
	}

	for _, job := range stale {
		if err := s.enqueuer.EnqueueJob(ctx, job.JobID); err != nil {
			s.logger.Printf("[ERROR] failed to requeue job %s: %v", job.JobID, err)
			continue
		}
		// クレームが依然失敗しても二重実行にはならない
		s.logger.Printf("[INFO] requeued stale pending job %s", job.JobID)
	}
}
