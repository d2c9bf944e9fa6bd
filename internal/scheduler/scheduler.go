// Package scheduler はジョブ投入の受付を担います。
// ツール検証・入力ファイルの所有権確認・クォータ判定をすべて通過した要求だけを
// pending レコードとして永続化し、キューへ投入します。
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/file-forge/internal/config"
	"github.com/yourusername/file-forge/internal/files"
	"github.com/yourusername/file-forge/internal/identity"
	"github.com/yourusername/file-forge/internal/jobs"
	"github.com/yourusername/file-forge/internal/tools"
)

// Enqueuer はジョブIDをワークキューへ投入します。
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobID string) error
}

// SubmitRequest はジョブ投入要求です。
type SubmitRequest struct {
	ToolName     string
	InputFileIDs []string
	Parameters   json.RawMessage
}

// Scheduler はジョブ投入のゲートキーパーです。
type Scheduler struct {
	cfg      *config.Config
	registry *tools.Registry
	jobs     *jobs.Repository
	files    *files.Repository
	enqueuer Enqueuer
	logger   *log.Logger
}

// New は Scheduler を作成します。
func New(cfg *config.Config, registry *tools.Registry, jobRepo *jobs.Repository, fileRepo *files.Repository, enqueuer Enqueuer, logger *log.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		jobs:     jobRepo,
		files:    fileRepo,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// Submit は投入要求を検証し、受理できればジョブを作成してキューへ投入します。
// 検証の順序は ツール → パラメータ → 入力ファイル → クォータ で固定です。
func (s *Scheduler) Submit(ctx context.Context, id identity.Identity, req SubmitRequest) (*jobs.Job, error) {
	tool, ok := s.registry.Lookup(req.ToolName)
	if !ok {
		return nil, newError(CodeUnknownTool, fmt.Sprintf("ツール %q は存在しません。", req.ToolName), nil)
	}

	if err := tool.Validate(req.Parameters); err != nil {
		var toolErr *tools.Error
		if errors.As(err, &toolErr) {
			return nil, newError(CodeInvalidParameters, toolErr.Message, err)
		}
		return nil, newError(CodeInvalidParameters, "パラメータが不正です。", err)
	}

	spec := tool.Spec()
	if len(req.InputFileIDs) < spec.MinInputs || len(req.InputFileIDs) > spec.MaxInputs {
		return nil, newError(CodeInvalidParameters,
			fmt.Sprintf("このツールの入力ファイル数は %d〜%d 件です。", spec.MinInputs, spec.MaxInputs), nil)
	}
	// 同一ファイルの複数指定は許可する（同じPDFを2回結合する等）

	now := time.Now().UTC()
	for _, fileID := range req.InputFileIDs {
		file, err := s.files.Get(ctx, fileID)
		if err != nil {
			if errors.Is(err, files.ErrNotFound) {
				return nil, newError(CodeFileNotFound, fmt.Sprintf("ファイル %s が見つかりません。", fileID), err)
			}
			return nil, fmt.Errorf("failed to resolve input file %s: %w", fileID, err)
		}
		// 投入要求では呼び出し元がIDを自分で指定しているため、
		// 所有者違いは存在隠蔽ではなく明示的な拒否として返す
		if file.OwnerKey != id.Key.String() {
			return nil, newError(CodeFileForbidden, fmt.Sprintf("ファイル %s を使用する権限がありません。", fileID), nil)
		}
		if file.Expired(now) {
			return nil, newError(CodeFileExpired, fmt.Sprintf("ファイル %s は有効期限切れです。", fileID), nil)
		}
		if !spec.AllowsMIME(file.MimeType) {
			return nil, newError(CodeInvalidParameters,
				fmt.Sprintf("ファイル %s の形式 %s はこのツールでは使用できません。", fileID, file.MimeType), nil)
		}
	}

	if err := s.admit(ctx, id); err != nil {
		return nil, err
	}

	job := &jobs.Job{
		JobID:     uuid.New().String(),
		OwnerKey:  id.Key.String(),
		ToolName:  req.ToolName,
		Status:    jobs.StatusPending,
		ExpiresAt: now.Add(s.cfg.FileTTL()),
	}
	if err := job.SetInputIDs(req.InputFileIDs); err != nil {
		return nil, err
	}
	if len(req.Parameters) > 0 {
		job.Parameters = string(req.Parameters)
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	// レコード永続化後のキュー投入失敗は pending のまま残し、
	// 503 を返してスイーパーの再投入に委ねる
	if err := s.enqueuer.EnqueueJob(ctx, job.JobID); err != nil {
		s.logger.Printf("[ERROR] failed to enqueue job %s: %v", job.JobID, err)
		return nil, newError(CodeServiceUnavailable, "ジョブを受け付けられませんでした。しばらくしてから再度お試しください。", err)
	}

	s.logger.Printf("[INFO] job submitted: id=%s tool=%s owner=%s inputs=%d",
		job.JobID, job.ToolName, job.OwnerKey, len(req.InputFileIDs))
	return job, nil
}

// admit はロール別クォータを判定します。
func (s *Scheduler) admit(ctx context.Context, id identity.Identity) error {
	limits := LimitsFor(s.cfg, id.Role)

	if limits.MaxActiveJobs > 0 {
		active, err := s.jobs.CountActive(ctx, id.Key.String())
		if err != nil {
			return fmt.Errorf("failed to count active jobs: %w", err)
		}
		if active >= int64(limits.MaxActiveJobs) {
			return newError(CodeConcurrencyLimit,
				fmt.Sprintf("同時実行できるジョブは %d 件までです。実行中のジョブの完了を待ってください。", limits.MaxActiveJobs), nil)
		}
	}

	if limits.MaxStorageBytes > 0 {
		used, err := s.files.LiveBytes(ctx, id.Key.String(), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to sum live bytes: %w", err)
		}
		if used >= limits.MaxStorageBytes {
			return newError(CodeStorageLimit,
				"ストレージ使用量が上限に達しています。不要なファイルを削除してください。", nil)
		}
	}

	return nil
}
