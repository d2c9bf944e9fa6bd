package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yourusername/file-forge/internal/config"
	"github.com/yourusername/file-forge/internal/files"
	"github.com/yourusername/file-forge/internal/jobs"
	"github.com/yourusername/file-forge/internal/storage"
	"github.com/yourusername/file-forge/internal/tools"
)

// Handler はジョブ実行タスクを処理します。
type Handler struct {
	cfg      *config.Config
	jobs     *jobs.Repository
	files    *files.Repository
	store    storage.Store
	registry *tools.Registry
	baseDir  string
	logger   *log.Logger
}

// NewHandler は Handler を作成します。baseDir は作業ディレクトリの親です。
func NewHandler(cfg *config.Config, jobRepo *jobs.Repository, fileRepo *files.Repository, store storage.Store, registry *tools.Registry, baseDir string, logger *log.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		jobs:     jobRepo,
		files:    fileRepo,
		store:    store,
		registry: registry,
		baseDir:  baseDir,
		logger:   logger,
	}
}

// ProcessTask はキューから配送された1タスクを処理します。
// クレームに失敗したタスク（実行済み・キャンセル済み・他ワーカーが処理中）は
// 黙って成功扱いにします。
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload processJobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid task payload: %v: %w", err, asynq.SkipRetry)
	}

	claimed, err := h.jobs.Claim(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", payload.JobID, err)
	}
	if !claimed {
		h.logger.Printf("[INFO] job %s not claimable, skipping", payload.JobID)
		return nil
	}

	job, err := h.jobs.Get(ctx, payload.JobID)
	if err != nil {
		// クレーム済みのままでは誰も拾えないため pending へ戻す
		h.release(ctx, payload.JobID)
		return fmt.Errorf("failed to load job %s: %w", payload.JobID, err)
	}

	if job.Attempts >= h.cfg.MaxTaskRetries {
		h.fail(ctx, job.JobID, "再試行の上限に達したため、ジョブを中止しました。")
		return fmt.Errorf("job %s exceeded retry limit: %w", job.JobID, asynq.SkipRetry)
	}

	h.logger.Printf("[INFO] job started: id=%s tool=%s attempt=%d", job.JobID, job.ToolName, job.Attempts+1)
	return h.execute(ctx, job)
}

func (h *Handler) execute(ctx context.Context, job *jobs.Job) error {
	tool, ok := h.registry.Lookup(job.ToolName)
	if !ok {
		// 登録解除されたツールのジョブが残っていたケース
		h.fail(ctx, job.JobID, fmt.Sprintf("ツール %q は利用できません。", job.ToolName))
		return fmt.Errorf("unknown tool %s: %w", job.ToolName, asynq.SkipRetry)
	}

	ws, err := tools.NewWorkspace(h.baseDir, job.JobID)
	if err != nil {
		h.release(ctx, job.JobID)
		return fmt.Errorf("failed to create workspace for job %s: %w", job.JobID, err)
	}
	defer func() {
		if err := ws.Remove(); err != nil {
			h.logger.Printf("[WARN] failed to remove workspace for job %s: %v", job.JobID, err)
		}
	}()

	inputs, inErr := h.downloadInputs(ctx, job, ws)
	if inErr != nil {
		var toolErr *tools.Error
		if errors.As(inErr, &toolErr) {
			h.fail(ctx, job.JobID, toolErr.Message)
			return fmt.Errorf("job %s: %v: %w", job.JobID, inErr, asynq.SkipRetry)
		}
		h.release(ctx, job.JobID)
		return fmt.Errorf("failed to stage inputs for job %s: %w", job.JobID, inErr)
	}

	execCtx, cancelExec := context.WithTimeout(ctx, h.cfg.TaskTimeout())
	defer cancelExec()

	// 進捗報告はキャンセル確認のチェックポイントを兼ねる
	report := func(stage string, percent int) {
		if err := h.jobs.UpdateProgress(ctx, job.JobID, percent); err != nil {
			h.logger.Printf("[WARN] failed to update progress for job %s: %v", job.JobID, err)
		}
		current, err := h.jobs.Get(ctx, job.JobID)
		if err == nil && current.Status == jobs.StatusCancelled {
			h.logger.Printf("[INFO] job %s cancelled at stage %s", job.JobID, stage)
			cancelExec()
		}
	}

	output, execErr := tool.Execute(execCtx, ws, inputs, job.RawParameters(), report)
	if execErr != nil {
		return h.finishWithError(ctx, execCtx, job, execErr)
	}

	return h.persistOutput(ctx, job, output)
}

// downloadInputs は入力ファイルをワークスペースへ展開します。
// 戻り値のエラーが *tools.Error の場合は決定的な失敗（再試行不可）です。
func (h *Handler) downloadInputs(ctx context.Context, job *jobs.Job, ws tools.Workspace) ([]tools.Input, error) {
	ids, err := job.InputIDs()
	if err != nil {
		return nil, &tools.Error{Code: "INVALID_INPUT", Message: "入力ファイルの指定を読み取れませんでした。", Err: err}
	}

	inputs := make([]tools.Input, 0, len(ids))
	for i, fileID := range ids {
		meta, err := h.files.Get(ctx, fileID)
		if err != nil {
			if errors.Is(err, files.ErrNotFound) {
				return nil, &tools.Error{Code: "FILE_NOT_FOUND", Message: fmt.Sprintf("入力ファイル %s は削除済みか期限切れです。", fileID), Err: err}
			}
			return nil, err
		}
		if meta.OwnerKey != job.OwnerKey {
			return nil, &tools.Error{Code: "FILE_FORBIDDEN", Message: fmt.Sprintf("入力ファイル %s を使用できません。", fileID), Err: nil}
		}

		blob, err := h.store.Get(ctx, meta.StoredReference)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, &tools.Error{Code: "FILE_NOT_FOUND", Message: fmt.Sprintf("入力ファイル %s の実体が見つかりません。", fileID), Err: err}
			}
			return nil, err
		}

		localPath := filepath.Join(ws.InDir, fmt.Sprintf("input-%02d%s", i+1, filepath.Ext(meta.OriginalFilename)))
		if err := writeLocal(localPath, blob); err != nil {
			return nil, err
		}

		inputs = append(inputs, tools.Input{
			Path:         localPath,
			OriginalName: meta.OriginalFilename,
			MimeType:     meta.MimeType,
			Size:         meta.SizeBytes,
		})
	}
	return inputs, nil
}

// finishWithError はツール実行の失敗を種別ごとに終端処理へ振り分けます。
func (h *Handler) finishWithError(ctx, execCtx context.Context, job *jobs.Job, execErr error) error {
	// キャンセルで打ち切られた場合、行は既に cancelled になっている
	if execCtx.Err() != nil {
		current, err := h.jobs.Get(ctx, job.JobID)
		if err == nil && current.Status == jobs.StatusCancelled {
			h.logger.Printf("[INFO] job %s stopped after cancellation", job.JobID)
			return nil
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			h.fail(ctx, job.JobID, "処理時間の上限を超えたため、ジョブを中止しました。")
			return fmt.Errorf("job %s timed out: %w", job.JobID, asynq.SkipRetry)
		}
	}

	var toolErr *tools.Error
	if errors.As(execErr, &toolErr) {
		// 決定的な失敗は再試行しても結果が変わらない
		h.fail(ctx, job.JobID, toolErr.Message)
		return fmt.Errorf("job %s failed: %v: %w", job.JobID, execErr, asynq.SkipRetry)
	}

	// インフラ起因とみなし、pending へ戻して再配送に委ねる
	h.release(ctx, job.JobID)
	return fmt.Errorf("job %s infrastructure failure: %w", job.JobID, execErr)
}

// persistOutput は成果物をストアへ保存し、ジョブを完了させます。
func (h *Handler) persistOutput(ctx context.Context, job *jobs.Job, output *tools.Output) error {
	blob, err := os.Open(output.Path)
	if err != nil {
		h.release(ctx, job.JobID)
		return fmt.Errorf("failed to open output for job %s: %w", job.JobID, err)
	}
	defer blob.Close()

	stat, err := blob.Stat()
	if err != nil {
		h.release(ctx, job.JobID)
		return fmt.Errorf("failed to stat output for job %s: %w", job.JobID, err)
	}

	outputFileID := uuid.New().String()
	reference := outputFileID

	hasher := sha256.New()
	if err := h.store.Put(ctx, reference, io.TeeReader(blob, hasher), stat.Size(), output.MimeType); err != nil {
		h.release(ctx, job.JobID)
		return fmt.Errorf("failed to store output for job %s: %w", job.JobID, err)
	}

	now := time.Now().UTC()
	record := &files.File{
		FileID:           outputFileID,
		OwnerKey:         job.OwnerKey,
		OriginalFilename: output.Filename,
		StoredReference:  reference,
		SizeBytes:        stat.Size(),
		MimeType:         output.MimeType,
		Checksum:         hex.EncodeToString(hasher.Sum(nil)),
		IsInput:          false,
		ExpiresAt:        now.Add(h.cfg.FileTTL()),
	}
	if err := h.files.Create(ctx, record); err != nil {
		h.discardOutput(ctx, record)
		h.release(ctx, job.JobID)
		return fmt.Errorf("failed to persist output metadata for job %s: %w", job.JobID, err)
	}

	completed, err := h.jobs.MarkCompleted(ctx, job.JobID, outputFileID)
	if err != nil {
		h.release(ctx, job.JobID)
		return fmt.Errorf("failed to complete job %s: %w", job.JobID, err)
	}
	if !completed {
		// 完了直前にキャンセルされたケース。成果物は残さない
		h.logger.Printf("[INFO] job %s reached terminal state before completion, discarding output", job.JobID)
		h.discardOutput(ctx, record)
		return nil
	}

	h.logger.Printf("[INFO] job completed: id=%s output=%s size=%d", job.JobID, outputFileID, stat.Size())
	return nil
}

// discardOutput は行き場を失った成果物を片付けます（ベストエフォート）。
func (h *Handler) discardOutput(ctx context.Context, record *files.File) {
	if _, err := h.files.SoftDelete(ctx, record.FileID); err != nil {
		h.logger.Printf("[WARN] failed to soft-delete orphan output %s: %v", record.FileID, err)
	}
	if err := h.store.Delete(ctx, record.StoredReference); err != nil {
		h.logger.Printf("[WARN] failed to delete orphan output blob %s: %v", record.StoredReference, err)
		return
	}
	if err := h.files.HardDelete(ctx, record.FileID); err != nil {
		h.logger.Printf("[WARN] failed to hard-delete orphan output %s: %v", record.FileID, err)
	}
}

func (h *Handler) fail(ctx context.Context, jobID, message string) {
	if _, err := h.jobs.MarkFailed(ctx, jobID, message); err != nil {
		h.logger.Printf("[ERROR] failed to mark job %s failed: %v", jobID, err)
	}
}

func (h *Handler) release(ctx context.Context, jobID string) {
	if err := h.jobs.ReleaseClaim(ctx, jobID); err != nil {
		h.logger.Printf("[ERROR] failed to release claim on job %s: %v", jobID, err)
	}
}

func writeLocal(path string, blob io.ReadCloser) error {
	defer blob.Close()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create local input: %w", err)
	}
	if _, err := io.Copy(f, blob); err != nil {
		f.Close()
		return fmt.Errorf("failed to write local input: %w", err)
	}
	return f.Close()
}
