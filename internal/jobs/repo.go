package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound は指定されたジョブが存在しない（または所有者が異なる）ことを表します。
// 他オーナーのリソースの存在を漏らさないため、両者は区別しません。
var ErrNotFound = errors.New("jobs: job not found")

// CancelOutcome はキャンセル要求の結果を表します。
type CancelOutcome string

const (
	CancelOutcomeCancelled       CancelOutcome = "cancelled"
	CancelOutcomeAlreadyTerminal CancelOutcome = "already-terminal"
)

// Repository はジョブレコードの永続化を担います。
// すべての状態遷移は期待する現在状態を条件に含むUPDATEで行い、
// 競合したワーカーが同じ終端遷移を二重に適用できないようにします。
type Repository struct {
	db *gorm.DB
}

// NewRepository は Repository を作成します。
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate はジョブテーブルのスキーマを適用します。
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&Job{})
}

// Create はジョブレコードを作成します。
func (r *Repository) Create(ctx context.Context, job *Job) error {
	if job.JobID == "" {
		return fmt.Errorf("jobID is required")
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// Get はジョブIDでレコードを取得します。
func (r *Repository) Get(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// GetOwned はオーナーキーが一致するジョブを取得します。
func (r *Repository) GetOwned(ctx context.Context, jobID, ownerKey string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND owner_key = ?", jobID, ownerKey).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// Claim は pending → processing の遷移を試みます。
// 他のワーカーが先にクレーム済みの場合は false を返します。
// at-least-once配送をeffectively-once実行へ変換する要の操作です。
func (r *Repository) Claim(ctx context.Context, jobID string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("job_id = ? AND status = ?", jobID, StatusPending).
		Updates(map[string]any{
			"status":     StatusProcessing,
			"started_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseClaim はインフラ障害時に processing → pending へ戻し、試行回数を加算します。
// 同じジョブIDのまま再配送されたタスクが再度クレームできるようにします。
func (r *Repository) ReleaseClaim(ctx context.Context, jobID string) error {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("job_id = ? AND status = ?", jobID, StatusProcessing).
		Updates(map[string]any{
			"status":     StatusPending,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now().UTC(),
		})
	return res.Error
}

// UpdateProgress は進捗を更新します。processing 中のみ有効で、
// 進捗が後退する更新は黙って捨てます（単調非減少の保証）。
func (r *Repository) UpdateProgress(ctx context.Context, jobID string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("job_id = ? AND status = ? AND progress < ?", jobID, StatusProcessing, percent).
		Updates(map[string]any{
			"progress":   percent,
			"updated_at": time.Now().UTC(),
		})
	return res.Error
}

// MarkCompleted は processing → completed の遷移を試みます。
func (r *Repository) MarkCompleted(ctx context.Context, jobID, outputFileID string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("job_id = ? AND status = ?", jobID, StatusProcessing).
		Updates(map[string]any{
			"status":         StatusCompleted,
			"progress":       100,
			"output_file_id": outputFileID,
			"completed_at":   now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkFailed は processing → failed の遷移を試みます。
// message はユーザーに表示されるため、内部パス等を含めないサニタイズ済みの文言を渡します。
func (r *Repository) MarkFailed(ctx context.Context, jobID, message string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("job_id = ? AND status = ?", jobID, StatusProcessing).
		Updates(map[string]any{
			"status":        StatusFailed,
			"error_message": message,
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Cancel は {pending, processing} → cancelled の遷移を試みます。
// 既に終端状態の場合は CancelOutcomeAlreadyTerminal を返し、レコードは変更しません。
func (r *Repository) Cancel(ctx context.Context, jobID, ownerKey string) (CancelOutcome, error) {
	job, err := r.GetOwned(ctx, jobID, ownerKey)
	if err != nil {
		return "", err
	}
	if job.Status.Terminal() {
		return CancelOutcomeAlreadyTerminal, nil
	}

	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("job_id = ? AND status IN ?", jobID, []Status{StatusPending, StatusProcessing}).
		Updates(map[string]any{
			"status":     StatusCancelled,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		// 判定と更新の間に終端へ遷移したケース
		return CancelOutcomeAlreadyTerminal, nil
	}
	return CancelOutcomeCancelled, nil
}

// CountActive はオーナーの pending/processing ジョブ数を返します。
func (r *Repository) CountActive(ctx context.Context, ownerKey string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Job{}).
		Where("owner_key = ? AND status IN ?", ownerKey, []Status{StatusPending, StatusProcessing}).
		Count(&count).Error
	return count, err
}

// ListHistory はオーナーのジョブ履歴を新しい順でページングして返します。
func (r *Repository) ListHistory(ctx context.Context, ownerKey string, page, pageSize int) ([]Job, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&Job{}).Where("owner_key = ?", ownerKey)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var results []Job
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&results).Error
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// DeleteExpired は有効期限切れのジョブレコードを削除し、削除件数を返します。
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&Job{})
	return res.RowsAffected, res.Error
}

// StalePending はクレームされないまま猶予時間を過ぎた pending ジョブを返します。
// 永続化後のキュー投入に失敗したジョブを拾い直すための照合に使います。
func (r *Repository) StalePending(ctx context.Context, olderThan time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var results []Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", StatusPending, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&results).Error
	return results, err
}
