package files

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound は指定されたファイルが存在しない（または削除済み・所有者が異なる）ことを表します。
var ErrNotFound = errors.New("files: file not found")

// Repository はファイルメタデータの永続化を担います。
type Repository struct {
	db *gorm.DB
}

// NewRepository は Repository を作成します。
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate はファイルテーブルのスキーマを適用します。
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&File{})
}

// Create はファイルレコードを作成します。
func (r *Repository) Create(ctx context.Context, file *File) error {
	if file.FileID == "" {
		return fmt.Errorf("fileID is required")
	}
	if file.StoredReference == "" {
		return fmt.Errorf("storedReference is required")
	}
	return r.db.WithContext(ctx).Create(file).Error
}

// Get はファイルIDでレコードを取得します。論理削除済みは対象外です。
func (r *Repository) Get(ctx context.Context, fileID string) (*File, error) {
	var file File
	err := r.db.WithContext(ctx).
		Where("file_id = ? AND is_deleted = ?", fileID, false).
		First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &file, nil
}

// GetOwned はオーナーキーが一致するファイルを取得します。
func (r *Repository) GetOwned(ctx context.Context, fileID, ownerKey string) (*File, error) {
	file, err := r.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.OwnerKey != ownerKey {
		// 所有者違いは存在自体を漏らさない
		return nil, ErrNotFound
	}
	return file, nil
}

// TrackDownload はダウンロード成功時の統計を更新します。
func (r *Repository) TrackDownload(ctx context.Context, fileID string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&File{}).
		Where("file_id = ?", fileID).
		Updates(map[string]any{
			"download_count":     gorm.Expr("download_count + 1"),
			"last_downloaded_at": now,
			"updated_at":         now,
		}).Error
}

// LiveBytes はオーナーの生存中ファイルの合計バイト数を返します。
// クォータ判定に使うため、期限切れと論理削除済みは含めません。
func (r *Repository) LiveBytes(ctx context.Context, ownerKey string, now time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&File{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Where("owner_key = ? AND is_deleted = ? AND expires_at > ?", ownerKey, false, now).
		Scan(&total).Error
	return total, err
}

// SoftDelete はレコードを論理削除します。以後 Get では見えなくなりますが、
// StoredReference はブロブ削除が確認できるまで保持されます。
func (r *Repository) SoftDelete(ctx context.Context, fileID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&File{}).
		Where("file_id = ? AND is_deleted = ?", fileID, false).
		Updates(map[string]any{
			"is_deleted": true,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// HardDelete はレコードを物理削除します。ブロブ削除の成功後にのみ呼びます。
func (r *Repository) HardDelete(ctx context.Context, fileID string) error {
	return r.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&File{}).Error
}

// SweepCandidates は掃除対象（期限切れ、またはブロブ削除が未完の論理削除済み）
// のレコードを返します。
func (r *Repository) SweepCandidates(ctx context.Context, now time.Time, limit int) ([]File, error) {
	if limit <= 0 {
		limit = 100
	}
	var results []File
	err := r.db.WithContext(ctx).
		Where("expires_at <= ? OR is_deleted = ?", now, true).
		Order("expires_at ASC").
		Limit(limit).
		Find(&results).Error
	return results, err
}
