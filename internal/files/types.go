// Package files はアップロード/生成ファイルのメタデータ永続化を提供します。
package files

import "time"

// File はファイルメタデータを表します。
// StoredReference が指すブロブは、この行が削除（論理削除）されるまで
// アーティファクトストアに存在し続ける必要があります。
type File struct {
	ID               uint   `gorm:"primaryKey"`
	FileID           string `gorm:"size:100;uniqueIndex"`
	OwnerKey         string `gorm:"size:255;index:idx_files_owner_created,priority:1"`
	OriginalFilename string `gorm:"size:255"`
	StoredReference  string `gorm:"size:255"`
	SizeBytes        int64
	MimeType         string `gorm:"size:100"`
	Checksum         string `gorm:"size:64;index"`
	IsInput          bool   `gorm:"default:true"`
	IsDeleted        bool   `gorm:"default:false;index:idx_files_expires,priority:2"`
	DownloadCount    int    `gorm:"default:0"`
	LastDownloadedAt *time.Time
	CreatedAt        time.Time `gorm:"index:idx_files_owner_created,priority:2"`
	UpdatedAt        time.Time
	ExpiresAt        time.Time `gorm:"index:idx_files_expires,priority:1"`
}

// Expired は指定時刻の時点で有効期限切れかどうかを返します。
func (f *File) Expired(now time.Time) bool {
	return !f.ExpiresAt.After(now)
}
