package server

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/file-forge/internal/files"
	"github.com/yourusername/file-forge/internal/identity"
	"github.com/yourusername/file-forge/internal/scheduler"
)

// uploadAllowedMIMEs は受け付ける実体形式の許可リストです。
// 判定は申告ヘッダーではなく内容スニッフィングの結果で行います。
var uploadAllowedMIMEs = map[string]struct{}{
	"application/pdf": {},
	"image/png":       {},
	"image/jpeg":      {},
	"image/tiff":      {},
	"image/webp":      {},
}

type fileView struct {
	FileID           string    `json:"fileId"`
	OriginalFilename string    `json:"filename"`
	SizeBytes        int64     `json:"size"`
	MimeType         string    `json:"mimeType"`
	Checksum         string    `json:"checksum"`
	IsInput          bool      `json:"isInput"`
	DownloadCount    int       `json:"downloadCount"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

func newFileView(f *files.File) fileView {
	return fileView{
		FileID:           f.FileID,
		OriginalFilename: f.OriginalFilename,
		SizeBytes:        f.SizeBytes,
		MimeType:         f.MimeType,
		Checksum:         f.Checksum,
		IsInput:          f.IsInput,
		DownloadCount:    f.DownloadCount,
		CreatedAt:        f.CreatedAt,
		ExpiresAt:        f.ExpiresAt,
	}
}

// handleUploadFile は POST /api/files のハンドラーです。
func (s *Server) handleUploadFile(c *gin.Context) {
	ident, ok := identity.FromContext(c)
	if !ok {
		s.respondWithError(c, fmt.Errorf("identity not resolved"))
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		respondBadRequest(c, "multipart/form-data で file フィールドにファイルを指定してください。")
		return
	}

	if header.Size > s.cfg.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"code":    "FILE_TOO_LARGE",
			"message": fmt.Sprintf("アップロードできるファイルサイズは %d バイトまでです。", s.cfg.MaxUploadSize),
		})
		return
	}

	if err := s.checkStorageQuota(c, ident, header.Size); err != nil {
		s.respondWithError(c, err)
		return
	}

	src, err := header.Open()
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	defer src.Close()

	// 申告された Content-Type は信用せず、内容から判定する
	detected, err := mimetype.DetectReader(src)
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	mime := detected.String()
	if _, allowed := uploadAllowedMIMEs[mime]; !allowed {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"code":    "UNSUPPORTED_MEDIA_TYPE",
			"message": fmt.Sprintf("この形式のファイルは受け付けられません: %s", mime),
		})
		return
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		s.respondWithError(c, err)
		return
	}

	fileID := uuid.New().String()
	hasher := sha256.New()
	if err := s.store.Put(c.Request.Context(), fileID, io.TeeReader(src, hasher), header.Size, mime); err != nil {
		s.respondWithError(c, err)
		return
	}

	now := time.Now().UTC()
	record := &files.File{
		FileID:           fileID,
		OwnerKey:         ident.Key.String(),
		OriginalFilename: header.Filename,
		StoredReference:  fileID,
		SizeBytes:        header.Size,
		MimeType:         mime,
		Checksum:         hex.EncodeToString(hasher.Sum(nil)),
		IsInput:          true,
		ExpiresAt:        now.Add(s.cfg.FileTTL()),
	}
	if err := s.files.Create(c.Request.Context(), record); err != nil {
		// メタデータが残せない場合はブロブを孤児にしない
		if delErr := s.store.Delete(c.Request.Context(), fileID); delErr != nil {
			s.logger.Printf("[WARN] failed to delete orphan blob %s: %v", fileID, delErr)
		}
		s.respondWithError(c, err)
		return
	}

	s.logger.Printf("[INFO] file uploaded: id=%s owner=%s size=%d mime=%s", fileID, ident.Key, header.Size, mime)
	c.JSON(http.StatusCreated, newFileView(record))
}

// checkStorageQuota はアップロード後の使用量がロール別上限に収まるか確認します。
func (s *Server) checkStorageQuota(c *gin.Context, ident identity.Identity, incoming int64) error {
	limits := scheduler.LimitsFor(s.cfg, ident.Role)
	if limits.MaxStorageBytes <= 0 {
		return nil
	}
	used, err := s.files.LiveBytes(c.Request.Context(), ident.Key.String(), time.Now().UTC())
	if err != nil {
		return err
	}
	if used+incoming > limits.MaxStorageBytes {
		return &scheduler.Error{
			Code:    scheduler.CodeStorageLimit,
			Message: "ストレージ使用量が上限を超えるため、アップロードできません。",
		}
	}
	return nil
}

// handleGetFile は GET /api/files/:id のハンドラーです。
func (s *Server) handleGetFile(c *gin.Context) {
	ident, ok := identity.FromContext(c)
	if !ok {
		s.respondWithError(c, fmt.Errorf("identity not resolved"))
		return
	}

	file, err := s.files.GetOwned(c.Request.Context(), c.Param("id"), ident.Key.String())
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	if file.Expired(time.Now().UTC()) {
		respondExpired(c)
		return
	}
	c.JSON(http.StatusOK, newFileView(file))
}

// handleDeleteFile は DELETE /api/files/:id のハンドラーです。
// 行は即座に見えなくなり、ブロブの回収はスイーパーが行います。
func (s *Server) handleDeleteFile(c *gin.Context) {
	ident, ok := identity.FromContext(c)
	if !ok {
		s.respondWithError(c, fmt.Errorf("identity not resolved"))
		return
	}

	file, err := s.files.GetOwned(c.Request.Context(), c.Param("id"), ident.Key.String())
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	if _, err := s.files.SoftDelete(c.Request.Context(), file.FileID); err != nil {
		s.respondWithError(c, err)
		return
	}

	s.logger.Printf("[INFO] file deleted: id=%s owner=%s", file.FileID, ident.Key)
	c.Status(http.StatusNoContent)
}

// handleDownloadFile は GET /api/files/:id/download のハンドラーです。
func (s *Server) handleDownloadFile(c *gin.Context) {
	ident, ok := identity.FromContext(c)
	if !ok {
		s.respondWithError(c, fmt.Errorf("identity not resolved"))
		return
	}

	file, err := s.files.GetOwned(c.Request.Context(), c.Param("id"), ident.Key.String())
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	if file.Expired(time.Now().UTC()) {
		respondExpired(c)
		return
	}

	blob, err := s.store.Get(c.Request.Context(), file.StoredReference)
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	defer blob.Close()

	if err := s.files.TrackDownload(c.Request.Context(), file.FileID); err != nil {
		s.logger.Printf("[WARN] failed to track download for file %s: %v", file.FileID, err)
	}

	disposition := fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(file.OriginalFilename))
	c.DataFromReader(http.StatusOK, file.SizeBytes, file.MimeType, blob, map[string]string{
		"Content-Disposition": disposition,
	})
}

func respondExpired(c *gin.Context) {
	c.JSON(http.StatusGone, gin.H{
		"code":    "FILE_EXPIRED",
		"message": "このファイルは有効期限切れです。",
	})
}
