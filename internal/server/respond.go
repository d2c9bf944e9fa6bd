package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/file-forge/internal/files"
	"github.com/yourusername/file-forge/internal/jobs"
	"github.com/yourusername/file-forge/internal/scheduler"
)

// schedulerErrorStatus は拒否理由コードとHTTPステータスの対応表です。
var schedulerErrorStatus = map[string]int{
	scheduler.CodeUnknownTool:        http.StatusBadRequest,
	scheduler.CodeInvalidParameters:  http.StatusBadRequest,
	scheduler.CodeFileNotFound:       http.StatusNotFound,
	scheduler.CodeFileForbidden:      http.StatusForbidden,
	scheduler.CodeFileExpired:        http.StatusGone,
	scheduler.CodeConcurrencyLimit:   http.StatusTooManyRequests,
	scheduler.CodeStorageLimit:       http.StatusRequestEntityTooLarge,
	scheduler.CodeServiceUnavailable: http.StatusServiceUnavailable,
}

// respondWithError はエラーをHTTPレスポンスへ変換します。
// 想定外のエラーは詳細を漏らさず 500 に畳みます。
func (s *Server) respondWithError(c *gin.Context, err error) {
	var schedErr *scheduler.Error
	switch {
	case errors.As(err, &schedErr):
		status, ok := schedulerErrorStatus[schedErr.Code]
		if !ok {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"code":    schedErr.Code,
			"message": schedErr.Message,
		})
	case errors.Is(err, files.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "指定されたリソースが見つかりません。",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		s.logger.Printf("[ERROR] unhandled error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    "INVALID_INPUT",
		"message": message,
	})
}
