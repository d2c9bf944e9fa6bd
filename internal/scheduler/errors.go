package scheduler

import "fmt"

// 拒否理由コード。HTTP層はこのコードだけを見てステータスへ対応付けます。
const (
	CodeUnknownTool        = "UNKNOWN_TOOL"
	CodeInvalidParameters  = "INVALID_PARAMETERS"
	CodeFileNotFound       = "FILE_NOT_FOUND"
	CodeFileForbidden      = "FILE_FORBIDDEN"
	CodeFileExpired        = "FILE_EXPIRED"
	CodeConcurrencyLimit   = "CONCURRENCY_LIMIT_EXCEEDED"
	CodeStorageLimit       = "STORAGE_LIMIT_EXCEEDED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// Error は投入要求が受理されなかった理由を表します。
// Message はそのままユーザーへ返されるため、内部情報を含めません。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
