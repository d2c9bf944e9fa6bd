package tools

import "fmt"

// Error はツール実行時の決定的エラー（入力不正・非対応形式など）を表します。
// Message はそのままユーザーへ表示されるため、内部パスやスタック情報を含めません。
// この型のエラーは再試行しても結果が変わらないため、リトライ対象外です。
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
