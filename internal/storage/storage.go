// Package storage は成果物ブロブの保存先を抽象化するレイヤーを提供します。
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound は参照先のブロブが存在しないことを表します。
var ErrNotFound = errors.New("storage: object not found")

// Store は成果物ブロブの保存・取得・削除を抽象化します。
// Delete は冪等で、既に存在しない参照に対しても成功を返します。
type Store interface {
	Put(ctx context.Context, reference string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, reference string) (io.ReadCloser, error)
	Delete(ctx context.Context, reference string) error
}
