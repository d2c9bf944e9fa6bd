package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore はローカルファイルシステム上にブロブを保存します（開発環境用）。
type LocalStore struct {
	baseDir string
}

// NewLocalStore は保存先ディレクトリを作成して LocalStore を返します。
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("baseDir is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) path(reference string) (string, error) {
	// 参照値にパス区切りを含めない前提だが、念のため脱出を拒否する
	clean := filepath.Clean(reference)
	if clean != reference || strings.ContainsAny(reference, `/\`) || reference == "." || reference == ".." {
		return "", fmt.Errorf("invalid storage reference: %q", reference)
	}
	return filepath.Join(s.baseDir, clean), nil
}

// Put はブロブを書き込みます。
func (s *LocalStore) Put(ctx context.Context, reference string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(reference)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create blob: %w", err)
	}
	defer file.Close()
	if _, err := io.Copy(file, r); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	return nil
}

// Get はブロブを読み取り用に開きます。
func (s *LocalStore) Get(ctx context.Context, reference string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(reference)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

// Delete はブロブを削除します。存在しない場合も成功扱いです。
func (s *LocalStore) Delete(ctx context.Context, reference string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(reference)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
