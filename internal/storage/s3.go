package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store はS3互換オブジェクトストレージにブロブを保存します（本番環境用）。
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store は minio クライアントを初期化して S3Store を返します。
func NewS3Store(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*S3Store, error) {
	if endpoint == "" || bucket == "" {
		return nil, fmt.Errorf("endpoint and bucket are required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &S3Store{client: client, bucket: bucket}, nil
}

// Put はブロブをアップロードします。
func (s *S3Store) Put(ctx context.Context, reference string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, reference, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// Get はブロブをストリームで取得します。
func (s *S3Store) Get(ctx context.Context, reference string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, reference, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	// GetObject は遅延評価のため、ここで実在確認をしておく
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 stat object: %w", err)
	}
	return obj, nil
}

// Delete はブロブを削除します。存在しないオブジェクトの削除も成功扱いです。
func (s *S3Store) Delete(ctx context.Context, reference string) error {
	err := s.client.RemoveObject(ctx, s.bucket, reference, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("s3 remove object: %w", err)
	}
	return nil
}
