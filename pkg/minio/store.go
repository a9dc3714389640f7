package minio

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"taskmarket/pkg/config"
	"taskmarket/pkg/logger"

	"github.com/gosimple/slug"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

//go:generate mockgen -source=store.go -destination=mock/store.go -package=mock

// ObjectStore keeps uploaded proof images and payment receipts.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

type objectStore struct {
	client *minio.Client
	bucket string
}

func NewObjectStore(client *minio.Client, cfg *config.Config) ObjectStore {
	return &objectStore{client: client, bucket: cfg.Minio.BucketName}
}

func (s *objectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *objectStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get object %s: %w", key, err)
	}

	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, nil, fmt.Errorf("stat object %s: %w", key, err)
	}

	return obj, &ObjectInfo{Key: key, Size: stat.Size, ContentType: stat.ContentType}, nil
}

func (s *objectStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// Discard removes an object whose owning row was never written. Failures are
// logged only, the caller is already returning an error.
func Discard(ctx context.Context, store ObjectStore, key string) {
	if err := store.Delete(ctx, key); err != nil {
		logger.FromContext(ctx).Warn("failed to remove orphaned object", zap.String("key", key), zap.Error(err))
	}
}

// ObjectKey builds "<prefix>/<owner>/<slugged-name><ext>" for an uploaded file.
func ObjectKey(prefix, owner, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	base := slug.Make(strings.TrimSuffix(path.Base(filename), path.Ext(filename)))
	if base == "" {
		base = "upload"
	}
	return path.Join(prefix, owner, base+ext)
}

// Upload is a file received from a client, ready to be stored.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}
