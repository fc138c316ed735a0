package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/curtbushko/zoom-to-vault/internal/config"
	"github.com/curtbushko/zoom-to-vault/internal/logging"
)

// minioAPI is the subset of *minio.Client the store calls
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// MinioStore writes objects to a MinIO (or other S3-compatible) endpoint
type MinioStore struct {
	client   minioAPI
	bucket   string
	region   string
	partSize uint64
	logger   logging.Logger
}

// NewMinioStore connects to cfg.Endpoint with static credentials
func NewMinioStore(ctx context.Context, cfg config.StorageConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint cannot be empty")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket cannot be empty")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	store := newMinioStore(client, cfg.Bucket, cfg.Region, uint64(cfg.PartSizeMB)*mebibyte)
	if cfg.CreateBucket {
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newMinioStore(client minioAPI, bucket, region string, partSize uint64) *MinioStore {
	return &MinioStore{
		client:   client,
		bucket:   bucket,
		region:   region,
		partSize: partSize,
		logger:   logging.GetDefaultLogger(),
	}
}

// EnsureBucket creates the bucket when it does not exist
func (m *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	m.logger.Info("Created bucket %s", m.bucket)
	return nil
}

// Exists reports whether name is a fully written object
func (m *MinioStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", name, err)
	}
	return true, nil
}

// Upload streams body to name and returns minio://bucket/key
func (m *MinioStore) Upload(ctx context.Context, body io.Reader, size int64, name, contentType string, onProgress ProgressFunc) (string, error) {
	objectSize := size
	if objectSize <= 0 {
		objectSize = -1
	}

	reader := newProgressReader(ctx, body, size, onProgress)
	_, err := m.client.PutObject(ctx, m.bucket, name, reader, objectSize, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    m.partSize,
	})
	if err != nil {
		return "", &UploadError{Name: name, Err: err}
	}
	reader.complete()

	return fmt.Sprintf("minio://%s/%s", m.bucket, name), nil
}

// AccessURL presigns a GET for name valid for ttl
func (m *MinioStore) AccessURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, name, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return u.String(), nil
}

// List returns every object under prefix
func (m *MinioStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	// the listing goroutine runs until ctx is cancelled, including on early return
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []ObjectInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		contentType := obj.ContentType
		if contentType == "" {
			contentType = obj.UserMetadata["content-type"]
		}
		objects = append(objects, ObjectInfo{
			Name:        obj.Key,
			Size:        obj.Size,
			ContentType: contentType,
			CreatedAt:   obj.LastModified,
		})
	}
	return objects, nil
}

// Delete removes name
func (m *MinioStore) Delete(ctx context.Context, name string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", name, err)
	}
	return nil
}

func isMinioNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
