// Package storage streams recording files into an S3-compatible object store
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/curtbushko/zoom-to-vault/internal/config"
)

// ProgressFunc receives upload progress as a percentage in [0, 100]
type ProgressFunc func(percent int)

// ObjectInfo is the listing metadata for one stored object
type ObjectInfo struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// ObjectStore is the destination sink for transferred recordings.
// An object becomes visible to Exists only once Upload has fully succeeded.
type ObjectStore interface {
	Exists(ctx context.Context, name string) (bool, error)
	Upload(ctx context.Context, body io.Reader, size int64, name, contentType string, onProgress ProgressFunc) (string, error)
	AccessURL(ctx context.Context, name string, ttl time.Duration) (string, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, name string) error
}

// UploadError reports a failed upload; no partial object is left addressable
type UploadError struct {
	Name string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed: %v", e.Name, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// New creates the backend selected by cfg.Backend
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "", "s3":
		store, err := NewS3Store(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "minio":
		store, err := NewMinioStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// ContentTypeFor maps a recording file type or extension to a MIME type
func ContentTypeFor(fileType, extension string) string {
	switch strings.ToUpper(fileType) {
	case "MP4":
		return "video/mp4"
	case "M4A":
		return "audio/mp4"
	case "TRANSCRIPT", "CC":
		return "text/vtt"
	case "CHAT", "TXT":
		return "text/plain"
	case "JSON", "TIMELINE", "SUMMARY":
		return "application/json"
	}

	switch strings.ToLower(strings.TrimPrefix(extension, ".")) {
	case "mp4":
		return "video/mp4"
	case "m4a":
		return "audio/mp4"
	case "vtt":
		return "text/vtt"
	case "txt":
		return "text/plain"
	case "json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// BulkResult summarizes a multi-object deletion
type BulkResult struct {
	Total      int               `json:"total"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// DeleteMany deletes every name, continuing past individual failures
func DeleteMany(ctx context.Context, store ObjectStore, names []string) BulkResult {
	result := BulkResult{Total: len(names)}
	for _, name := range names {
		if err := store.Delete(ctx, name); err != nil {
			if result.Errors == nil {
				result.Errors = make(map[string]string)
			}
			result.Failed++
			result.Errors[name] = err.Error()
			continue
		}
		result.Successful++
	}
	return result
}
