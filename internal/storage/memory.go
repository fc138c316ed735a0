package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
	createdAt   time.Time
}

// MemoryStore keeps objects in memory. An upload is buffered privately and
// published only after the whole body has been read.
type MemoryStore struct {
	mutex   sync.RWMutex
	bucket  string
	objects map[string]memoryObject
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

// Exists reports whether name has been published
func (m *MemoryStore) Exists(ctx context.Context, name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.objects[name]
	return ok, nil
}

// Upload reads body fully, then publishes it under name
func (m *MemoryStore) Upload(ctx context.Context, body io.Reader, size int64, name, contentType string, onProgress ProgressFunc) (string, error) {
	reader := newProgressReader(ctx, body, size, onProgress)

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", &UploadError{Name: name, Err: err}
	}
	if size > 0 && int64(buf.Len()) != size {
		return "", &UploadError{Name: name, Err: fmt.Errorf("short body: got %d of %d bytes", buf.Len(), size)}
	}

	m.mutex.Lock()
	m.objects[name] = memoryObject{data: buf.Bytes(), contentType: contentType, createdAt: m.now()}
	m.mutex.Unlock()

	reader.complete()
	return fmt.Sprintf("mem://%s/%s", m.bucket, name), nil
}

// AccessURL returns a pseudo-URL carrying the expiry
func (m *MemoryStore) AccessURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if ok, _ := m.Exists(ctx, name); !ok {
		return "", fmt.Errorf("object %s not found", name)
	}
	return fmt.Sprintf("mem://%s/%s?expires=%d", m.bucket, name, m.now().Add(ttl).Unix()), nil
}

// List returns objects under prefix sorted by name
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var objects []ObjectInfo
	for name, obj := range m.objects {
		if strings.HasPrefix(name, prefix) {
			objects = append(objects, ObjectInfo{
				Name:        name,
				Size:        int64(len(obj.data)),
				ContentType: obj.contentType,
				CreatedAt:   obj.createdAt,
			})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}

// Delete removes name; deleting a missing object is an error
func (m *MemoryStore) Delete(ctx context.Context, name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.objects[name]; !ok {
		return fmt.Errorf("object %s not found", name)
	}
	delete(m.objects, name)
	return nil
}

// Content returns the stored bytes for name
func (m *MemoryStore) Content(name string) ([]byte, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	obj, ok := m.objects[name]
	return obj.data, ok
}
