package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		fileType  string
		extension string
		expected  string
	}{
		{"MP4", "", "video/mp4"},
		{"M4A", "", "audio/mp4"},
		{"TRANSCRIPT", "VTT", "text/vtt"},
		{"CC", "", "text/vtt"},
		{"CHAT", "TXT", "text/plain"},
		{"TIMELINE", "JSON", "application/json"},
		{"", "json", "application/json"},
		{"", ".mp4", "video/mp4"},
		{"SUMMARY_NEXT_STEPS", "", "application/octet-stream"},
		{"", "", "application/octet-stream"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ContentTypeFor(tt.fileType, tt.extension), "ContentTypeFor(%q, %q)", tt.fileType, tt.extension)
	}
}

func TestProgressReaderMonotonicAndCapped(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)
	var reported []int

	reader := newProgressReader(context.Background(), bytes.NewReader(data), int64(len(data)), func(p int) {
		reported = append(reported, p)
	})

	buf := make([]byte, 7)
	for {
		_, err := reader.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	require.NotEmpty(t, reported)
	for i := 1; i < len(reported); i++ {
		assert.Greater(t, reported[i], reported[i-1], "progress must strictly increase between reports")
	}
	assert.Equal(t, 99, reported[len(reported)-1], "progress caps at 99 until the sink acknowledges")

	reader.complete()
	assert.Equal(t, 100, reported[len(reported)-1])
	assert.Equal(t, int64(1000), reader.BytesRead())
}

func TestProgressReaderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := newProgressReader(ctx, strings.NewReader("abcdef"), 6, nil)

	buf := make([]byte, 2)
	_, err := reader.Read(buf)
	require.NoError(t, err)

	cancel()
	_, err = reader.Read(buf)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProgressReaderUnknownSize(t *testing.T) {
	calls := 0
	reader := newProgressReader(context.Background(), strings.NewReader("abc"), 0, func(int) { calls++ })
	_, _ = io.ReadAll(reader)
	assert.Zero(t, calls)
	reader.complete()
	assert.Equal(t, 1, calls)
}

type failingDeleteStore struct {
	*MemoryStore
	fail map[string]bool
}

func (f *failingDeleteStore) Delete(ctx context.Context, name string) error {
	if f.fail[name] {
		return errors.New("access denied")
	}
	return f.MemoryStore.Delete(ctx, name)
}

func TestDeleteMany(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore("bucket")
	for _, name := range []string{"a", "b", "c"} {
		_, err := mem.Upload(ctx, strings.NewReader(name), 1, name, "text/plain", nil)
		require.NoError(t, err)
	}

	store := &failingDeleteStore{MemoryStore: mem, fail: map[string]bool{"b": true}}
	result := DeleteMany(ctx, store, []string{"a", "b", "c", "missing"})

	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 2, result.Failed)
	assert.Contains(t, result.Errors, "b")
	assert.Contains(t, result.Errors, "missing")
}

type brokenReader struct {
	after int
	read  int
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if b.read >= b.after {
		return 0, errors.New("connection reset by peer")
	}
	n := len(p)
	if remaining := b.after - b.read; n > remaining {
		n = remaining
	}
	b.read += n
	return n, nil
}

func TestMemoryStoreNoPartialObject(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("bucket")

	_, err := store.Upload(ctx, &brokenReader{after: 512}, 2048, "dest/f1.mp4", "video/mp4", nil)
	var uploadErr *UploadError
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, "dest/f1.mp4", uploadErr.Name)

	exists, err := store.Exists(ctx, "dest/f1.mp4")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("bucket")
	store.now = func() time.Time { return time.Unix(1700000000, 0) }

	ref, err := store.Upload(ctx, strings.NewReader("hello"), 5, "root/a.txt", "text/plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "mem://bucket/root/a.txt", ref)

	url, err := store.AccessURL(ctx, "root/a.txt", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, url, "expires=1700003600")

	objects, err := store.List(ctx, "root/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, int64(5), objects[0].Size)
	assert.Equal(t, "text/plain", objects[0].ContentType)

	require.NoError(t, store.Delete(ctx, "root/a.txt"))
	exists, _ := store.Exists(ctx, "root/a.txt")
	assert.False(t, exists)

	_, err = store.Upload(ctx, strings.NewReader("abc"), 10, "short", "text/plain", nil)
	assert.Error(t, err, "short bodies must fail")
}
