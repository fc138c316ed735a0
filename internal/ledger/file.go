package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const fileLedgerVersion = "1.0"

// ledgerDocument is the on-disk layout of a file ledger
type ledgerDocument struct {
	Version     string            `json:"version"`
	LastUpdated time.Time         `json:"last_updated"`
	Records     map[string]Record `json:"records"`
}

// FileLedger keeps records in a single JSON document rewritten atomically on every upsert
type FileLedger struct {
	path  string
	data  ledgerDocument
	mutex sync.RWMutex
}

// NewFileLedger opens or creates the ledger document at path
func NewFileLedger(path string) (*FileLedger, error) {
	if path == "" {
		return nil, &Error{Op: "open", Err: errors.New("ledger file path cannot be empty")}
	}

	l := &FileLedger{
		path: path,
		data: ledgerDocument{
			Version:     fileLedgerVersion,
			LastUpdated: time.Now().UTC(),
			Records:     make(map[string]Record),
		},
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("failed to create ledger directory: %w", err)}
	}

	if err := l.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Op: "open", Err: err}
		}
		if err := l.save(); err != nil {
			return nil, &Error{Op: "open", Err: err}
		}
	}

	return l, nil
}

// FindCompleted returns the completed record for fileID
func (l *FileLedger) FindCompleted(ctx context.Context, fileID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "find", FileID: fileID, Err: err}
	}

	l.mutex.RLock()
	defer l.mutex.RUnlock()

	rec, ok := l.data.Records[fileID]
	if !ok || rec.Status != StatusCompleted {
		return nil, nil
	}
	return &rec, nil
}

// FindCompletedBulk returns the completed records among fileIDs
func (l *FileLedger) FindCompletedBulk(ctx context.Context, fileIDs []string) (map[string]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "find_bulk", Err: err}
	}

	l.mutex.RLock()
	defer l.mutex.RUnlock()

	result := make(map[string]*Record)
	for _, id := range fileIDs {
		if rec, ok := l.data.Records[id]; ok && rec.Status == StatusCompleted {
			rec := rec
			result[id] = &rec
		}
	}
	return result, nil
}

// RecordOutcome upserts rec and persists the document
func (l *FileLedger) RecordOutcome(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return &Error{Op: "record", FileID: rec.FileID, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &Error{Op: "record", FileID: rec.FileID, Err: err}
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	previous, existed := l.data.Records[rec.FileID]
	l.data.Records[rec.FileID] = rec
	if err := l.save(); err != nil {
		if existed {
			l.data.Records[rec.FileID] = previous
		} else {
			delete(l.data.Records, rec.FileID)
		}
		return &Error{Op: "record", FileID: rec.FileID, Err: err}
	}
	return nil
}

// List returns records matching opts, newest first
func (l *FileLedger) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	l.mutex.RLock()
	records := make([]Record, 0, len(l.data.Records))
	for _, rec := range l.data.Records {
		records = append(records, rec)
	}
	l.mutex.RUnlock()

	return filterRecords(records, opts), nil
}

// Stats counts records by status
func (l *FileLedger) Stats(ctx context.Context) (Stats, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	records := make([]Record, 0, len(l.data.Records))
	for _, rec := range l.data.Records {
		records = append(records, rec)
	}
	return statsOf(records), nil
}

// Close flushes the document
func (l *FileLedger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if err := l.save(); err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}

// save writes the document; callers hold the write lock
func (l *FileLedger) save() error {
	l.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	// write then rename so readers never see a torn document
	tempFile := l.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary ledger file: %w", err)
	}
	if err := os.Rename(tempFile, l.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename ledger file: %w", err)
	}
	return nil
}

func (l *FileLedger) load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}

	var doc ledgerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse ledger file (corrupted): %w", err)
	}
	if doc.Version == "" {
		doc.Version = fileLedgerVersion
	}
	if doc.Records == nil {
		doc.Records = make(map[string]Record)
	}

	l.data = doc
	return nil
}
