// Package ledger records the terminal outcome of every recording file transfer
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/curtbushko/zoom-to-vault/internal/config"
)

// Status is the terminal state persisted for a transfer
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is one ledger entry, unique by FileID
type Record struct {
	FileID          string    `json:"file_id" db:"file_id"`
	MeetingID       string    `json:"meeting_id" db:"meeting_id"`
	DestinationName string    `json:"destination_name" db:"destination_name"`
	SizeBytes       int64     `json:"size_bytes" db:"size_bytes"`
	Status          Status    `json:"status" db:"status"`
	DestinationRef  string    `json:"destination_ref,omitempty" db:"destination_ref"`
	Error           string    `json:"error,omitempty" db:"error"`
	CompletedAt     time.Time `json:"completed_at" db:"completed_at"`
	FileType        string    `json:"file_type,omitempty" db:"file_type"`
	UserEmail       string    `json:"user_email,omitempty" db:"user_email"`
	UserDisplayName string    `json:"user_display_name,omitempty" db:"user_display_name"`
}

// Validate enforces that completed records carry a destination reference
// and failed records carry an error, never the other way around.
func (r Record) Validate() error {
	if r.FileID == "" {
		return errors.New("file id is required")
	}
	switch r.Status {
	case StatusCompleted:
		if r.DestinationRef == "" {
			return errors.New("completed record requires a destination reference")
		}
		if r.Error != "" {
			return errors.New("completed record must not carry an error")
		}
	case StatusFailed:
		if r.Error == "" {
			return errors.New("failed record requires an error")
		}
		if r.DestinationRef != "" {
			return errors.New("failed record must not carry a destination reference")
		}
	default:
		return fmt.Errorf("invalid status %q", r.Status)
	}
	return nil
}

// Error wraps every backend failure with the operation and file it concerned
type Error struct {
	Op     string
	FileID string
	Err    error
}

func (e *Error) Error() string {
	if e.FileID != "" {
		return fmt.Sprintf("ledger %s %s: %v", e.Op, e.FileID, e.Err)
	}
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Ledger is the persistent record of transfer outcomes
type Ledger interface {
	// FindCompleted returns the completed record for fileID, or nil when there is none
	FindCompleted(ctx context.Context, fileID string) (*Record, error)

	// FindCompletedBulk returns completed records keyed by file id; absent ids are omitted
	FindCompletedBulk(ctx context.Context, fileIDs []string) (map[string]*Record, error)

	// RecordOutcome upserts rec by FileID; the last terminal state wins
	RecordOutcome(ctx context.Context, rec Record) error

	Close() error
}

// ListOptions filters List results
type ListOptions struct {
	Status    Status
	MeetingID string
	Limit     int
}

// Stats aggregates ledger contents
type Stats struct {
	Completed  int   `json:"completed" db:"completed"`
	Failed     int   `json:"failed" db:"failed"`
	TotalBytes int64 `json:"total_bytes" db:"total_bytes"`
}

// Reader is implemented by backends that can browse their records
type Reader interface {
	List(ctx context.Context, opts ListOptions) ([]Record, error)
	Stats(ctx context.Context) (Stats, error)
}

// New opens the backend selected by cfg.Backend
func New(ctx context.Context, cfg config.LedgerConfig) (Ledger, error) {
	var (
		l   Ledger
		err error
	)

	switch cfg.Backend {
	case "", "file":
		l, err = NewFileLedger(cfg.File)
	case "postgres":
		l, err = NewPostgresLedger(ctx, cfg.DSN)
	case "redis":
		l, err = NewRedisLedger(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}

	if err != nil {
		return nil, err
	}
	return l, nil
}

// filterRecords applies opts to records, newest first
func filterRecords(records []Record, opts ListOptions) []Record {
	result := make([]Record, 0, len(records))
	for _, rec := range records {
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		if opts.MeetingID != "" && rec.MeetingID != opts.MeetingID {
			continue
		}
		result = append(result, rec)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CompletedAt.Equal(result[j].CompletedAt) {
			return result[i].FileID < result[j].FileID
		}
		return result[i].CompletedAt.After(result[j].CompletedAt)
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result
}

func statsOf(records []Record) Stats {
	var stats Stats
	for _, rec := range records {
		switch rec.Status {
		case StatusCompleted:
			stats.Completed++
			stats.TotalBytes += rec.SizeBytes
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}
