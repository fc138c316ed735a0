package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const ttlInfinite = 0

// RedisOptions configures the Redis backend
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisLedger stores each record as JSON under <prefix>:record:<fileId> and
// tracks membership in <prefix>:completed and <prefix>:failed sets
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger connects to Redis and verifies connectivity
func NewRedisLedger(ctx context.Context, opts RedisOptions) (*RedisLedger, error) {
	if opts.Addr == "" {
		return nil, &Error{Op: "open", Err: errors.New("redis address cannot be empty")}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, &Error{Op: "open", Err: fmt.Errorf("redis ping: %w", err)}
	}

	return NewRedisLedgerFromClient(client, opts.Prefix), nil
}

// NewRedisLedgerFromClient wraps an existing client
func NewRedisLedgerFromClient(client *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "zoom-to-vault"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) recordKey(fileID string) string {
	return l.prefix + ":record:" + fileID
}

func (l *RedisLedger) setKey(status Status) string {
	return l.prefix + ":" + string(status)
}

// FindCompleted returns the completed record for fileID
func (l *RedisLedger) FindCompleted(ctx context.Context, fileID string) (*Record, error) {
	data, err := l.client.Get(ctx, l.recordKey(fileID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, &Error{Op: "find", FileID: fileID, Err: err}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &Error{Op: "find", FileID: fileID, Err: fmt.Errorf("corrupt record: %w", err)}
	}
	if rec.Status != StatusCompleted {
		return nil, nil
	}
	return &rec, nil
}

// FindCompletedBulk fetches all fileIDs with one MGET
func (l *RedisLedger) FindCompletedBulk(ctx context.Context, fileIDs []string) (map[string]*Record, error) {
	result := make(map[string]*Record)
	if len(fileIDs) == 0 {
		return result, nil
	}

	records, err := l.mget(ctx, fileIDs)
	if err != nil {
		return nil, &Error{Op: "find_bulk", Err: err}
	}
	for i := range records {
		if records[i].Status == StatusCompleted {
			result[records[i].FileID] = &records[i]
		}
	}
	return result, nil
}

// RecordOutcome writes the record and moves it between status sets atomically
func (l *RedisLedger) RecordOutcome(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return &Error{Op: "record", FileID: rec.FileID, Err: err}
	}
	if rec.CompletedAt.IsZero() {
		return &Error{Op: "record", FileID: rec.FileID, Err: errors.New("completed_at is required")}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return &Error{Op: "record", FileID: rec.FileID, Err: err}
	}

	other := StatusFailed
	if rec.Status == StatusFailed {
		other = StatusCompleted
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := pipe.Set(ctx, l.recordKey(rec.FileID), payload, ttlInfinite).Err(); err != nil {
			return err
		}
		if err := pipe.SAdd(ctx, l.setKey(rec.Status), rec.FileID).Err(); err != nil {
			return err
		}
		return pipe.SRem(ctx, l.setKey(other), rec.FileID).Err()
	})
	if err != nil {
		return &Error{Op: "record", FileID: rec.FileID, Err: err}
	}
	return nil
}

// List returns records matching opts, newest first
func (l *RedisLedger) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	statuses := []Status{StatusCompleted, StatusFailed}
	if opts.Status != "" {
		statuses = []Status{opts.Status}
	}

	var ids []string
	for _, status := range statuses {
		members, err := l.client.SMembers(ctx, l.setKey(status)).Result()
		if err != nil {
			return nil, &Error{Op: "list", Err: err}
		}
		ids = append(ids, members...)
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}

	records, err := l.mget(ctx, ids)
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	return filterRecords(records, opts), nil
}

// Stats counts set members and sums completed sizes
func (l *RedisLedger) Stats(ctx context.Context) (Stats, error) {
	failed, err := l.client.SCard(ctx, l.setKey(StatusFailed)).Result()
	if err != nil {
		return Stats{}, &Error{Op: "stats", Err: err}
	}

	completedIDs, err := l.client.SMembers(ctx, l.setKey(StatusCompleted)).Result()
	if err != nil {
		return Stats{}, &Error{Op: "stats", Err: err}
	}

	stats := Stats{Completed: len(completedIDs), Failed: int(failed)}
	if len(completedIDs) == 0 {
		return stats, nil
	}

	records, err := l.mget(ctx, completedIDs)
	if err != nil {
		return Stats{}, &Error{Op: "stats", Err: err}
	}
	for _, rec := range records {
		stats.TotalBytes += rec.SizeBytes
	}
	return stats, nil
}

// Close closes the client
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

// mget loads the records for ids, skipping missing keys
func (l *RedisLedger) mget(ctx context.Context, ids []string) ([]Record, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = l.recordKey(id)
	}

	values, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("corrupt record %s: %w", ids[i], err)
		}
		records = append(records, rec)
	}
	return records, nil
}
