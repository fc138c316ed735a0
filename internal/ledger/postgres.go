package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const recordColumns = `file_id, meeting_id, destination_name, size_bytes, status, destination_ref,
	error, completed_at, file_type, user_email, user_display_name`

const upsertRecord = `INSERT INTO transfer_records (` + recordColumns + `)
VALUES (:file_id, :meeting_id, :destination_name, :size_bytes, :status, :destination_ref,
	:error, :completed_at, :file_type, :user_email, :user_display_name)
ON CONFLICT (file_id) DO UPDATE SET
	meeting_id = EXCLUDED.meeting_id,
	destination_name = EXCLUDED.destination_name,
	size_bytes = EXCLUDED.size_bytes,
	status = EXCLUDED.status,
	destination_ref = EXCLUDED.destination_ref,
	error = EXCLUDED.error,
	completed_at = EXCLUDED.completed_at,
	file_type = EXCLUDED.file_type,
	user_email = EXCLUDED.user_email,
	user_display_name = EXCLUDED.user_display_name`

// gooseUpContext is a seam for testing goose.UpContext
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// PostgresLedger stores records in the transfer_records table
type PostgresLedger struct {
	db *sqlx.DB
}

// NewPostgresLedger connects to dsn through the pgx driver and applies migrations
func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	if dsn == "" {
		return nil, &Error{Op: "open", Err: errors.New("postgres dsn cannot be empty")}
	}

	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("db open error: %w", err)}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &Error{Op: "open", Err: fmt.Errorf("db ping error: %w", err)}
	}

	l := NewPostgresLedgerFromDB(db)
	if err := l.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// NewPostgresLedgerFromDB wraps an existing connection without migrating
func NewPostgresLedgerFromDB(db *sqlx.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Migrate applies the embedded goose migrations
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return &Error{Op: "migrate", Err: err}
	}
	if err := gooseUpContext(ctx, l.db.DB, "migrations"); err != nil {
		return &Error{Op: "migrate", Err: err}
	}
	return nil
}

// FindCompleted returns the completed record for fileID
func (l *PostgresLedger) FindCompleted(ctx context.Context, fileID string) (*Record, error) {
	var rec Record
	query := `SELECT ` + recordColumns + ` FROM transfer_records WHERE file_id = $1 AND status = $2`
	if err := l.db.GetContext(ctx, &rec, query, fileID, string(StatusCompleted)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &Error{Op: "find", FileID: fileID, Err: err}
	}
	return &rec, nil
}

// FindCompletedBulk looks up all fileIDs in a single query
func (l *PostgresLedger) FindCompletedBulk(ctx context.Context, fileIDs []string) (map[string]*Record, error) {
	result := make(map[string]*Record)
	if len(fileIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(
		`SELECT `+recordColumns+` FROM transfer_records WHERE status = ? AND file_id IN (?)`,
		string(StatusCompleted), fileIDs,
	)
	if err != nil {
		return nil, &Error{Op: "find_bulk", Err: err}
	}

	var records []Record
	if err := l.db.SelectContext(ctx, &records, l.db.Rebind(query), args...); err != nil {
		return nil, &Error{Op: "find_bulk", Err: err}
	}

	for i := range records {
		result[records[i].FileID] = &records[i]
	}
	return result, nil
}

// RecordOutcome upserts rec by file id
func (l *PostgresLedger) RecordOutcome(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return &Error{Op: "record", FileID: rec.FileID, Err: err}
	}
	if rec.CompletedAt.IsZero() {
		return &Error{Op: "record", FileID: rec.FileID, Err: errors.New("completed_at is required")}
	}

	if _, err := l.db.NamedExecContext(ctx, upsertRecord, rec); err != nil {
		return &Error{Op: "record", FileID: rec.FileID, Err: err}
	}
	return nil
}

// List returns records matching opts, newest first
func (l *PostgresLedger) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if opts.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.MeetingID != "" {
		conditions = append(conditions, "meeting_id = ?")
		args = append(args, opts.MeetingID)
	}

	query := `SELECT ` + recordColumns + ` FROM transfer_records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY completed_at DESC, file_id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	var records []Record
	if err := l.db.SelectContext(ctx, &records, l.db.Rebind(query), args...); err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	return records, nil
}

// Stats aggregates counts server-side
func (l *PostgresLedger) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	query := `SELECT
		COUNT(*) FILTER (WHERE status = 'completed') AS completed,
		COUNT(*) FILTER (WHERE status = 'failed') AS failed,
		COALESCE(SUM(size_bytes) FILTER (WHERE status = 'completed'), 0) AS total_bytes
	FROM transfer_records`
	if err := l.db.GetContext(ctx, &stats, query); err != nil {
		return Stats{}, &Error{Op: "stats", Err: err}
	}
	return stats, nil
}

// Close closes the connection pool
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}
