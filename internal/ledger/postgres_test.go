package ledger

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{
	"file_id", "meeting_id", "destination_name", "size_bytes", "status", "destination_ref",
	"error", "completed_at", "file_type", "user_email", "user_display_name",
}

func newPostgresWithMock(t *testing.T) (*PostgresLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresLedgerFromDB(sqlx.NewDb(db, "pgx")), mock
}

func TestPostgresFindCompleted(t *testing.T) {
	l, mock := newPostgresWithMock(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM transfer_records WHERE file_id = \$1 AND status = \$2`).
		WithArgs("f2", "completed").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("f2", "778899", "dest/f2.m4a", int64(500000), "completed", "dest/f2.m4a", "", at, "M4A", "a@example.com", "A"))

	rec, err := l.FindCompleted(context.Background(), "f2")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "dest/f2.m4a", rec.DestinationRef)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, int64(500000), rec.SizeBytes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindCompletedMissing(t *testing.T) {
	l, mock := newPostgresWithMock(t)

	mock.ExpectQuery(`SELECT .* FROM transfer_records`).
		WithArgs("nope", "completed").
		WillReturnError(sql.ErrNoRows)

	rec, err := l.FindCompleted(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPostgresFindCompletedError(t *testing.T) {
	l, mock := newPostgresWithMock(t)

	mock.ExpectQuery(`SELECT .* FROM transfer_records`).
		WillReturnError(errors.New("connection reset"))

	_, err := l.FindCompleted(context.Background(), "f1")
	var ledgerErr *Error
	require.True(t, errors.As(err, &ledgerErr))
	assert.Equal(t, "find", ledgerErr.Op)
	assert.Equal(t, "f1", ledgerErr.FileID)
}

func TestPostgresFindCompletedBulk(t *testing.T) {
	l, mock := newPostgresWithMock(t)
	at := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM transfer_records WHERE status = \$1 AND file_id IN \(\$2, \$3\)`).
		WithArgs("completed", "f1", "f2").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("f2", "778899", "dest/f2.m4a", int64(500000), "completed", "dest/f2.m4a", "", at, "", "", ""))

	found, err := l.FindCompletedBulk(context.Background(), []string{"f1", "f2"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, "dest/f2.m4a", found["f2"].DestinationRef)
	assert.NoError(t, mock.ExpectationsWereMet())

	empty, err := l.FindCompletedBulk(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPostgresRecordOutcomeUpserts(t *testing.T) {
	l, mock := newPostgresWithMock(t)
	rec := completedRecord("f1", 2000000, time.Now().UTC())

	mock.ExpectExec(`INSERT INTO transfer_records .* ON CONFLICT \(file_id\) DO UPDATE SET`).
		WithArgs("f1", "778899", "dest/f1", int64(2000000), "completed", "s3://bucket/dest/f1",
			"", sqlmock.AnyArg(), "", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, l.RecordOutcome(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordOutcomeValidation(t *testing.T) {
	l, mock := newPostgresWithMock(t)

	err := l.RecordOutcome(context.Background(), Record{FileID: "f1", Status: StatusFailed})
	assert.Error(t, err)

	rec := completedRecord("f1", 1, time.Time{})
	err = l.RecordOutcome(context.Background(), rec)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "no statement should reach the database")
}

func TestPostgresListAndStats(t *testing.T) {
	l, mock := newPostgresWithMock(t)
	at := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM transfer_records WHERE status = \$1 AND meeting_id = \$2 ORDER BY completed_at DESC, file_id LIMIT \$3`).
		WithArgs("failed", "778899", 5).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("f3", "778899", "dest/f3", int64(0), "failed", "", "boom", at, "", "", ""))

	records, err := l.List(context.Background(), ListOptions{Status: StatusFailed, MeetingID: "778899", Limit: 5})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "boom", records[0].Error)

	mock.ExpectQuery(`SELECT\s+COUNT\(\*\) FILTER`).
		WillReturnRows(sqlmock.NewRows([]string{"completed", "failed", "total_bytes"}).AddRow(3, 1, int64(4096)))

	stats, err := l.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Completed: 3, Failed: 1, TotalBytes: 4096}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate(t *testing.T) {
	l, _ := newPostgresWithMock(t)

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	require.NoError(t, l.Migrate(context.Background()))
	assert.Equal(t, "migrations", gotDir)

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	err := l.Migrate(context.Background())
	var ledgerErr *Error
	require.True(t, errors.As(err, &ledgerErr))
	assert.Equal(t, "migrate", ledgerErr.Op)
}

func TestEmbeddedMigrations(t *testing.T) {
	data, err := fs.ReadFile(migrations, "migrations/00001_create_transfer_records.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- +goose Up")
	assert.Contains(t, string(data), "transfer_records")
}
