package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var csvHeader = []string{
	"file_id", "meeting_id", "status", "user", "file_type",
	"destination_name", "size_bytes", "completed_at", "destination_ref", "error",
}

// WriteCSV writes records as CSV with a header row
func WriteCSV(w io.Writer, records []Record) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.FileID,
			rec.MeetingID,
			string(rec.Status),
			rec.UserEmail,
			rec.FileType,
			rec.DestinationName,
			strconv.FormatInt(rec.SizeBytes, 10),
			rec.CompletedAt.UTC().Format(time.RFC3339),
			rec.DestinationRef,
			rec.Error,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write record %s: %w", rec.FileID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// ExportCSV writes the records matching opts to path, creating parent directories
func ExportCSV(ctx context.Context, r Reader, opts ListOptions, path string) (int, error) {
	records, err := r.List(ctx, opts)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := WriteCSV(file, records); err != nil {
		return 0, err
	}
	return len(records), file.Close()
}
