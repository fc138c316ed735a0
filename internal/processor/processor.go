// Package processor syncs every recording of a set of users into the vault
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/curtbushko/zoom-to-vault/internal/config"
	"github.com/curtbushko/zoom-to-vault/internal/email"
	"github.com/curtbushko/zoom-to-vault/internal/filename"
	"github.com/curtbushko/zoom-to-vault/internal/logging"
	"github.com/curtbushko/zoom-to-vault/internal/transfer"
	"github.com/curtbushko/zoom-to-vault/internal/zoom"
)

// Transferrer starts transfers for the files of one meeting
type Transferrer interface {
	TransferMany(ctx context.Context, meetingID string, files []zoom.RecordingFile, token string, nameFn transfer.NameFunc, opts ...transfer.Option) []*transfer.Handle
}

// Config holds sync settings
type Config struct {
	From            *time.Time
	To              *time.Time
	FileTypes       []string
	Limit           int             // maximum meetings per user, 0 for all
	DryRun          bool            // list what would transfer without transferring
	DeleteMode      zoom.DeleteMode // when set, delete provider files once they are in the vault
	ContinueOnError bool
	OnUserDone      func(result *UserResult)
}

// UserResult is the outcome of syncing one user
type UserResult struct {
	Identifier  string           `json:"identifier"`
	Email       string           `json:"email"`
	DisplayName string           `json:"display_name"`
	Meetings    int              `json:"meetings"`
	Planned     int              `json:"planned"`
	Transfers   transfer.Summary `json:"transfers"`
	Deleted     int              `json:"deleted"`
	Errors      []error          `json:"-"`
	Duration    time.Duration    `json:"duration"`
}

// Succeeded reports whether the user synced without any error
func (r *UserResult) Succeeded() bool {
	return len(r.Errors) == 0 && r.Transfers.Succeeded()
}

// Result aggregates a multi-user sync
type Result struct {
	TotalUsers     int              `json:"total_users"`
	ProcessedUsers int              `json:"processed_users"`
	FailedUsers    int              `json:"failed_users"`
	Transfers      transfer.Summary `json:"transfers"`
	Deleted        int              `json:"deleted"`
	Duration       time.Duration    `json:"duration"`
	Users          []*UserResult    `json:"users"`
}

// Processor resolves users, lists their recordings and hands the files to the orchestrator
type Processor struct {
	provider  zoom.RecordingProvider
	transfers Transferrer
	namer     *filename.Namer
	config    Config
	logger    logging.Logger
}

// New creates a processor
func New(provider zoom.RecordingProvider, transfers Transferrer, namer *filename.Namer, cfg Config) *Processor {
	return &Processor{
		provider:  provider,
		transfers: transfers,
		namer:     namer,
		config:    cfg,
		logger:    logging.GetDefaultLogger(),
	}
}

type meetingBatch struct {
	entry   zoom.RecordingIndexEntry
	handles []*transfer.Handle
}

// SyncUser transfers every wanted file of identifier's recordings in the
// configured window. Per-meeting failures are collected, not returned.
func (p *Processor) SyncUser(ctx context.Context, identifier string) (*UserResult, error) {
	start := time.Now()
	result := &UserResult{Identifier: identifier}
	defer func() {
		result.Duration = time.Since(start)
		if p.config.OnUserDone != nil {
			p.config.OnUserDone(result)
		}
	}()

	identity, err := p.provider.ResolveIdentity(ctx, identifier)
	if err != nil {
		err = fmt.Errorf("resolve user %q: %w", identifier, err)
		result.Errors = append(result.Errors, err)
		return result, err
	}
	result.Email = identity.Email
	result.DisplayName = identity.DisplayName

	entries, err := p.provider.ListRecordings(ctx, identity, p.config.From, p.config.To)
	if err != nil {
		err = fmt.Errorf("list recordings for %s: %w", identity.Email, err)
		result.Errors = append(result.Errors, err)
		return result, err
	}
	if p.config.Limit > 0 && len(entries) > p.config.Limit {
		entries = entries[:p.config.Limit]
	}
	result.Meetings = len(entries)
	p.logger.InfoWithContext(ctx, "Found %d meetings for %s", len(entries), identity.Email)

	var batches []*meetingBatch
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err)
			break
		}

		token, files, err := p.provider.ListRecordingFiles(ctx, entry.MeetingID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("list files for meeting %s: %w", entry.MeetingID, err))
			p.logger.WarnWithContext(ctx, "Skipping meeting %s: %v", entry.MeetingID, err)
			continue
		}

		files = p.wanted(files)
		if len(files) == 0 {
			continue
		}
		result.Planned += len(files)

		meeting := filename.MeetingFromEntry(entry)
		if !email.IsValidEmail(meeting.HostEmail) {
			meeting.HostEmail = identity.Email
		}
		nameFn := p.namer.For(meeting)

		if p.config.DryRun {
			for _, file := range files {
				p.logger.InfoWithContext(ctx, "Would transfer %s (%d bytes) to %s", file.ID, file.FileSize, nameFn(entry.MeetingID, file))
			}
			continue
		}

		handles := p.transfers.TransferMany(ctx, entry.MeetingID, files, token, nameFn,
			transfer.WithOwner(identity.Email, identity.DisplayName))
		batches = append(batches, &meetingBatch{entry: entry, handles: handles})
	}

	for _, batch := range batches {
		summary := transfer.WaitAll(ctx, batch.handles)
		result.Transfers.Add(summary)
		if p.config.DeleteMode != "" {
			result.Deleted += p.deleteTransferred(ctx, batch, result)
		}
	}

	p.logger.LogUserAction("sync", identity.Email, map[string]interface{}{
		"meetings":  result.Meetings,
		"completed": result.Transfers.Completed,
		"skipped":   result.Transfers.Skipped,
		"failed":    result.Transfers.Failed,
		"cancelled": result.Transfers.Cancelled,
		"deleted":   result.Deleted,
	})
	return result, nil
}

// SyncAll syncs each identifier in turn. With ContinueOnError unset the first
// user-level error stops the run.
func (p *Processor) SyncAll(ctx context.Context, identifiers []string) (*Result, error) {
	start := time.Now()
	result := &Result{TotalUsers: len(identifiers)}
	defer func() {
		result.Duration = time.Since(start)
	}()

	for _, identifier := range identifiers {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		userResult, err := p.SyncUser(ctx, identifier)
		result.Users = append(result.Users, userResult)
		result.ProcessedUsers++
		result.Transfers.Add(userResult.Transfers)
		result.Deleted += userResult.Deleted
		if !userResult.Succeeded() {
			result.FailedUsers++
		}

		if err != nil {
			p.logger.ErrorWithContext(ctx, "Sync failed for %s: %v", identifier, err)
			if !p.config.ContinueOnError {
				return result, err
			}
		}
	}
	return result, nil
}

func (p *Processor) wanted(files []zoom.RecordingFile) []zoom.RecordingFile {
	var result []zoom.RecordingFile
	for _, file := range files {
		if file.DownloadURL == "" {
			continue
		}
		if file.Status != "" && file.Status != "completed" {
			continue
		}
		if !(config.TransferConfig{FileTypes: p.config.FileTypes}).WantsFileType(file.FileType) {
			continue
		}
		result = append(result, file)
	}
	return result
}

// deleteTransferred removes provider files whose handle ended completed,
// including dedup hits already in the vault.
func (p *Processor) deleteTransferred(ctx context.Context, batch *meetingBatch, result *UserResult) int {
	deleted := 0
	for _, h := range batch.handles {
		if h.Snapshot().State != transfer.StateCompleted {
			continue
		}
		err := p.provider.DeleteRecordingFile(ctx, batch.entry.MeetingID, h.FileID(), p.config.DeleteMode)
		if err != nil {
			var deleteErr *zoom.DeleteError
			if errors.As(err, &deleteErr) && deleteErr.Kind == zoom.DeleteNotFound {
				continue
			}
			result.Errors = append(result.Errors, err)
			p.logger.WarnWithContext(ctx, "Failed to delete %s from meeting %s: %v", h.FileID(), batch.entry.MeetingID, err)
			continue
		}
		deleted++
	}
	return deleted
}
