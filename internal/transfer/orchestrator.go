// Package transfer moves recording files from the provider into the object store,
// deduplicating against the ledger and tracking every file as a cancellable handle.
package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/curtbushko/zoom-to-vault/internal/ledger"
	"github.com/curtbushko/zoom-to-vault/internal/logging"
	"github.com/curtbushko/zoom-to-vault/internal/storage"
	"github.com/curtbushko/zoom-to-vault/internal/zoom"
)

// DefaultConcurrency bounds simultaneous transfers when Config.Concurrency is unset
const DefaultConcurrency = 8

// DefaultRetain bounds how many finished handles stay visible through Handles
const DefaultRetain = 500

// Downloader opens a recording file for streaming
type Downloader interface {
	DownloadFile(ctx context.Context, file zoom.RecordingFile, downloadToken string) (*zoom.Download, error)
}

// NameFunc computes the destination object name for a file
type NameFunc func(meetingID string, file zoom.RecordingFile) string

// ProgressUpdate is emitted on every state change and percent increase
type ProgressUpdate struct {
	HandleID string
	FileID   string
	State    State
	Percent  int
	Bytes    int64
	Err      error
}

// ProgressCallback receives progress updates. It is called from transfer
// goroutines and must be safe for concurrent use.
type ProgressCallback func(update ProgressUpdate)

// Observer is notified when transfers start and finish
type Observer interface {
	TransferStarted(snapshot Snapshot)
	TransferFinished(snapshot Snapshot)
}

// Config holds orchestrator settings. Retain caps the finished handles kept
// for Handles and Lookup; the oldest are dropped first. Active handles are never dropped.
type Config struct {
	Concurrency int
	Retain      int
	Observer    Observer
	OnProgress  ProgressCallback
	Clock       func() time.Time
	Logger      logging.Logger
}

// Option customizes a single TransferOne or TransferMany call
type Option func(*transferOptions)

type transferOptions struct {
	userEmail       string
	userDisplayName string
}

// WithOwner attaches the recording owner to the ledger records written
func WithOwner(email, displayName string) Option {
	return func(o *transferOptions) {
		o.userEmail = email
		o.userDisplayName = displayName
	}
}

// Orchestrator runs transfers with bounded concurrency
type Orchestrator struct {
	downloader Downloader
	store      storage.ObjectStore
	ledger     ledger.Ledger
	config     Config
	logger     logging.Logger
	semaphore  chan struct{}

	mutex   sync.RWMutex
	handles map[string]*Handle
	order   []string
}

// New creates an orchestrator over the given provider, store and ledger
func New(downloader Downloader, store storage.ObjectStore, l ledger.Ledger, cfg Config) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultRetain
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}

	return &Orchestrator{
		downloader: downloader,
		store:      store,
		ledger:     l,
		config:     cfg,
		logger:     logger,
		semaphore:  make(chan struct{}, cfg.Concurrency),
		handles:    make(map[string]*Handle),
	}
}

// TransferOne starts transferring file and returns its handle. The ledger is
// consulted before anything is downloaded; errors surface as handle state.
func (o *Orchestrator) TransferOne(ctx context.Context, meetingID string, file zoom.RecordingFile, token string, nameFn NameFunc, opts ...Option) *Handle {
	options := applyOptions(opts)
	h := o.track(meetingID, file, nameFn)

	existing, err := o.ledger.FindCompleted(ctx, file.ID)
	if err != nil {
		o.finish(h, StateFailed, err)
		return h
	}
	if existing != nil {
		o.skipped(h, existing)
		return h
	}

	o.start(ctx, h, meetingID, file, token, options)
	return h
}

// TransferMany starts every file with one bulk ledger lookup and returns
// immediately with handles in input order.
func (o *Orchestrator) TransferMany(ctx context.Context, meetingID string, files []zoom.RecordingFile, token string, nameFn NameFunc, opts ...Option) []*Handle {
	options := applyOptions(opts)

	handles := make([]*Handle, len(files))
	ids := make([]string, len(files))
	for i, file := range files {
		handles[i] = o.track(meetingID, file, nameFn)
		ids[i] = file.ID
	}

	existing, err := o.ledger.FindCompletedBulk(ctx, ids)
	if err != nil {
		for _, h := range handles {
			o.finish(h, StateFailed, err)
		}
		return handles
	}

	for i, file := range files {
		if rec, ok := existing[file.ID]; ok && rec != nil {
			o.skipped(handles[i], rec)
			continue
		}
		o.start(ctx, handles[i], meetingID, file, token, options)
	}
	return handles
}

// Cancel requests cancellation of h. It returns false when h is already
// terminal or its upload has been acknowledged.
func (o *Orchestrator) Cancel(h *Handle) bool {
	if h == nil {
		return false
	}
	return h.requestCancel()
}

// CancelAll requests cancellation of every handle and returns how many accepted it
func (o *Orchestrator) CancelAll(handles []*Handle) int {
	cancelled := 0
	for _, h := range handles {
		if o.Cancel(h) {
			cancelled++
		}
	}
	return cancelled
}

// Handles returns snapshots of every tracked handle in creation order
func (o *Orchestrator) Handles() []Snapshot {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	snapshots := make([]Snapshot, 0, len(o.order))
	for _, id := range o.order {
		snapshots = append(snapshots, o.handles[id].Snapshot())
	}
	return snapshots
}

// Lookup finds a tracked handle by id
func (o *Orchestrator) Lookup(id string) (*Handle, bool) {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	h, ok := o.handles[id]
	return h, ok
}

// Dismiss stops tracking a terminal handle
func (o *Orchestrator) Dismiss(id string) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	h, ok := o.handles[id]
	if !ok {
		return fmt.Errorf("transfer not found: %s", id)
	}
	if state := h.Snapshot().State; !state.Terminal() {
		return fmt.Errorf("transfer %s is still %s", id, state)
	}

	delete(o.handles, id)
	for i, existing := range o.order {
		if existing == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return nil
}

func applyOptions(opts []Option) transferOptions {
	var options transferOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func (o *Orchestrator) track(meetingID string, file zoom.RecordingFile, nameFn NameFunc) *Handle {
	h := newHandle(uuid.NewString(), meetingID, file.ID, file.FileType, nameFn(meetingID, file), file.FileSize)

	o.mutex.Lock()
	o.pruneLocked()
	o.handles[h.id] = h
	o.order = append(o.order, h.id)
	o.mutex.Unlock()

	o.emit(h)
	return h
}

// pruneLocked drops the oldest finished handles beyond the retention limit,
// leaving room for the handle about to be tracked. o.mutex must be held.
func (o *Orchestrator) pruneLocked() {
	finished := 0
	for _, id := range o.order {
		if o.handles[id].Snapshot().State.Terminal() {
			finished++
		}
	}
	excess := finished - o.config.Retain + 1
	if excess <= 0 {
		return
	}

	kept := o.order[:0]
	for _, id := range o.order {
		if excess > 0 && o.handles[id].Snapshot().State.Terminal() {
			delete(o.handles, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	o.order = kept
}

func (o *Orchestrator) start(parent context.Context, h *Handle, meetingID string, file zoom.RecordingFile, token string, options transferOptions) {
	ctx, cancel := context.WithCancel(parent)
	h.setCancel(cancel)
	go func() {
		defer cancel()
		o.run(ctx, h, meetingID, file, token, options)
	}()
}

func (o *Orchestrator) run(ctx context.Context, h *Handle, meetingID string, file zoom.RecordingFile, token string, options transferOptions) {
	select {
	case o.semaphore <- struct{}{}:
		defer func() { <-o.semaphore }()
	case <-ctx.Done():
		o.finish(h, StateCancelled, ErrCancelled)
		return
	}
	if ctx.Err() != nil || h.wasCancelRequested() {
		o.finish(h, StateCancelled, ErrCancelled)
		return
	}

	download, err := o.downloader.DownloadFile(ctx, file, token)
	if err != nil {
		o.failed(ctx, h, meetingID, file, options, fmt.Errorf("meeting %s file %s: %w", meetingID, file.ID, err))
		return
	}
	defer download.Body.Close()

	if h.begin(o.config.Clock()) {
		o.emit(h)
		if o.config.Observer != nil {
			o.config.Observer.TransferStarted(h.Snapshot())
		}
	}

	counter := &countingReader{reader: download.Body}
	contentType := storage.ContentTypeFor(file.FileType, file.FileExtension)
	ref, err := o.store.Upload(ctx, counter, download.Size, h.destinationName, contentType, func(percent int) {
		if h.progress(percent, counter.Count()) {
			o.emit(h)
		}
	})
	if err != nil {
		o.failed(ctx, h, meetingID, file, options, fmt.Errorf("meeting %s file %s: %w", meetingID, file.ID, err))
		return
	}

	h.commit(ref, counter.Count())

	record := ledger.Record{
		FileID:          file.ID,
		MeetingID:       meetingID,
		DestinationName: h.destinationName,
		SizeBytes:       counter.Count(),
		Status:          ledger.StatusCompleted,
		DestinationRef:  ref,
		CompletedAt:     o.config.Clock(),
		FileType:        file.FileType,
		UserEmail:       options.userEmail,
		UserDisplayName: options.userDisplayName,
	}
	if err := o.ledger.RecordOutcome(context.WithoutCancel(ctx), record); err != nil {
		o.logger.ErrorWithContext(ctx, "Uploaded %s to %s but could not record it: %v", file.ID, ref, err)
		o.finish(h, StateFailed, err)
		return
	}

	o.finish(h, StateCompleted, nil)
}

// failed resolves h after a download or upload error, as cancelled when the
// transfer context was cancelled and otherwise as failed with a ledger record.
func (o *Orchestrator) failed(ctx context.Context, h *Handle, meetingID string, file zoom.RecordingFile, options transferOptions, err error) {
	if h.wasCancelRequested() || ctx.Err() != nil {
		o.finish(h, StateCancelled, ErrCancelled)
		return
	}

	record := ledger.Record{
		FileID:          file.ID,
		MeetingID:       meetingID,
		DestinationName: h.destinationName,
		SizeBytes:       file.FileSize,
		Status:          ledger.StatusFailed,
		Error:           err.Error(),
		CompletedAt:     o.config.Clock(),
		FileType:        file.FileType,
		UserEmail:       options.userEmail,
		UserDisplayName: options.userDisplayName,
	}
	if ledgerErr := o.ledger.RecordOutcome(context.WithoutCancel(ctx), record); ledgerErr != nil {
		o.logger.WarnWithContext(ctx, "Failed to record failure of %s: %v", file.ID, ledgerErr)
	}

	o.finish(h, StateFailed, err)
}

func (o *Orchestrator) skipped(h *Handle, existing *ledger.Record) {
	if !h.skip(existing.DestinationRef, o.config.Clock()) {
		return
	}
	o.logger.Debug("Skipping %s, already stored at %s", h.fileID, existing.DestinationRef)
	o.emit(h)
	if o.config.Observer != nil {
		o.config.Observer.TransferFinished(h.Snapshot())
	}
}

func (o *Orchestrator) finish(h *Handle, state State, err error) {
	if !h.resolve(state, err, o.config.Clock()) {
		return
	}

	snap := h.Snapshot()
	switch state {
	case StateCompleted:
		o.logger.LogPerformance(logging.PerformanceMetrics{
			Operation:      "transfer",
			Duration:       snap.FinishedAt.Sub(snap.StartedAt),
			BytesProcessed: snap.BytesTransferred,
			Success:        true,
		})
	case StateFailed:
		o.logger.Error("Transfer of %s failed: %v", h.fileID, err)
	case StateCancelled:
		o.logger.Info("Transfer of %s cancelled", h.fileID)
	}

	o.emit(h)
	if o.config.Observer != nil {
		o.config.Observer.TransferFinished(snap)
	}
}

func (o *Orchestrator) emit(h *Handle) {
	if o.config.OnProgress == nil {
		return
	}
	snap := h.Snapshot()
	o.config.OnProgress(ProgressUpdate{
		HandleID: snap.ID,
		FileID:   snap.FileID,
		State:    snap.State,
		Percent:  snap.Percent,
		Bytes:    snap.BytesTransferred,
		Err:      snap.Err,
	})
}

// countingReader counts bytes read from the download body
type countingReader struct {
	reader io.Reader
	count  atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.count.Add(int64(n))
	return n, err
}

// Count returns the number of bytes read so far
func (c *countingReader) Count() int64 {
	return c.count.Load()
}
