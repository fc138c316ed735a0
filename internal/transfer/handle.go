package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCancelled is the error carried by a handle that ended in StateCancelled
var ErrCancelled = errors.New("transfer cancelled")

// State represents where a transfer is in its lifecycle
type State int

const (
	StatePending State = iota
	StateTransferring
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateTransferring:
		return "transferring"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// MarshalText renders the state by name in JSON output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name
func (s *State) UnmarshalText(text []byte) error {
	for candidate := StatePending; candidate <= StateCancelled; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown transfer state %q", text)
}

// Snapshot is a point-in-time copy of a handle
type Snapshot struct {
	ID               string    `json:"id"`
	FileID           string    `json:"file_id"`
	MeetingID        string    `json:"meeting_id"`
	FileType         string    `json:"file_type"`
	DestinationName  string    `json:"destination_name"`
	State            State     `json:"state"`
	Percent          int       `json:"percent"`
	BytesTransferred int64     `json:"bytes_transferred"`
	SizeBytes        int64     `json:"size_bytes"`
	DestinationRef   string    `json:"destination_ref,omitempty"`
	Err              error     `json:"-"`
	Error            string    `json:"error,omitempty"`
	Skipped          bool      `json:"skipped"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	FinishedAt       time.Time `json:"finished_at,omitempty"`
}

// Handle tracks one recording file transfer. All fields are guarded by mutex;
// callers observe it through Snapshot, Done and Wait.
type Handle struct {
	id              string
	fileID          string
	meetingID       string
	fileType        string
	destinationName string
	sizeBytes       int64

	mutex           sync.Mutex
	state           State
	percent         int
	bytes           int64
	destinationRef  string
	err             error
	skipped         bool
	committed       bool
	cancelRequested bool
	startedAt       time.Time
	finishedAt      time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func newHandle(id, meetingID, fileID, fileType, destinationName string, size int64) *Handle {
	return &Handle{
		id:              id,
		fileID:          fileID,
		meetingID:       meetingID,
		fileType:        fileType,
		destinationName: destinationName,
		sizeBytes:       size,
		state:           StatePending,
		cancel:          func() {},
		done:            make(chan struct{}),
	}
}

// ID returns the handle identifier
func (h *Handle) ID() string {
	return h.id
}

// FileID returns the provider file id being transferred
func (h *Handle) FileID() string {
	return h.fileID
}

// DestinationName returns the object name in the store
func (h *Handle) DestinationName() string {
	return h.destinationName
}

// Snapshot returns a copy of the current handle state
func (h *Handle) Snapshot() Snapshot {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.snapshotLocked()
}

func (h *Handle) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:               h.id,
		FileID:           h.fileID,
		MeetingID:        h.meetingID,
		FileType:         h.fileType,
		DestinationName:  h.destinationName,
		State:            h.state,
		Percent:          h.percent,
		BytesTransferred: h.bytes,
		SizeBytes:        h.sizeBytes,
		DestinationRef:   h.destinationRef,
		Err:              h.err,
		Skipped:          h.skipped,
		StartedAt:        h.startedAt,
		FinishedAt:       h.finishedAt,
	}
	if h.err != nil {
		snap.Error = h.err.Error()
	}
	return snap
}

// Done is closed once the handle reaches a terminal state
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle is terminal or ctx is done
func (h *Handle) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-h.done:
		return h.Snapshot(), nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

// setCancel installs the transfer's cancel func. A cancel requested before
// this point, such as during the ledger lookup, takes effect immediately.
func (h *Handle) setCancel(cancel context.CancelFunc) {
	h.mutex.Lock()
	h.cancel = cancel
	requested := h.cancelRequested
	h.mutex.Unlock()

	if requested {
		cancel()
	}
}

// begin moves a pending handle to transferring
func (h *Handle) begin(now time.Time) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.state != StatePending {
		return false
	}
	h.state = StateTransferring
	h.startedAt = now
	return true
}

// progress records upload progress. Percent stays below 100 until resolve
// and never decreases; it returns true when anything visible changed.
func (h *Handle) progress(percent int, bytes int64) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.state.Terminal() {
		return false
	}
	if percent > 99 {
		percent = 99
	}
	changed := false
	if percent > h.percent {
		h.percent = percent
		changed = true
	}
	if bytes > h.bytes {
		h.bytes = bytes
	}
	return changed
}

// commit marks the upload acknowledged; cancellation is ignored from here on
func (h *Handle) commit(ref string, bytes int64) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.committed = true
	h.destinationRef = ref
	if bytes > h.bytes {
		h.bytes = bytes
	}
}

// requestCancel records a cancel request and cancels the handle context.
// It returns false for terminal or committed handles.
func (h *Handle) requestCancel() bool {
	h.mutex.Lock()
	if h.state.Terminal() || h.committed {
		h.mutex.Unlock()
		return false
	}
	h.cancelRequested = true
	cancel := h.cancel
	h.mutex.Unlock()

	cancel()
	return true
}

func (h *Handle) wasCancelRequested() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.cancelRequested
}

// resolve moves the handle to a terminal state exactly once
func (h *Handle) resolve(state State, err error, now time.Time) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.state.Terminal() {
		return false
	}
	h.state = state
	h.err = err
	h.finishedAt = now
	if state == StateCompleted {
		h.percent = 100
	}
	close(h.done)
	return true
}

// skip resolves a dedup hit against an existing completed record
func (h *Handle) skip(ref string, now time.Time) bool {
	h.mutex.Lock()
	h.skipped = true
	h.destinationRef = ref
	h.mutex.Unlock()
	return h.resolve(StateCompleted, nil, now)
}
