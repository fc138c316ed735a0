package zoom

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrIdentityNotFound is returned when an explicit identifier matches no user.
	// Resolution never falls back to the caller's own identity.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrAmbiguousIdentity is returned when an identifier matches more than one user
	ErrAmbiguousIdentity = errors.New("identity matches more than one user")

	// ErrNoRecordingToken is returned when a meeting listing carries no download token
	ErrNoRecordingToken = errors.New("no recording download token")
)

// DownloadError reports a non-2xx response for a recording file download
type DownloadError struct {
	FileID     string
	StatusCode int
	Status     string
}

func (e *DownloadError) Error() string {
	if e.FileID != "" {
		return fmt.Sprintf("download of file %s failed with status %d", e.FileID, e.StatusCode)
	}
	return fmt.Sprintf("download failed with status %d", e.StatusCode)
}

// DeleteErrorKind is the closed set of recording deletion failures
type DeleteErrorKind int

const (
	DeleteUnknown DeleteErrorKind = iota
	DeleteNotPermitted
	DeleteNotFound
	DeleteMeetingIncomplete
	DeleteRateLimited
)

func (k DeleteErrorKind) String() string {
	switch k {
	case DeleteNotPermitted:
		return "not_permitted"
	case DeleteNotFound:
		return "not_found"
	case DeleteMeetingIncomplete:
		return "meeting_incomplete"
	case DeleteRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// DeleteError is returned by DeleteRecordingFile
type DeleteError struct {
	Kind      DeleteErrorKind
	MeetingID string
	FileID    string
	Err       error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete recording file %s of meeting %s: %s: %v", e.FileID, e.MeetingID, e.Kind, e.Err)
}

func (e *DeleteError) Unwrap() error {
	return e.Err
}

// Zoom error codes observed on recording deletion
const (
	codeNoPermission      = 200
	codeInvalidToken      = 124
	codeUserNotFound      = 1001
	codeRecordingNotFound = 3301
	codeMeetingInProgress = 3303
)

// classifyDeleteError maps an API failure onto the deletion taxonomy
func classifyDeleteError(err error) DeleteErrorKind {
	status, code := 0, 0

	var apiErr *APIError
	var httpErr *HTTPError
	switch {
	case errors.As(err, &apiErr):
		status, code = apiErr.Status, apiErr.Code
	case errors.As(err, &httpErr):
		status = httpErr.StatusCode
	default:
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return DeleteNotPermitted
		}
		return DeleteUnknown
	}

	switch {
	case status == http.StatusTooManyRequests:
		return DeleteRateLimited
	case code == codeMeetingInProgress:
		return DeleteMeetingIncomplete
	case status == http.StatusNotFound, code == codeRecordingNotFound, code == codeUserNotFound:
		return DeleteNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		code == codeNoPermission, code == codeInvalidToken:
		return DeleteNotPermitted
	default:
		return DeleteUnknown
	}
}
