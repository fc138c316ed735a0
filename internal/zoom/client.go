package zoom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/curtbushko/zoom-to-vault/internal/email"
)

// RecordingProvider defines the recording provider operations used by the pipeline
type RecordingProvider interface {
	ResolveIdentity(ctx context.Context, rawIdentifier string) (*Identity, error)
	ListRecordings(ctx context.Context, identity *Identity, from, to *time.Time) ([]RecordingIndexEntry, error)
	ListRecordingFiles(ctx context.Context, meetingID string) (string, []RecordingFile, error)
	DownloadFile(ctx context.Context, file RecordingFile, downloadToken string) (*Download, error)
	DeleteRecordingFile(ctx context.Context, meetingID, fileID string, mode DeleteMode) error
}

// DeleteMode selects between moving a file to trash and deleting it permanently
type DeleteMode string

const (
	DeleteModeTrash  DeleteMode = "trash"
	DeleteModeDelete DeleteMode = "delete"
)

// Client implements RecordingProvider on top of the Zoom REST API
type Client struct {
	api            *APIClient
	downloadClient *http.Client
	location       *time.Location
	now            func() time.Time
	pageSize       int
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithLocation sets the provider-local timezone used for "today"
func WithLocation(loc *time.Location) ClientOption {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithNow overrides the clock used for date defaults
func WithNow(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// WithDownloadClient sets the HTTP client used for file downloads.
// It should not carry a whole-request timeout since recordings can be large.
func WithDownloadClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.downloadClient = client
	}
}

// WithPageSize sets the page size used for listings (max 300)
func WithPageSize(size int) ClientOption {
	return func(c *Client) {
		if size > 0 && size <= 300 {
			c.pageSize = size
		}
	}
}

// NewClient creates a new recording provider client
func NewClient(api *APIClient, opts ...ClientOption) *Client {
	c := &Client{
		api:            api,
		downloadClient: &http.Client{},
		location:       time.UTC,
		now:            time.Now,
		pageSize:       300,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveIdentity returns the caller's own identity when rawIdentifier is empty.
// Otherwise it must match exactly one user by case-insensitive email.
func (c *Client) ResolveIdentity(ctx context.Context, rawIdentifier string) (*Identity, error) {
	raw := strings.TrimSpace(rawIdentifier)
	if raw == "" {
		var me User
		if err := c.api.Do(ctx, http.MethodGet, "/users/me", nil, &me); err != nil {
			return nil, fmt.Errorf("failed to get current user: %w", err)
		}
		return me.identity(), nil
	}

	if !email.IsValidEmail(raw) {
		return nil, fmt.Errorf("%w: %q is not an email address", ErrIdentityNotFound, raw)
	}

	var matches []User
	nextPageToken := ""
	for {
		query := url.Values{}
		query.Set("page_size", strconv.Itoa(c.pageSize))
		if nextPageToken != "" {
			query.Set("next_page_token", nextPageToken)
		}

		var page ListUsersResponse
		if err := c.api.Do(ctx, http.MethodGet, "/users", query, &page); err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		for _, u := range page.Users {
			if email.Equal(u.Email, raw) {
				matches = append(matches, u)
			}
		}

		if page.NextPageToken == "" {
			break
		}
		nextPageToken = page.NextPageToken
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, raw)
	case 1:
		return matches[0].identity(), nil
	default:
		return nil, fmt.Errorf("%w: %s (%d matches)", ErrAmbiguousIdentity, raw, len(matches))
	}
}

// GetUser retrieves a single user by id or email
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	if err := c.api.Do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &u); err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return &u, nil
}

// ListRecordings returns every meeting recorded by identity between from and to.
// With neither bound set, both default to today in the provider timezone.
// Host emails are looked up once per host; lookup failures yield UnknownHostEmail.
func (c *Client) ListRecordings(ctx context.Context, identity *Identity, from, to *time.Time) ([]RecordingIndexEntry, error) {
	userID := "me"
	if identity != nil && identity.ID != "" {
		userID = identity.ID
	}

	if from == nil && to == nil {
		today := c.now().In(c.location)
		from, to = &today, &today
	}

	var recordings []Recording
	nextPageToken := ""
	for {
		query := url.Values{}
		query.Set("page_size", strconv.Itoa(c.pageSize))
		if from != nil {
			query.Set("from", from.In(c.location).Format("2006-01-02"))
		}
		if to != nil {
			query.Set("to", to.In(c.location).Format("2006-01-02"))
		}
		if nextPageToken != "" {
			query.Set("next_page_token", nextPageToken)
		}

		var page ListRecordingsResponse
		path := "/users/" + url.PathEscape(userID) + "/recordings"
		if err := c.api.Do(ctx, http.MethodGet, path, query, &page); err != nil {
			return nil, fmt.Errorf("failed to list recordings (page token: %q): %w", nextPageToken, err)
		}
		recordings = append(recordings, page.Meetings...)

		if page.NextPageToken == "" {
			break
		}
		nextPageToken = page.NextPageToken
	}

	hostEmails := make(map[string]string)
	if identity != nil && identity.ID != "" && identity.Email != "" {
		hostEmails[identity.ID] = identity.Email
	}

	entries := make([]RecordingIndexEntry, 0, len(recordings))
	for _, rec := range recordings {
		entry := rec.indexEntry()
		if entry.HostEmail == "" && entry.HostID != "" {
			hostEmail, ok := hostEmails[entry.HostID]
			if !ok {
				hostEmail = c.lookupHostEmail(ctx, entry.HostID)
				hostEmails[entry.HostID] = hostEmail
			}
			entry.HostEmail = hostEmail
		}
		if entry.HostEmail == "" {
			entry.HostEmail = UnknownHostEmail
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (c *Client) lookupHostEmail(ctx context.Context, hostID string) string {
	u, err := c.GetUser(ctx, hostID)
	if err != nil || u.Email == "" {
		return UnknownHostEmail
	}
	return u.Email
}

// ListRecordingFiles returns the meeting's download token and its recording files.
// A meeting without a download token yields ErrNoRecordingToken.
func (c *Client) ListRecordingFiles(ctx context.Context, meetingID string) (string, []RecordingFile, error) {
	query := url.Values{}
	query.Set("include_fields", "download_access_token")

	var result MeetingRecordings
	path := "/meetings/" + escapeMeetingID(meetingID) + "/recordings"
	if err := c.api.Do(ctx, http.MethodGet, path, query, &result); err != nil {
		return "", nil, fmt.Errorf("failed to get recordings for meeting %s: %w", meetingID, err)
	}

	if result.DownloadAccessToken == "" {
		return "", nil, fmt.Errorf("meeting %s: %w", meetingID, ErrNoRecordingToken)
	}

	return result.DownloadAccessToken, result.RecordingFiles, nil
}

// DownloadFile opens the recording file using the meeting download token.
// Non-2xx responses return a DownloadError and are never retried here.
func (c *Client) DownloadFile(ctx context.Context, file RecordingFile, downloadToken string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.DownloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request for file %s: %w", file.ID, err)
	}
	req.Header.Set("Authorization", "Bearer "+downloadToken)

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request for file %s failed: %w", file.ID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &DownloadError{FileID: file.ID, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	size := resp.ContentLength
	if size <= 0 {
		size = file.FileSize
	}
	return &Download{Body: resp.Body, Size: size}, nil
}

// DeleteRecordingFile trashes or permanently deletes one recording file.
// Failures are returned as *DeleteError with a Kind callers can branch on.
func (c *Client) DeleteRecordingFile(ctx context.Context, meetingID, fileID string, mode DeleteMode) error {
	if mode == "" {
		mode = DeleteModeTrash
	}
	if mode != DeleteModeTrash && mode != DeleteModeDelete {
		return fmt.Errorf("unsupported delete mode %q", mode)
	}

	query := url.Values{}
	query.Set("action", string(mode))

	path := "/meetings/" + escapeMeetingID(meetingID) + "/recordings/" + url.PathEscape(fileID)
	if err := c.api.Do(ctx, http.MethodDelete, path, query, nil); err != nil {
		return &DeleteError{
			Kind:      classifyDeleteError(err),
			MeetingID: meetingID,
			FileID:    fileID,
			Err:       err,
		}
	}
	return nil
}

// escapeMeetingID applies Zoom's double-encoding rule for UUIDs that begin
// with "/" or contain "//"
func escapeMeetingID(meetingID string) string {
	if strings.HasPrefix(meetingID, "/") || strings.Contains(meetingID, "//") {
		return url.PathEscape(url.PathEscape(meetingID))
	}
	return url.PathEscape(meetingID)
}
