package zoom

import (
	"io"
	"strconv"
	"time"
)

// RecordingFile is one transferable artifact within a meeting recording
type RecordingFile struct {
	ID             string     `json:"id"`
	MeetingID      string     `json:"meeting_id"`
	RecordingStart time.Time  `json:"recording_start"`
	RecordingEnd   time.Time  `json:"recording_end"`
	FileType       string     `json:"file_type"`
	FileExtension  string     `json:"file_extension,omitempty"`
	FileSize       int64      `json:"file_size"`
	DownloadURL    string     `json:"download_url"`
	PlayURL        string     `json:"play_url,omitempty"`
	Status         string     `json:"status"`
	RecordingType  string     `json:"recording_type,omitempty"`
	DeletedTime    *time.Time `json:"deleted_time,omitempty"`
}

// Recording represents a meeting recording with all associated files
type Recording struct {
	UUID           string          `json:"uuid"`
	ID             int64           `json:"id"`
	AccountID      string          `json:"account_id"`
	HostID         string          `json:"host_id"`
	HostEmail      string          `json:"host_email,omitempty"`
	Topic          string          `json:"topic"`
	Type           int             `json:"type"`
	StartTime      time.Time       `json:"start_time"`
	Duration       int             `json:"duration"`
	TotalSize      int64           `json:"total_size"`
	RecordingCount int             `json:"recording_count"`
	RecordingFiles []RecordingFile `json:"recording_files"`
}

// MeetingRecordings is the per-meeting listing including the download token
type MeetingRecordings struct {
	Recording
	DownloadAccessToken string `json:"download_access_token,omitempty"`
}

// ListRecordingsResponse represents one page of /users/{id}/recordings
type ListRecordingsResponse struct {
	From          string      `json:"from"`
	To            string      `json:"to"`
	PageCount     int         `json:"page_count"`
	PageSize      int         `json:"page_size"`
	TotalRecords  int         `json:"total_records"`
	NextPageToken string      `json:"next_page_token,omitempty"`
	Meetings      []Recording `json:"meetings"`
}

// User is the subset of the Zoom user object this client reads
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name,omitempty"`
	Status      string `json:"status,omitempty"`
}

// ListUsersResponse represents one page of /users
type ListUsersResponse struct {
	PageSize      int    `json:"page_size"`
	TotalRecords  int    `json:"total_records"`
	NextPageToken string `json:"next_page_token,omitempty"`
	Users         []User `json:"users"`
}

// Identity is a resolved provider-side user
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func (u User) identity() *Identity {
	name := u.DisplayName
	if name == "" {
		name = u.FirstName
		if u.LastName != "" {
			if name != "" {
				name += " "
			}
			name += u.LastName
		}
	}
	return &Identity{ID: u.ID, Email: u.Email, DisplayName: name}
}

// UnknownHostEmail is reported when a host's email could not be looked up
const UnknownHostEmail = "unknown"

// RecordingIndexEntry is one meeting in a recording listing
type RecordingIndexEntry struct {
	MeetingID       string    `json:"meeting_id"`
	UUID            string    `json:"uuid"`
	Topic           string    `json:"topic"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	TotalSizeBytes  int64     `json:"total_size_bytes"`
	FileCount       int       `json:"file_count"`
	HostID          string    `json:"host_id"`
	HostEmail       string    `json:"host_email"`
}

func (r Recording) indexEntry() RecordingIndexEntry {
	count := r.RecordingCount
	if count == 0 {
		count = len(r.RecordingFiles)
	}
	return RecordingIndexEntry{
		MeetingID:       strconv.FormatInt(r.ID, 10),
		UUID:            r.UUID,
		Topic:           r.Topic,
		StartTime:       r.StartTime,
		DurationMinutes: r.Duration,
		TotalSizeBytes:  r.TotalSize,
		FileCount:       count,
		HostID:          r.HostID,
		HostEmail:       r.HostEmail,
	}
}

// Download is an open recording file stream with its expected length
type Download struct {
	Body io.ReadCloser
	Size int64
}
