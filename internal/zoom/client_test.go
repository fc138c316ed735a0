package zoom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type staticCreds struct {
	gets        int32
	invalidates int32
	token       func(n int32) string
}

func (s *staticCreds) Get(ctx context.Context) (*Credential, error) {
	n := atomic.AddInt32(&s.gets, 1)
	token := "test-token"
	if s.token != nil {
		token = s.token(n)
	}
	return &Credential{AccessToken: token, TokenType: "bearer", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s *staticCreds) Invalidate() {
	atomic.AddInt32(&s.invalidates, 1)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) (*Client, *staticCreds) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	creds := &staticCreds{}
	api := NewAPIClient(server.Client(), creds, server.URL+"/v2")
	opts = append([]ClientOption{WithDownloadClient(server.Client())}, opts...)
	return NewClient(api, opts...), creds
}

func TestResolveIdentitySelf(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/users/me" {
			t.Errorf("Expected /v2/users/me, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("Expected bearer credential, got %s", r.Header.Get("Authorization"))
		}
		fmt.Fprint(w, `{"id":"u1","email":"me@example.com","first_name":"Ada","last_name":"Lovelace"}`)
	})

	identity, err := client.ResolveIdentity(context.Background(), "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if identity.ID != "u1" || identity.Email != "me@example.com" {
		t.Errorf("Unexpected identity: %+v", identity)
	}
	if identity.DisplayName != "Ada Lovelace" {
		t.Errorf("Expected display name 'Ada Lovelace', got %q", identity.DisplayName)
	}
}

func TestResolveIdentityByEmail(t *testing.T) {
	pages := map[string]string{
		"":   `{"next_page_token":"p2","users":[{"id":"a","email":"alice@example.com"},{"id":"b","email":"bob@example.com"}]}`,
		"p2": `{"next_page_token":"","users":[{"id":"c","email":"Carol@Example.com"},{"id":"d","email":"dup@example.com"},{"id":"e","email":"DUP@example.com"}]}`,
	}

	tests := []struct {
		name        string
		raw         string
		expectedID  string
		expectedErr error
	}{
		{name: "case-insensitive match on later page", raw: "carol@example.COM", expectedID: "c"},
		{name: "first page match", raw: "alice@example.com", expectedID: "a"},
		{name: "no match never falls back to self", raw: "nobody@example.com", expectedErr: ErrIdentityNotFound},
		{name: "ambiguous", raw: "dup@example.com", expectedErr: ErrAmbiguousIdentity},
		{name: "not an email", raw: "carol", expectedErr: ErrIdentityNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/v2/users/me" {
					t.Error("Explicit identifier must not resolve to self")
				}
				fmt.Fprint(w, pages[r.URL.Query().Get("next_page_token")])
			})

			identity, err := client.ResolveIdentity(context.Background(), tt.raw)
			if tt.expectedErr != nil {
				if !errors.Is(err, tt.expectedErr) {
					t.Errorf("Expected %v, got %v", tt.expectedErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if identity.ID != tt.expectedID {
				t.Errorf("Expected id %s, got %s", tt.expectedID, identity.ID)
			}
		})
	}
}

func TestListRecordingsPaginationAndHosts(t *testing.T) {
	var hostLookups int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/users/u1/recordings":
			if r.URL.Query().Get("from") != "2024-03-01" || r.URL.Query().Get("to") != "2024-03-01" {
				t.Errorf("Expected today's date bounds, got from=%s to=%s",
					r.URL.Query().Get("from"), r.URL.Query().Get("to"))
			}
			if r.URL.Query().Get("next_page_token") == "" {
				fmt.Fprint(w, `{"next_page_token":"n1","meetings":[
					{"uuid":"m1==","id":111,"host_id":"u1","topic":"One","duration":30,"total_size":100,"recording_count":2},
					{"uuid":"m2==","id":222,"host_id":"h2","topic":"Two","duration":10,"total_size":50,"recording_files":[{"id":"f"}]}]}`)
				return
			}
			fmt.Fprint(w, `{"meetings":[
				{"uuid":"m3==","id":333,"host_id":"h2","topic":"Three"},
				{"uuid":"m4==","id":444,"host_id":"h3","topic":"Four"}]}`)
		case r.URL.Path == "/v2/users/h2":
			atomic.AddInt32(&hostLookups, 1)
			fmt.Fprint(w, `{"id":"h2","email":"host2@example.com"}`)
		case r.URL.Path == "/v2/users/h3":
			atomic.AddInt32(&hostLookups, 1)
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"code":1001,"message":"User does not exist"}`)
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
	}, WithNow(func() time.Time { return time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC) }))

	identity := &Identity{ID: "u1", Email: "me@example.com"}
	entries, err := client.ListRecordings(context.Background(), identity, nil, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("Expected 4 entries across pages, got %d", len(entries))
	}

	expectedHosts := []string{"me@example.com", "host2@example.com", "host2@example.com", UnknownHostEmail}
	for i, entry := range entries {
		if entry.HostEmail != expectedHosts[i] {
			t.Errorf("Entry %d: expected host %s, got %s", i, expectedHosts[i], entry.HostEmail)
		}
	}
	if hostLookups != 2 {
		t.Errorf("Expected 2 host lookups (one per unknown host), got %d", hostLookups)
	}
	if entries[0].MeetingID != "111" || entries[0].FileCount != 2 {
		t.Errorf("Unexpected first entry: %+v", entries[0])
	}
	if entries[1].FileCount != 1 {
		t.Errorf("Expected file count from recording_files, got %d", entries[1].FileCount)
	}
}

func TestListRecordingsTodayUsesProviderTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("from"); got != "2024-02-29" {
			t.Errorf("Expected provider-local date 2024-02-29, got %s", got)
		}
		fmt.Fprint(w, `{"meetings":[]}`)
	},
		WithLocation(loc),
		WithNow(func() time.Time { return time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC) }),
	)

	if _, err := client.ListRecordings(context.Background(), nil, nil, nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestListRecordingFiles(t *testing.T) {
	t.Run("returns token and files", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("include_fields") != "download_access_token" {
				t.Errorf("Expected include_fields=download_access_token")
			}
			fmt.Fprint(w, `{"id":778899,"download_access_token":"dl-token","recording_files":[
				{"id":"f1","file_type":"MP4","file_size":2000000,"download_url":"https://zoom.us/rec/f1"},
				{"id":"f2","file_type":"M4A","file_size":500,"download_url":"https://zoom.us/rec/f2"}]}`)
		})

		token, files, err := client.ListRecordingFiles(context.Background(), "778899")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if token != "dl-token" {
			t.Errorf("Expected token dl-token, got %s", token)
		}
		if len(files) != 2 || files[0].FileSize != 2000000 {
			t.Errorf("Unexpected files: %+v", files)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"id":1,"recording_files":[{"id":"f1"}]}`)
		})

		_, _, err := client.ListRecordingFiles(context.Background(), "1")
		if !errors.Is(err, ErrNoRecordingToken) {
			t.Errorf("Expected ErrNoRecordingToken, got %v", err)
		}
	})

	t.Run("double encodes slash uuids", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.RequestURI, "/meetings/%252Fabc==/recordings") {
				t.Errorf("Expected double-encoded uuid, got %s", r.RequestURI)
			}
			fmt.Fprint(w, `{"download_access_token":"t"}`)
		})

		if _, _, err := client.ListRecordingFiles(context.Background(), "/abc=="); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	})
}

func TestDownloadFile(t *testing.T) {
	content := strings.Repeat("x", 1024)
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer dl-token" {
			t.Errorf("Expected download token credential, got %s", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/rec/ok":
			w.Header().Set("Content-Length", fmt.Sprint(len(content)))
			io.WriteString(w, content)
		case "/rec/broken":
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	base := strings.TrimSuffix(client.api.baseURL, "/v2")

	download, err := client.DownloadFile(context.Background(), RecordingFile{ID: "f1", DownloadURL: base + "/rec/ok"}, "dl-token")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer download.Body.Close()
	if download.Size != int64(len(content)) {
		t.Errorf("Expected size %d, got %d", len(content), download.Size)
	}
	data, _ := io.ReadAll(download.Body)
	if string(data) != content {
		t.Error("Downloaded content mismatch")
	}

	_, err = client.DownloadFile(context.Background(), RecordingFile{ID: "f2", DownloadURL: base + "/rec/broken"}, "dl-token")
	var downloadErr *DownloadError
	if !errors.As(err, &downloadErr) {
		t.Fatalf("Expected DownloadError, got %v", err)
	}
	if downloadErr.StatusCode != http.StatusInternalServerError || downloadErr.FileID != "f2" {
		t.Errorf("Unexpected download error: %+v", downloadErr)
	}
}

func TestDeleteRecordingFileErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		expectedKind DeleteErrorKind
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"code":429,"message":"slow down"}`, expectedKind: DeleteRateLimited},
		{name: "meeting in progress", status: http.StatusBadRequest, body: `{"code":3303,"message":"in progress"}`, expectedKind: DeleteMeetingIncomplete},
		{name: "recording not found", status: http.StatusNotFound, body: `{"code":3301,"message":"gone"}`, expectedKind: DeleteNotFound},
		{name: "user not found code", status: http.StatusBadRequest, body: `{"code":1001,"message":"no user"}`, expectedKind: DeleteNotFound},
		{name: "forbidden", status: http.StatusForbidden, body: ``, expectedKind: DeleteNotPermitted},
		{name: "no permission code", status: http.StatusBadRequest, body: `{"code":200,"message":"No permission"}`, expectedKind: DeleteNotPermitted},
		{name: "unexpected", status: http.StatusBadGateway, body: ``, expectedKind: DeleteUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete {
					t.Errorf("Expected DELETE, got %s", r.Method)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			err := client.DeleteRecordingFile(context.Background(), "123", "f1", DeleteModeTrash)
			var deleteErr *DeleteError
			if !errors.As(err, &deleteErr) {
				t.Fatalf("Expected DeleteError, got %v", err)
			}
			if deleteErr.Kind != tt.expectedKind {
				t.Errorf("Expected kind %s, got %s", tt.expectedKind, deleteErr.Kind)
			}
		})
	}
}

func TestDeleteRecordingFileSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/meetings/123/recordings/f1" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("action") != "delete" {
			t.Errorf("Expected action=delete, got %s", r.URL.Query().Get("action"))
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.DeleteRecordingFile(context.Background(), "123", "f1", DeleteModeDelete); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := client.DeleteRecordingFile(context.Background(), "123", "f1", "shred"); err == nil {
		t.Error("Expected error for unsupported mode")
	}
}

func TestAPIClientRetriesOnceAfterUnauthorized(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.Header.Get("Authorization") == "Bearer stale" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"code":124,"message":"Invalid access token."}`)
			return
		}
		fmt.Fprint(w, `{"id":"u1","email":"me@example.com"}`)
	}))
	defer server.Close()

	creds := &staticCreds{token: func(n int32) string {
		if n == 1 {
			return "stale"
		}
		return "fresh"
	}}
	client := NewClient(NewAPIClient(server.Client(), creds, server.URL))

	identity, err := client.ResolveIdentity(context.Background(), "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if identity.ID != "u1" {
		t.Errorf("Expected u1, got %s", identity.ID)
	}
	if creds.invalidates != 1 {
		t.Errorf("Expected 1 invalidation, got %d", creds.invalidates)
	}
	if requests != 2 {
		t.Errorf("Expected exactly 2 requests, got %d", requests)
	}
}

func TestAPIClientDoesNotRetryOtherFailures(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	api := NewAPIClient(server.Client(), &staticCreds{}, server.URL)
	err := api.Do(context.Background(), http.MethodGet, "/users/me", nil, nil)
	if StatusCode(err) != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d (%v)", StatusCode(err), err)
	}
	if requests != 1 {
		t.Errorf("Expected a single request, got %d", requests)
	}
}
