package users

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/curtbushko/zoom-to-vault/internal/config"
	"github.com/curtbushko/zoom-to-vault/internal/logging"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "active_users.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write roster: %v", err)
	}
	return path
}

func TestRosterLoading(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		expectedUsers []string
		skipped       int
	}{
		{
			name: "mixed content",
			content: `john.doe@company.com
jane.smith@company.com

# comment
user@example.org
   # indented comment
test.user@domain.co.uk`,
			expectedUsers: []string{
				"john.doe@company.com",
				"jane.smith@company.com",
				"user@example.org",
				"test.user@domain.co.uk",
			},
		},
		{
			name:          "empty file",
			content:       "",
			expectedUsers: []string{},
		},
		{
			name: "mixed case is normalized and deduplicated",
			content: `John.Doe@Company.com
JOHN.DOE@COMPANY.COM
admin@company.com`,
			expectedUsers: []string{"john.doe@company.com", "admin@company.com"},
		},
		{
			name: "invalid lines are skipped",
			content: `not-an-email
valid@example.com
@missing.local
missing-at.example.com`,
			expectedUsers: []string{"valid@example.com"},
			skipped:       3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRoster(t, tt.content)
			roster, err := NewRoster(config.ActiveUsersConfig{File: path}, WithLogger(logging.NewNopLogger()))
			if err != nil {
				t.Fatalf("Failed to create roster: %v", err)
			}
			defer roster.Close()

			users := roster.Users()
			if len(users) != len(tt.expectedUsers) {
				t.Fatalf("Expected %d users, got %d: %v", len(tt.expectedUsers), len(users), users)
			}
			for i, expected := range tt.expectedUsers {
				if users[i] != expected {
					t.Errorf("Expected user %d to be %s, got %s", i, expected, users[i])
				}
			}

			stats := roster.Stats()
			if stats.TotalUsers != len(tt.expectedUsers) {
				t.Errorf("Expected TotalUsers %d, got %d", len(tt.expectedUsers), stats.TotalUsers)
			}
			if stats.SkippedLines != tt.skipped {
				t.Errorf("Expected %d skipped lines, got %d", tt.skipped, stats.SkippedLines)
			}
			if stats.FileSize != int64(len(tt.content)) {
				t.Errorf("Expected FileSize %d, got %d", len(tt.content), stats.FileSize)
			}
		})
	}
}

func TestRosterIsActive(t *testing.T) {
	path := writeRoster(t, "Jane@Example.com\n")
	roster, err := NewRoster(config.ActiveUsersConfig{File: path}, WithLogger(logging.NewNopLogger()))
	if err != nil {
		t.Fatalf("Failed to create roster: %v", err)
	}

	for _, address := range []string{"jane@example.com", "JANE@EXAMPLE.COM", " jane@example.com "} {
		if !roster.IsActive(address) {
			t.Errorf("Expected %q to be active", address)
		}
	}
	if roster.IsActive("john@example.com") {
		t.Error("Expected john@example.com to be inactive")
	}
}

func TestOpenRoster(t *testing.T) {
	roster, err := NewRoster(config.ActiveUsersConfig{})
	if err != nil {
		t.Fatalf("Failed to create roster: %v", err)
	}
	if !roster.IsActive("anyone@example.com") {
		t.Error("Expected every user to be active without a file")
	}
	if len(roster.Users()) != 0 {
		t.Errorf("Expected no listed users, got %v", roster.Users())
	}
	if err := roster.Reload(); err != nil {
		t.Errorf("Expected reload of open roster to succeed, got %v", err)
	}
}

func TestMissingRosterFile(t *testing.T) {
	_, err := NewRoster(config.ActiveUsersConfig{File: filepath.Join(t.TempDir(), "missing.txt")})
	if err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestRosterReload(t *testing.T) {
	path := writeRoster(t, "a@example.com\n")
	var seen []string
	roster, err := NewRoster(config.ActiveUsersConfig{File: path},
		WithLogger(logging.NewNopLogger()),
		WithOnChange(func(users []string) { seen = users }))
	if err != nil {
		t.Fatalf("Failed to create roster: %v", err)
	}

	if err := os.WriteFile(path, []byte("a@example.com\nb@example.com\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite roster: %v", err)
	}
	if err := roster.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if !roster.IsActive("b@example.com") {
		t.Error("Expected b@example.com after reload")
	}
	if len(seen) != 2 {
		t.Errorf("Expected change callback with 2 users, got %v", seen)
	}
}

func TestRosterWatchesFile(t *testing.T) {
	path := writeRoster(t, "a@example.com\n")
	roster, err := NewRoster(config.ActiveUsersConfig{File: path, Watch: true}, WithLogger(logging.NewNopLogger()))
	if err != nil {
		t.Fatalf("Failed to create roster: %v", err)
	}
	defer roster.Close()

	if !roster.Stats().IsWatching {
		t.Error("Expected roster to report watching")
	}

	if err := os.WriteFile(path, []byte("a@example.com\nnew@example.com\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite roster: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !roster.IsActive("new@example.com") {
		if time.Now().After(deadline) {
			t.Fatal("Expected watcher to pick up new@example.com")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := roster.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := roster.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestRosterConcurrentAccess(t *testing.T) {
	path := writeRoster(t, "a@example.com\nb@example.com\n")
	roster, err := NewRoster(config.ActiveUsersConfig{File: path}, WithLogger(logging.NewNopLogger()))
	if err != nil {
		t.Fatalf("Failed to create roster: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				roster.IsActive("a@example.com")
				roster.Users()
			}
		}()
	}
	for i := 0; i < 5; i++ {
		if err := roster.Reload(); err != nil {
			t.Errorf("Reload failed: %v", err)
		}
	}
	wg.Wait()
}
