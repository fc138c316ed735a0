// Package users maintains the list of identities whose recordings are synced
package users

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/curtbushko/zoom-to-vault/internal/config"
	"github.com/curtbushko/zoom-to-vault/internal/email"
	"github.com/curtbushko/zoom-to-vault/internal/logging"
)

// Roster answers which users should be synced
type Roster interface {
	IsActive(address string) bool
	Users() []string
	Stats() Stats
	Reload() error
	Close() error
}

// Stats describes the loaded roster
type Stats struct {
	TotalUsers   int       `json:"total_users"`
	SkippedLines int       `json:"skipped_lines"`
	LastUpdated  time.Time `json:"last_updated"`
	FilePath     string    `json:"file_path"`
	FileSize     int64     `json:"file_size"`
	IsWatching   bool      `json:"is_watching"`
}

// FileRoster loads one email address per line from a file. Blank lines and
// lines starting with # are ignored; addresses compare case-insensitively.
type FileRoster struct {
	path     string
	logger   logging.Logger
	mutex    sync.RWMutex
	members  map[string]bool
	ordered  []string
	stats    Stats
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
	onChange func([]string)
}

// Option customizes a FileRoster
type Option func(*FileRoster)

// WithOnChange registers a callback invoked after every successful reload
func WithOnChange(fn func(users []string)) Option {
	return func(r *FileRoster) {
		r.onChange = fn
	}
}

// WithLogger overrides the default logger
func WithLogger(logger logging.Logger) Option {
	return func(r *FileRoster) {
		r.logger = logger
	}
}

// NewRoster loads cfg.File and, when cfg.Watch is set, reloads it on change.
// An empty file path yields an open roster where every user is active.
func NewRoster(cfg config.ActiveUsersConfig, opts ...Option) (*FileRoster, error) {
	r := &FileRoster{
		path:    cfg.File,
		logger:  logging.GetDefaultLogger(),
		members: make(map[string]bool),
		stop:    make(chan struct{}),
		stats: Stats{
			FilePath: cfg.File,
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.path == "" {
		return r, nil
	}

	if err := r.load(); err != nil {
		return nil, fmt.Errorf("failed to load active users: %w", err)
	}

	if cfg.Watch {
		if err := r.watch(); err != nil {
			return nil, fmt.Errorf("failed to watch active users file: %w", err)
		}
	}
	return r, nil
}

// IsActive reports whether address is listed, or true for an open roster
func (r *FileRoster) IsActive(address string) bool {
	if r.path == "" {
		return true
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.members[email.Normalize(address)]
}

// Users returns the listed addresses in file order
func (r *FileRoster) Users() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	result := make([]string, len(r.ordered))
	copy(result, r.ordered)
	return result
}

// Stats returns the current roster statistics
func (r *FileRoster) Stats() Stats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.stats
}

// Reload rereads the file
func (r *FileRoster) Reload() error {
	if r.path == "" {
		return nil
	}
	return r.load()
}

// Close stops watching the file
func (r *FileRoster) Close() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.stop)
		if r.watcher != nil {
			err = r.watcher.Close()
		}
	})
	return err
}

func (r *FileRoster) load() error {
	file, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	members := make(map[string]bool)
	var ordered []string
	skipped := 0

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !email.IsValidEmail(line) {
			skipped++
			r.logger.Warn("Ignoring invalid address in %s: %q", r.path, line)
			continue
		}
		normalized := email.Normalize(line)
		if !members[normalized] {
			members[normalized] = true
			ordered = append(ordered, normalized)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	r.mutex.Lock()
	r.members = members
	r.ordered = ordered
	r.stats.TotalUsers = len(ordered)
	r.stats.SkippedLines = skipped
	r.stats.LastUpdated = time.Now()
	r.stats.FileSize = info.Size()
	r.mutex.Unlock()

	if r.onChange != nil {
		r.onChange(r.Users())
	}
	return nil
}

// watch follows the parent directory so editors that replace the file by
// rename are still picked up.
func (r *FileRoster) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return err
	}

	r.watcher = watcher
	r.mutex.Lock()
	r.stats.IsWatching = true
	r.mutex.Unlock()

	go r.watchLoop()
	return nil
}

func (r *FileRoster) watchLoop() {
	target := filepath.Clean(r.path)
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// let the writer finish
			time.Sleep(10 * time.Millisecond)
			if err := r.load(); err != nil {
				r.logger.Warn("Failed to reload active users: %v", err)
				continue
			}
			r.logger.Info("Reloaded %d active users from %s", r.Stats().TotalUsers, r.path)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("Active users watcher error: %v", err)

		case <-r.stop:
			return
		}
	}
}
