package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/curtbushko/zoom-to-vault/internal/transfer"
)

// Source provides the snapshots to render
type Source interface {
	Handles() []transfer.Snapshot
}

// Config holds display settings
type Config struct {
	Writer          io.Writer     // default os.Stdout
	BarWidth        int           // default 30
	RefreshInterval time.Duration // default 200ms
	Interactive     bool          // redraw in place instead of printing state changes
}

// Display renders transfer progress. Interactive displays redraw a frame of
// bars in place; otherwise one line is printed per state change.
type Display struct {
	source Source
	config Config

	mutex     sync.Mutex
	lastLines int
	lastState map[string]transfer.State
}

// NewDisplay creates a display over source
func NewDisplay(source Source, cfg Config) *Display {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.BarWidth <= 0 {
		cfg.BarWidth = 30
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 200 * time.Millisecond
	}
	return &Display{
		source:    source,
		config:    cfg,
		lastState: make(map[string]transfer.State),
	}
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// TerminalWidth returns the width of w, or fallback when it is not a terminal
func TerminalWidth(w io.Writer, fallback int) int {
	f, ok := w.(*os.File)
	if !ok {
		return fallback
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}

// Run refreshes the display until ctx is done, then draws a final frame
func (d *Display) Run(ctx context.Context) {
	if !d.config.Interactive {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(d.config.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.Refresh()
		case <-ctx.Done():
			d.Refresh()
			return
		}
	}
}

// Refresh redraws the current frame in place
func (d *Display) Refresh() {
	lines := d.Frame()

	d.mutex.Lock()
	defer d.mutex.Unlock()

	var b strings.Builder
	if d.lastLines > 0 {
		fmt.Fprintf(&b, "\033[%dA", d.lastLines)
	}
	for _, line := range lines {
		fmt.Fprintf(&b, "\r\033[K%s\n", line)
	}
	d.lastLines = len(lines)
	io.WriteString(d.config.Writer, b.String())
}

// Frame renders one line per tracked handle
func (d *Display) Frame() []string {
	snapshots := d.source.Handles()
	nameWidth := 0
	for _, snap := range snapshots {
		if n := len([]rune(snap.DestinationName)); n > nameWidth {
			nameWidth = n
		}
	}
	if nameWidth > 48 {
		nameWidth = 48
	}

	lines := make([]string, 0, len(snapshots))
	for _, snap := range snapshots {
		lines = append(lines, d.line(snap, nameWidth))
	}
	return lines
}

func (d *Display) line(snap transfer.Snapshot, nameWidth int) string {
	name := truncateLeft(snap.DestinationName, nameWidth)
	status := snap.State.String()
	switch {
	case snap.Skipped:
		status = "skipped (already stored)"
	case snap.State == transfer.StateFailed && snap.Error != "":
		status = "failed: " + snap.Error
	case snap.State == transfer.StateCompleted && !snap.StartedAt.IsZero():
		status = fmt.Sprintf("completed in %s", formatDuration(snap.FinishedAt.Sub(snap.StartedAt)))
	}

	size := FormatBytes(snap.BytesTransferred)
	if snap.SizeBytes > 0 {
		size += " / " + FormatBytes(snap.SizeBytes)
	}
	return fmt.Sprintf("%-*s [%s] %3d%% %s %s", nameWidth, name, createBar(snap.Percent, d.config.BarWidth), snap.Percent, size, status)
}

// Update prints a line when a handle changes state. It is meant to be used
// as the orchestrator's progress callback on non-interactive outputs.
func (d *Display) Update(update transfer.ProgressUpdate) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if last, ok := d.lastState[update.HandleID]; ok && last == update.State {
		return
	}
	d.lastState[update.HandleID] = update.State

	switch update.State {
	case transfer.StateFailed:
		fmt.Fprintf(d.config.Writer, "%s: failed: %v\n", update.FileID, update.Err)
	case transfer.StateCompleted:
		fmt.Fprintf(d.config.Writer, "%s: completed (%s)\n", update.FileID, FormatBytes(update.Bytes))
	default:
		fmt.Fprintf(d.config.Writer, "%s: %s\n", update.FileID, update.State)
	}
}

// RenderSummary writes the aggregate outcome of a run
func RenderSummary(w io.Writer, summary transfer.Summary, elapsed time.Duration) {
	fmt.Fprintf(w, "\nTransferred %d of %d files (%s) in %s\n",
		summary.Completed, summary.Total, FormatBytes(summary.Bytes), formatDuration(elapsed))
	if summary.Skipped > 0 {
		fmt.Fprintf(w, "  Skipped (already stored): %d\n", summary.Skipped)
	}
	if summary.Failed > 0 {
		fmt.Fprintf(w, "  Failed: %d\n", summary.Failed)
	}
	if summary.Cancelled > 0 {
		fmt.Fprintf(w, "  Cancelled: %d\n", summary.Cancelled)
	}
	if summary.Pending > 0 {
		fmt.Fprintf(w, "  Unfinished: %d\n", summary.Pending)
	}
}
