package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/curtbushko/zoom-to-vault/internal/filename"
	"github.com/curtbushko/zoom-to-vault/internal/ledger"
	"github.com/curtbushko/zoom-to-vault/internal/metrics"
	"github.com/curtbushko/zoom-to-vault/internal/processor"
	"github.com/curtbushko/zoom-to-vault/internal/progress"
	"github.com/curtbushko/zoom-to-vault/internal/server"
	"github.com/curtbushko/zoom-to-vault/internal/transfer"
	"github.com/curtbushko/zoom-to-vault/internal/users"
	"github.com/curtbushko/zoom-to-vault/internal/zoom"
)

// transferView renders orchestrator progress to the command output
type transferView struct {
	out         io.Writer
	enabled     bool
	interactive bool
	display     *progress.Display
	cancel      context.CancelFunc
	done        chan struct{}
}

func newTransferView(out io.Writer) *transferView {
	return &transferView{
		out:         out,
		enabled:     !noProgress,
		interactive: !noProgress && progress.IsTerminal(out),
	}
}

// onProgress is the orchestrator callback; non-interactive outputs get one line per state change
func (v *transferView) onProgress(update transfer.ProgressUpdate) {
	if v.display != nil && !v.interactive {
		v.display.Update(update)
	}
}

// start attaches the display to source. Call it before any transfer starts.
func (v *transferView) start(source progress.Source) {
	if !v.enabled {
		return
	}
	v.display = progress.NewDisplay(source, progress.Config{
		Writer:      v.out,
		Interactive: v.interactive,
		BarWidth:    barWidth(v.out),
	})
	if !v.interactive {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.done = make(chan struct{})
	go func() {
		defer close(v.done)
		v.display.Run(ctx)
	}()
}

// stop draws the final frame and stops refreshing
func (v *transferView) stop() {
	if v.cancel == nil {
		return
	}
	v.cancel()
	<-v.done
	v.cancel = nil
}

func barWidth(out io.Writer) int {
	width := progress.TerminalWidth(out, 100)
	switch {
	case width >= 140:
		return 30
	case width >= 100:
		return 20
	default:
		return 10
	}
}

// signalContext cancels on SIGINT or SIGTERM and reports the interruption
func signalContext(cmd *cobra.Command, parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-signals:
			cmd.PrintErrln("\n⚠️  Interrupted, cancelling transfers...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(signals)
		cancel()
	}
}

// selectFiles picks the requested files of a meeting
func selectFiles(files []zoom.RecordingFile, fileIDs []string, all bool) ([]zoom.RecordingFile, error) {
	if all {
		var selected []zoom.RecordingFile
		for _, file := range files {
			if file.DownloadURL != "" {
				selected = append(selected, file)
			}
		}
		if len(selected) == 0 {
			return nil, errors.New("meeting has no downloadable files")
		}
		return selected, nil
	}

	byID := make(map[string]zoom.RecordingFile, len(files))
	for _, file := range files {
		byID[file.ID] = file
	}
	selected := make([]zoom.RecordingFile, 0, len(fileIDs))
	var missing []string
	for _, id := range fileIDs {
		file, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		selected = append(selected, file)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("files not found in meeting: %s", strings.Join(missing, ", "))
	}
	return selected, nil
}

// createTransferCommand transfers files of one meeting
func createTransferCommand() *cobra.Command {
	var (
		fileIDs []string
		all     bool
		user    string
		topic   string
	)

	cmd := &cobra.Command{
		Use:   "transfer <meetingId>",
		Short: "Transfer recording files of one meeting into storage",
		Long: `Transfer recording files of one meeting into storage.

Files already recorded as completed in the ledger are skipped. Progress is
shown while transferring and Ctrl-C cancels every unfinished transfer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(fileIDs) == 0 {
				return errors.New("specify --file or --all")
			}
			meetingID := args[0]

			return runWithApp(cmd, needs{provider: true, store: true, ledger: true}, func(ctx context.Context, a *app) error {
				ctx, stop := signalContext(cmd, ctx)
				defer stop()

				token, files, err := a.provider.ListRecordingFiles(ctx, meetingID)
				if err != nil {
					return err
				}
				selected, err := selectFiles(files, fileIDs, all)
				if err != nil {
					return err
				}
				identity, err := a.provider.ResolveIdentity(ctx, user)
				if err != nil {
					return err
				}
				namer, err := a.namer()
				if err != nil {
					return err
				}

				meeting := filename.Meeting{
					Topic:     topic,
					HostEmail: identity.Email,
					StartTime: selected[0].RecordingStart,
				}
				if meeting.Topic == "" {
					meeting.Topic = meetingID
				}

				view := newTransferView(cmd.OutOrStdout())
				orch := a.orchestrator(transfer.Config{OnProgress: view.onProgress})
				view.start(orch)

				cmd.Printf("📦 Transferring %d files of meeting %s\n", len(selected), meetingID)
				started := time.Now()
				handles := orch.TransferMany(ctx, meetingID, selected, token, namer.For(meeting),
					transfer.WithOwner(identity.Email, identity.DisplayName))

				// Cancelled handles still settle, so wait without ctx
				summary := transfer.WaitAll(context.Background(), handles)
				view.stop()
				progress.RenderSummary(cmd.OutOrStdout(), summary, time.Since(started))

				a.logger.LogUserAction("transfer", identity.Email, map[string]interface{}{
					"meeting_id": meetingID,
					"completed":  summary.Completed,
					"skipped":    summary.Skipped,
					"failed":     summary.Failed,
					"cancelled":  summary.Cancelled,
				})
				if !summary.Succeeded() {
					return fmt.Errorf("%d of %d transfers did not complete", summary.Failed+summary.Cancelled+summary.Pending, summary.Total)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&fileIDs, "file", nil, "file id to transfer (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "transfer every downloadable file of the meeting")
	cmd.Flags().StringVar(&user, "user", "", "owner email used for naming and the ledger (default: the account owner)")
	cmd.Flags().StringVar(&topic, "topic", "", "meeting topic used by the user-topic naming policy (default: the meeting id)")
	return cmd
}

// syncOptions are the flags shared by sync and serve
type syncOptions struct {
	users        []string
	fileTypes    []string
	limit        int
	dryRun       bool
	deleteAfter  string
	stopOnError  bool
	serve        bool
	syncInterval time.Duration
	lookback     time.Duration
	addr         string
	from         string
	to           string
}

func (o syncOptions) deleteMode() (zoom.DeleteMode, error) {
	switch mode := zoom.DeleteMode(o.deleteAfter); mode {
	case "", zoom.DeleteModeTrash, zoom.DeleteModeDelete:
		return mode, nil
	default:
		return "", fmt.Errorf("--delete-after must be %s or %s", zoom.DeleteModeTrash, zoom.DeleteModeDelete)
	}
}

// identifiers returns --user values, or the active users roster
func (o syncOptions) identifiers(a *app) ([]string, users.Roster, error) {
	if len(o.users) > 0 {
		return o.users, nil, nil
	}
	roster, err := users.NewRoster(a.cfg.ActiveUsers, users.WithLogger(a.logger))
	if err != nil {
		return nil, nil, err
	}
	if len(roster.Users()) == 0 {
		roster.Close()
		return nil, nil, errors.New("no users to sync: set active_users.file or pass --user")
	}
	return roster.Users(), roster, nil
}

// newSyncProcessor builds a processor over orch for one sync run
func newSyncProcessor(a *app, orch processor.Transferrer, opts syncOptions, from, to *time.Time, m *metrics.Metrics) (*processor.Processor, error) {
	namer, err := a.namer()
	if err != nil {
		return nil, err
	}
	mode, err := opts.deleteMode()
	if err != nil {
		return nil, err
	}
	fileTypes := opts.fileTypes
	if len(fileTypes) == 0 {
		fileTypes = a.cfg.Transfer.FileTypes
	}

	return processor.New(a.provider, orch, namer, processor.Config{
		From:            from,
		To:              to,
		FileTypes:       fileTypes,
		Limit:           opts.limit,
		DryRun:          opts.dryRun,
		DeleteMode:      mode,
		ContinueOnError: !opts.stopOnError,
		OnUserDone: func(result *processor.UserResult) {
			m.SyncFinished(result.Succeeded())
			a.logger.Info("Synced %s: %d completed, %d skipped, %d failed, %d deleted",
				result.Identifier, result.Transfers.Completed, result.Transfers.Skipped, result.Transfers.Failed, result.Deleted)
		},
	}), nil
}

// newOpsServer wires the ops server over the app and orchestrator
func newOpsServer(a *app, orch *transfer.Orchestrator, m *metrics.Metrics, addr string) *server.Server {
	cfg := server.Config{
		Addr:      addr,
		Transfers: orch,
		Store:     a.store,
		Gatherer:  m.Registry(),
		Logger:    a.logger,
	}
	if r, ok := a.ledger.(ledger.Reader); ok {
		cfg.Ledger = r
	}
	return server.New(cfg)
}

func addSyncFlags(cmd *cobra.Command, opts *syncOptions) {
	cmd.Flags().StringSliceVar(&opts.users, "user", nil, "sync only these users instead of the active users file (repeatable)")
	cmd.Flags().StringSliceVar(&opts.fileTypes, "file-type", nil, "sync only these file types, e.g. MP4 (default: transfer.file_types)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum meetings per user (0 = no limit)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "show what would be transferred without transferring")
	cmd.Flags().StringVar(&opts.deleteAfter, "delete-after", "", "delete files from Zoom once stored: trash or delete")
	cmd.Flags().BoolVar(&opts.stopOnError, "stop-on-error", false, "stop at the first user that fails")
}

// createSyncCommand syncs the recordings of every active user
func createSyncCommand() *cobra.Command {
	opts := syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Transfer every recording of the active users",
		Long: `Transfer every recording of the active users into storage.

Users come from active_users.file unless --user is given. Without --from and
--to only today's recordings are synced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limitErr := validateLimit(opts.limit); limitErr != nil {
				return limitErr
			}
			if _, err := opts.deleteMode(); err != nil {
				return err
			}

			return runWithApp(cmd, needs{provider: true, store: true, ledger: true}, func(ctx context.Context, a *app) error {
				from, to, err := parseDateRange(opts.from, opts.to, a.location())
				if err != nil {
					return err
				}
				ctx, stop := signalContext(cmd, ctx)
				defer stop()

				identifiers, roster, err := opts.identifiers(a)
				if err != nil {
					return err
				}
				if roster != nil {
					defer roster.Close()
				}

				m := metrics.New()
				view := newTransferView(cmd.OutOrStdout())
				orch := a.orchestrator(transfer.Config{Observer: m, OnProgress: view.onProgress})
				proc, err := newSyncProcessor(a, orch, opts, from, to, m)
				if err != nil {
					return err
				}

				if opts.serve {
					srv := newOpsServer(a, orch, m, a.cfg.Server.Addr)
					go func() {
						if err := srv.ListenAndServe(ctx); err != nil {
							a.logger.Error("Ops server stopped: %v", err)
						}
					}()
				}

				if opts.dryRun {
					cmd.Printf("🔍 DRY RUN: showing what would be transferred (nothing will be stored)\n")
				}
				cmd.Printf("📋 Syncing recordings for %d users\n", len(identifiers))

				view.start(orch)
				result, err := proc.SyncAll(ctx, identifiers)
				view.stop()

				progress.RenderSummary(cmd.OutOrStdout(), result.Transfers, result.Duration)
				cmd.Printf("Users: %d processed, %d with errors\n", result.ProcessedUsers, result.FailedUsers)
				if result.Deleted > 0 {
					cmd.Printf("Deleted from Zoom: %d\n", result.Deleted)
				}
				if verbose {
					for _, user := range result.Users {
						for _, userErr := range user.Errors {
							cmd.Printf("  - %s: %v\n", user.Identifier, userErr)
						}
					}
				}

				if err != nil {
					return err
				}
				if result.FailedUsers > 0 {
					return fmt.Errorf("%d of %d users did not sync cleanly", result.FailedUsers, result.TotalUsers)
				}
				return nil
			})
		},
	}

	addSyncFlags(cmd, &opts)
	cmd.Flags().StringVar(&opts.from, "from", "", "start date, YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.to, "to", "", "end date, YYYY-MM-DD")
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "serve health, metrics and transfer state on server.addr while syncing")
	return cmd
}

// createServeCommand runs the ops server, optionally syncing on an interval
func createServeCommand() *cobra.Command {
	opts := syncOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and live transfer state over HTTP",
		Long: `Serve health, metrics and live transfer state over HTTP.

With --sync-interval the active users are synced on that interval, each run
covering the --lookback window. The active users file is watched when
active_users.watch is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limitErr := validateLimit(opts.limit); limitErr != nil {
				return limitErr
			}
			if opts.syncInterval < 0 || opts.lookback < 0 {
				return errors.New("--sync-interval and --lookback must not be negative")
			}
			if _, err := opts.deleteMode(); err != nil {
				return err
			}

			return runWithApp(cmd, needs{provider: true, store: true, ledger: true}, func(ctx context.Context, a *app) error {
				ctx, stop := signalContext(cmd, ctx)
				defer stop()

				addr := opts.addr
				if addr == "" {
					addr = a.cfg.Server.Addr
				}

				m := metrics.New()
				orch := a.orchestrator(transfer.Config{Observer: m})
				srv := newOpsServer(a, orch, m, addr)

				if opts.syncInterval > 0 {
					identifiers, roster, err := opts.identifiers(a)
					if err != nil {
						return err
					}
					if roster != nil {
						defer roster.Close()
					}
					go runSyncLoop(ctx, a, orch, opts, m, roster, identifiers)
				}

				cmd.Printf("🌐 Serving on %s\n", addr)
				return srv.ListenAndServe(ctx)
			})
		},
	}

	addSyncFlags(cmd, &opts)
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (default: server.addr)")
	cmd.Flags().DurationVar(&opts.syncInterval, "sync-interval", 0, "sync the active users on this interval (0 = never)")
	cmd.Flags().DurationVar(&opts.lookback, "lookback", 24*time.Hour, "recording window covered by each sync run")
	return cmd
}

// runSyncLoop syncs immediately and then on every tick until ctx is done.
// A roster's current members are read on each run so file edits take effect.
func runSyncLoop(ctx context.Context, a *app, orch *transfer.Orchestrator, opts syncOptions, m *metrics.Metrics, roster users.Roster, identifiers []string) {
	ticker := time.NewTicker(opts.syncInterval)
	defer ticker.Stop()

	for {
		if roster != nil {
			identifiers = roster.Users()
		}
		to := time.Now()
		from := to.Add(-opts.lookback)

		proc, err := newSyncProcessor(a, orch, opts, &from, &to, m)
		if err != nil {
			a.logger.Error("Failed to start sync: %v", err)
			return
		}
		result, err := proc.SyncAll(ctx, identifiers)
		if err != nil {
			a.logger.Error("Sync run failed: %v", err)
		} else {
			a.logger.Info("Sync run finished: %d users, %d completed, %d skipped, %d failed",
				result.ProcessedUsers, result.Transfers.Completed, result.Transfers.Skipped, result.Transfers.Failed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func validateLimit(limit int) error {
	if limit < 0 {
		return fmt.Errorf("limit must be a positive number or 0, got: %d", limit)
	}
	return nil
}
