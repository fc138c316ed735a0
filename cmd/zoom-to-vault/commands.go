package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/curtbushko/zoom-to-vault/internal/ledger"
	"github.com/curtbushko/zoom-to-vault/internal/progress"
	"github.com/curtbushko/zoom-to-vault/internal/storage"
	"github.com/curtbushko/zoom-to-vault/internal/zoom"
)

// createWhoamiCommand resolves an identity and prints it
func createWhoamiCommand() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the Zoom identity the credentials resolve to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, needs{provider: true}, func(ctx context.Context, a *app) error {
				identity, err := a.provider.ResolveIdentity(ctx, user)
				if err != nil {
					return err
				}
				cmd.Printf("ID: %s\n", identity.ID)
				cmd.Printf("Email: %s\n", identity.Email)
				cmd.Printf("Name: %s\n", identity.DisplayName)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "resolve this email instead of the account owner")
	return cmd
}

// createRecordingsCommand groups the recording browsing commands
func createRecordingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "Browse and manage Zoom cloud recordings",
	}
	cmd.AddCommand(createRecordingsListCommand())
	cmd.AddCommand(createRecordingsFilesCommand())
	cmd.AddCommand(createRecordingsDeleteCommand())
	return cmd
}

func createRecordingsListCommand() *cobra.Command {
	var user, from, to string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's recorded meetings",
		Long:  "List a user's recorded meetings. Without --from and --to the window is today in the provider timezone.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, needs{provider: true}, func(ctx context.Context, a *app) error {
				fromTime, toTime, err := parseDateRange(from, to, a.location())
				if err != nil {
					return err
				}
				identity, err := a.provider.ResolveIdentity(ctx, user)
				if err != nil {
					return err
				}
				entries, err := a.provider.ListRecordings(ctx, identity, fromTime, toTime)
				if err != nil {
					return err
				}

				cmd.Printf("📋 %d meetings for %s\n", len(entries), identity.Email)
				for _, entry := range entries {
					cmd.Printf("%-14s %s  %3d min  %2d files  %10s  %s (host %s)\n",
						entry.MeetingID,
						entry.StartTime.In(a.location()).Format("2006-01-02 15:04"),
						entry.DurationMinutes,
						entry.FileCount,
						progress.FormatBytes(entry.TotalSizeBytes),
						entry.Topic,
						entry.HostEmail)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user email (default: the account owner)")
	cmd.Flags().StringVar(&from, "from", "", "start date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "end date, YYYY-MM-DD")
	return cmd
}

func createRecordingsFilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "files <meetingId>",
		Short: "List the files of one recorded meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, needs{provider: true}, func(ctx context.Context, a *app) error {
				_, files, err := a.provider.ListRecordingFiles(ctx, args[0])
				if err != nil {
					return err
				}

				cmd.Printf("📋 %d files in meeting %s\n", len(files), args[0])
				for _, file := range files {
					cmd.Printf("%-38s %-16s %10s  %s\n", file.ID, file.FileType, progress.FormatBytes(file.FileSize), file.Status)
				}
				return nil
			})
		},
	}
}

func createRecordingsDeleteCommand() *cobra.Command {
	var permanent bool

	cmd := &cobra.Command{
		Use:   "delete <meetingId> <fileId>",
		Short: "Delete one recording file from Zoom",
		Long:  "Move one recording file to the Zoom trash, or delete it outright with --permanent.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := zoom.DeleteModeTrash
			if permanent {
				mode = zoom.DeleteModeDelete
			}
			return runWithApp(cmd, needs{provider: true}, func(ctx context.Context, a *app) error {
				if err := a.provider.DeleteRecordingFile(ctx, args[0], args[1], mode); err != nil {
					return err
				}
				a.logger.LogUserAction("delete_recording_file", "cli", map[string]interface{}{
					"meeting_id": args[0],
					"file_id":    args[1],
					"mode":       string(mode),
				})
				cmd.Printf("🗑️  Deleted %s from meeting %s (%s)\n", args[1], args[0], mode)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&permanent, "permanent", false, "delete permanently instead of moving to trash")
	return cmd
}

// createStorageCommand groups the object store commands
func createStorageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect and manage stored recordings",
	}
	cmd.AddCommand(createStorageListCommand())
	cmd.AddCommand(createStorageURLCommand())
	cmd.AddCommand(createStorageDeleteCommand())
	return cmd
}

func createStorageListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [prefix]",
		Short: "List stored objects under a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return runWithApp(cmd, needs{store: true}, func(ctx context.Context, a *app) error {
				objects, err := a.store.List(ctx, prefix)
				if err != nil {
					return err
				}

				var total int64
				for _, obj := range objects {
					total += obj.Size
					cmd.Printf("%10s  %s  %-24s %s\n",
						progress.FormatBytes(obj.Size),
						obj.CreatedAt.Format("2006-01-02 15:04"),
						obj.ContentType,
						obj.Name)
				}
				cmd.Printf("%d objects, %s\n", len(objects), progress.FormatBytes(total))
				return nil
			})
		},
	}
}

func createStorageURLCommand() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "url <name>",
		Short: "Issue a time-limited access URL for a stored object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, needs{store: true}, func(ctx context.Context, a *app) error {
				lifetime := ttl
				if lifetime <= 0 {
					lifetime = a.cfg.Storage.URLTTL()
				}
				exists, err := a.store.Exists(ctx, args[0])
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("object %s does not exist", args[0])
				}
				url, err := a.store.AccessURL(ctx, args[0], lifetime)
				if err != nil {
					return err
				}
				cmd.Println(url)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "URL lifetime (default: storage.url_ttl_hours)")
	return cmd
}

func createStorageDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name...>",
		Short: "Delete stored objects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, needs{store: true}, func(ctx context.Context, a *app) error {
				result := storage.DeleteMany(ctx, a.store, args)
				for name, msg := range result.Errors {
					cmd.Printf("❌ %s: %s\n", name, msg)
				}
				cmd.Printf("Deleted %d of %d objects\n", result.Successful, result.Total)
				if result.Failed > 0 {
					return fmt.Errorf("%d deletions failed", result.Failed)
				}
				return nil
			})
		},
	}
}

// createLedgerCommand groups the transfer ledger commands
func createLedgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the transfer ledger",
	}
	cmd.AddCommand(createLedgerListCommand())
	cmd.AddCommand(createLedgerStatsCommand())
	cmd.AddCommand(createLedgerExportCommand())
	return cmd
}

// parseStatus accepts an empty filter or a terminal ledger status
func parseStatus(status string) (ledger.Status, error) {
	switch s := ledger.Status(status); s {
	case "", ledger.StatusCompleted, ledger.StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("--status must be completed or failed")
	}
}

func createLedgerListCommand() *cobra.Command {
	var status, meeting string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded transfer outcomes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseStatus(status)
			if err != nil {
				return err
			}
			opts := ledger.ListOptions{Status: parsed, MeetingID: meeting, Limit: limit}

			return runWithApp(cmd, needs{ledger: true}, func(ctx context.Context, a *app) error {
				r, err := a.reader()
				if err != nil {
					return err
				}
				records, err := r.List(ctx, opts)
				if err != nil {
					return err
				}

				for _, rec := range records {
					detail := rec.DestinationRef
					if rec.Status == ledger.StatusFailed {
						detail = rec.Error
					}
					cmd.Printf("%s  %-9s %-14s %-38s %10s  %s\n",
						rec.CompletedAt.Format("2006-01-02 15:04"),
						rec.Status,
						rec.MeetingID,
						rec.FileID,
						progress.FormatBytes(rec.SizeBytes),
						detail)
				}
				cmd.Printf("%d records\n", len(records))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status: completed or failed")
	cmd.Flags().StringVar(&meeting, "meeting", "", "filter by meeting id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records to show (0 = all)")
	return cmd
}

func createLedgerStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ledger totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, needs{ledger: true}, func(ctx context.Context, a *app) error {
				r, err := a.reader()
				if err != nil {
					return err
				}
				stats, err := r.Stats(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("Completed: %d\n", stats.Completed)
				cmd.Printf("Failed: %d\n", stats.Failed)
				cmd.Printf("Stored: %s\n", progress.FormatBytes(stats.TotalBytes))
				return nil
			})
		},
	}
}

func createLedgerExportCommand() *cobra.Command {
	var status, meeting, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export transfer outcomes as CSV",
		Long:  "Export transfer outcomes as CSV, newest first. Without --output the CSV is written to stdout.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseStatus(status)
			if err != nil {
				return err
			}
			opts := ledger.ListOptions{Status: parsed, MeetingID: meeting}

			return runWithApp(cmd, needs{ledger: true}, func(ctx context.Context, a *app) error {
				r, err := a.reader()
				if err != nil {
					return err
				}
				if output == "" {
					records, err := r.List(ctx, opts)
					if err != nil {
						return err
					}
					return ledger.WriteCSV(cmd.OutOrStdout(), records)
				}

				count, err := ledger.ExportCSV(ctx, r, opts, output)
				if err != nil {
					return err
				}
				cmd.Printf("📄 Exported %d records to %s\n", count, output)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status: completed or failed")
	cmd.Flags().StringVar(&meeting, "meeting", "", "filter by meeting id")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the CSV to this file")
	return cmd
}
