package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/curtbushko/zoom-to-vault/internal/config"
)

var (
	// Version information - will be set during build
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	verbose    bool
	noProgress bool
)

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// buildRootCommand creates and configures the root command
func buildRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zoom-to-vault",
		Short: "Move Zoom cloud recordings into object storage",
		Long: `zoom-to-vault streams Zoom cloud recording files straight into an
S3-compatible bucket without staging them on local disk.

This tool helps you:
- Browse a user's cloud recordings and their files
- Transfer files concurrently with live progress and cancellation
- Skip files already stored, using a persistent transfer ledger
- Sync every active user's recordings in one run
- Serve health, metrics and live transfer state over HTTP`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
	rootCmd.AddCommand(createWhoamiCommand())
	rootCmd.AddCommand(createRecordingsCommand())
	rootCmd.AddCommand(createTransferCommand())
	rootCmd.AddCommand(createSyncCommand())
	rootCmd.AddCommand(createStorageCommand())
	rootCmd.AddCommand(createLedgerCommand())
	rootCmd.AddCommand(createServeCommand())

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file path (default: config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "disable progress bars and real-time updates")

	return rootCmd
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version, commit, and build information for zoom-to-vault",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("zoom-to-vault version %s\n", version)
			cmd.Printf("Commit: %s\n", commit)
			cmd.Printf("Build date: %s\n", buildDate)
		},
	}
}

// createConfigCommand creates the config help subcommand and its validate child
func createConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show configuration file structure and examples",
		Long:  "Display the configuration file structure, environment variables and examples",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(configHelp)
		},
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cmd.Printf("✅ Configuration is valid\n")
			cmd.Printf("Storage: %s bucket %q\n", cfg.Storage.Backend, cfg.Storage.Bucket)
			cmd.Printf("Ledger: %s\n", cfg.Ledger.Backend)
			cmd.Printf("Naming policy: %s under %q\n", cfg.Transfer.NamingPolicy, cfg.Transfer.RootPrefix)
			cmd.Printf("Concurrency: %d\n", cfg.Transfer.Concurrency)
			return nil
		},
	})

	return configCmd
}

// loadConfig loads the file named by --config, defaulting to config.yaml
func loadConfig() (*config.Config, error) {
	configPath := "config.yaml"
	if configFile != "" {
		configPath = configFile
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

const configHelp = `Configuration File Structure (config.yaml):

ZOOM API CONFIGURATION (Required):
=================================
zoom:
  account_id: "your_zoom_account_id"       # Zoom Account ID from Server-to-Server OAuth app
  client_id: "your_zoom_client_id"         # Client ID from Server-to-Server OAuth app
  client_secret: "your_zoom_client_secret" # Client Secret from Server-to-Server OAuth app
  base_url: "https://api.zoom.us/v2"       # Zoom API base URL (default: https://api.zoom.us/v2)
  token_url: "https://zoom.us/oauth/token" # OAuth token endpoint
  auth_mode: "basic"                       # basic or jwt client assertion (default: basic)
  timezone: "America/New_York"             # Provider timezone for "today" defaults (default: UTC)
  timeout_seconds: 30                      # Metadata call timeout (default: 30)

# REQUIRED SCOPES: recording:read, recording:write, user:read

STORAGE CONFIGURATION (Required):
================================
storage:
  backend: "s3"                    # s3 or minio (default: s3)
  bucket: "zoom-recordings"        # Destination bucket
  region: "us-east-1"              # Bucket region (default: us-east-1)
  endpoint: ""                     # Custom endpoint; required for minio
  access_key_id: ""                # Static credentials; empty uses the AWS default chain
  secret_access_key: ""
  use_ssl: true                    # minio only
  path_style: false                # Path-style addressing for S3-compatible endpoints
  part_size_mb: 5                  # Multipart part size (minimum 5)
  upload_concurrency: 3            # Parts uploaded in parallel per file
  url_ttl_hours: 24                # Default lifetime of issued access URLs
  create_bucket: false             # Create the bucket when missing (minio only)

LEDGER CONFIGURATION:
====================
ledger:
  backend: "file"                  # file, postgres or redis (default: file)
  file: "./transfer-ledger.json"   # file backend path
  dsn: ""                          # postgres connection string
  redis_addr: ""                   # redis host:port
  redis_db: 0
  redis_prefix: "zoom-to-vault"

TRANSFER CONFIGURATION:
======================
transfer:
  concurrency: 8                   # Maximum simultaneous transfers (default: 8)
  naming_policy: "user-meeting"    # user-meeting, user-topic or flat
  root_prefix: "zoom-recordings"   # Prefix for every object name
  file_types: []                   # Restrict sync to these file types, e.g. [MP4, M4A]

LOGGING CONFIGURATION:
=====================
logging:
  level: "info"                    # debug, info, warn, error (default: info)
  file: ""                         # Optional log file
  console: true
  json_format: false

ACTIVE USERS (used by sync and serve):
=====================================
active_users:
  file: "./active_users.txt"       # One email per line, # for comments
  watch: false                     # Reload the file when it changes

SERVER CONFIGURATION:
====================
server:
  addr: ":8080"                    # Ops server listen address

ENVIRONMENT VARIABLES:
=====================
  ZOOM_ACCOUNT_ID, ZOOM_CLIENT_ID, ZOOM_CLIENT_SECRET, ZOOM_BASE_URL,
  ZOOM_TOKEN_URL, ZOOM_AUTH_MODE, ZOOM_TIMEZONE
  STORAGE_BACKEND, STORAGE_BUCKET, STORAGE_ENDPOINT,
  STORAGE_ACCESS_KEY_ID, STORAGE_SECRET_ACCESS_KEY, AWS_REGION
  LEDGER_BACKEND, LEDGER_FILE, DATABASE_URL, REDIS_ADDR, REDIS_PASSWORD
  TRANSFER_CONCURRENCY, LOG_LEVEL

A .env file in the working directory is loaded first when present.

EXAMPLE USAGE:
=============
  zoom-to-vault whoami
  zoom-to-vault recordings list --user jane@example.com --from 2024-01-01
  zoom-to-vault recordings files 778899
  zoom-to-vault transfer 778899 --all
  zoom-to-vault sync --from 2024-01-01 --to 2024-01-31
  zoom-to-vault storage url zoom-recordings/jane/778899/MP4_f1.mp4 --ttl 2h
  zoom-to-vault ledger list --status failed
  zoom-to-vault serve --sync-interval 1h
`
