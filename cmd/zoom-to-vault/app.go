package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/curtbushko/zoom-to-vault/internal/config"
	"github.com/curtbushko/zoom-to-vault/internal/filename"
	"github.com/curtbushko/zoom-to-vault/internal/ledger"
	"github.com/curtbushko/zoom-to-vault/internal/logging"
	"github.com/curtbushko/zoom-to-vault/internal/storage"
	"github.com/curtbushko/zoom-to-vault/internal/transfer"
	"github.com/curtbushko/zoom-to-vault/internal/zoom"
)

// app holds the collaborators a command runs against
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	provider zoom.RecordingProvider
	store    storage.ObjectStore
	ledger   ledger.Ledger
}

// needs selects which collaborators a command opens
type needs struct {
	provider bool
	store    bool
	ledger   bool
}

// openApp builds the collaborators for a command. Tests replace it.
var openApp = defaultOpenApp

func defaultOpenApp(ctx context.Context, n needs) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := logging.InitializeLogging(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	a := &app{cfg: cfg, logger: logging.GetDefaultLogger()}

	if n.provider {
		a.provider = newZoomClient(cfg.Zoom)
	}
	if n.store {
		a.store, err = storage.New(ctx, cfg.Storage)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
	}
	if n.ledger {
		a.ledger, err = ledger.New(ctx, cfg.Ledger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
	}
	return a, nil
}

// newZoomClient wires the credential cache, API client and recording client
func newZoomClient(cfg config.ZoomConfig) *zoom.Client {
	httpClient := &http.Client{Timeout: cfg.TimeoutDuration()}
	creds := zoom.NewCredentialCache(zoom.NewServerToServerFetcher(cfg, httpClient))
	api := zoom.NewAPIClient(httpClient, creds, cfg.BaseURL)
	return zoom.NewClient(api, zoom.WithLocation(cfg.Location()))
}

// Close releases the ledger and flushes logs
func (a *app) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("Failed to close ledger: %v", err)
		}
	}
	if a.logger != nil {
		a.logger.Close()
	}
}

// reader returns the ledger's browsing view when the backend has one
func (a *app) reader() (ledger.Reader, error) {
	r, ok := a.ledger.(ledger.Reader)
	if !ok {
		return nil, fmt.Errorf("ledger backend %q cannot list records", a.cfg.Ledger.Backend)
	}
	return r, nil
}

// namer builds the configured destination namer
func (a *app) namer() (*filename.Namer, error) {
	policy, err := filename.ParsePolicy(a.cfg.Transfer.NamingPolicy)
	if err != nil {
		return nil, err
	}
	return filename.NewNamer(policy, a.cfg.Transfer.RootPrefix), nil
}

// orchestrator creates a transfer orchestrator over the app's collaborators
func (a *app) orchestrator(cfg transfer.Config) *transfer.Orchestrator {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = a.cfg.Transfer.Concurrency
	}
	cfg.Logger = a.logger
	return transfer.New(a.provider, a.store, a.ledger, cfg)
}

// location returns the provider timezone, defaulting to UTC
func (a *app) location() *time.Location {
	if a.cfg == nil {
		return time.UTC
	}
	return a.cfg.Zoom.Location()
}

// parseDateFlag parses a YYYY-MM-DD flag value in loc; empty yields nil
func parseDateFlag(value string, loc *time.Location) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return &t, nil
}

// parseDateRange parses --from and --to and rejects an inverted window
func parseDateRange(from, to string, loc *time.Location) (*time.Time, *time.Time, error) {
	fromTime, err := parseDateFlag(from, loc)
	if err != nil {
		return nil, nil, err
	}
	toTime, err := parseDateFlag(to, loc)
	if err != nil {
		return nil, nil, err
	}
	if fromTime != nil && toTime != nil && toTime.Before(*fromTime) {
		return nil, nil, errors.New("--to must not be before --from")
	}
	return fromTime, toTime, nil
}

// runWithApp opens the requested collaborators around fn
func runWithApp(cmd *cobra.Command, n needs, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, n)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
