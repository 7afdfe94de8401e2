package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/Amorter/bili-ticket/internal/account"
	"github.com/Amorter/bili-ticket/internal/catalog"
	"github.com/Amorter/bili-ticket/internal/config"
	"github.com/Amorter/bili-ticket/internal/login"
	"github.com/Amorter/bili-ticket/internal/monitor"
	"github.com/Amorter/bili-ticket/internal/purchase"
	"github.com/Amorter/bili-ticket/internal/remote"
	"github.com/Amorter/bili-ticket/internal/rush"
	"github.com/Amorter/bili-ticket/internal/session"
)

// app holds the wired components shared by every subcommand.
type app struct {
	settings  config.Settings
	statePath string
	stored    config.State
	out       io.Writer
	logger    *slog.Logger

	state    *session.State
	client   *remote.Client
	login    *login.Session
	monitor  *monitor.Monitor
	catalog  *catalog.Client
	purchase *purchase.Orchestrator
	rush     *rush.Runner
	account  *account.Service
}

func newApp(common commonFlags, out io.Writer, logger *slog.Logger) (*app, error) {
	settings, err := config.Load(common.settingsPath)
	if err != nil {
		return nil, err
	}
	statePath := settings.StatePath
	if common.statePath != "" {
		statePath = common.statePath
	}
	stored, err := config.LoadState(statePath)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if settings.RequestRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(settings.RequestRate), settings.RequestBurst)
	}
	client := remote.NewClient(remote.Options{
		Endpoints:  settings.Endpoints,
		HTTPClient: &http.Client{Timeout: settings.HTTPTimeout},
		Limiter:    limiter,
		UserAgent:  settings.UserAgent,
		Logger:     logger.With("component", "remote"),
	})

	state := session.Restore(stored.Cookie)
	pollInterval := settings.LoginPollInterval
	retries := uint(settings.TransportRetries)

	return &app{
		settings:  settings,
		statePath: statePath,
		stored:    stored,
		out:       out,
		logger:    logger,
		state:     state,
		client:    client,
		login: login.New(client, state, login.Options{
			Logger:           logger.With("component", "login"),
			PollPolicy:       func() backoff.BackOff { return backoff.NewConstantBackOff(pollInterval) },
			TransportRetries: &retries,
			QRRenderer:       settings.QRRenderer,
		}),
		monitor: monitor.New(client, state, monitor.Options{
			Interval: settings.MonitorInterval,
			Logger:   logger.With("component", "monitor"),
		}),
		catalog:  catalog.NewClient(client, catalog.Options{Logger: logger.With("component", "catalog")}),
		purchase: purchase.New(client, state, purchase.Options{Logger: logger.With("component", "purchase")}),
		rush: rush.New(
			purchase.New(client, state, purchase.Options{Logger: logger.With("component", "rush")}),
			rush.Options{Logger: logger.With("component", "rush")},
		),
		account: account.New(client, state, account.Options{
			Logger:     logger.With("component", "account"),
			QRRenderer: settings.QRRenderer,
		}),
	}, nil
}

// save persists the session cookie and the last selection.
func (a *app) save() error {
	a.stored.Cookie = a.state.Cookie()
	if err := config.SaveState(a.statePath, a.stored); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	return nil
}

func (a *app) rushLimiter() *rate.Limiter {
	if a.settings.RushRate <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(a.settings.RushRate), 1)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
