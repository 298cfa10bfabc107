package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pairwatch/internal/alerting"
	"pairwatch/internal/config"
	"pairwatch/internal/exchange"
	"pairwatch/internal/logging"
	"pairwatch/internal/scheduler"
	"pairwatch/internal/service"
	"pairwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

// newClients builds one exchange client per configured identifier.
// "binance" and "onchain" get native adapters; anything else is treated
// as a slug for the aggregated market-pairs endpoint.
func (a *App) newClients() []exchange.Client {
	archiver := exchange.NewArchiver(a.Config.Ingestion.ArchiveDir, a.Logger)

	clients := make([]exchange.Client, 0, len(a.Config.Ingestion.Exchanges))
	for _, name := range a.Config.Ingestion.Exchanges {
		switch name {
		case "binance":
			clients = append(clients, exchange.NewBinance(exchange.BinanceOptions{
				APIKey:       a.Config.Exchanges.Binance.APIKey,
				APISecret:    a.Config.Exchanges.Binance.APISecret,
				ParsingLimit: a.Config.Ingestion.ParsingLimit,
			}, a.Logger))
		case "onchain":
			clients = append(clients, exchange.NewOnchain(exchange.OnchainOptions{
				RPCURL:  a.Config.Exchanges.Onchain.RPCURL,
				Feeds:   a.Config.Exchanges.Onchain.Feeds,
				Timeout: a.Config.Exchanges.Onchain.RequestTimeout,
			}, a.Logger))
		default:
			clients = append(clients, exchange.NewAggregated(exchange.AggregatedOptions{
				Slug:         name,
				BaseURL:      a.Config.Exchanges.Aggregated.BaseURL,
				ParsingLimit: a.Config.Ingestion.ParsingLimit,
				Timeout:      a.Config.Exchanges.Aggregated.RequestTimeout,
				UserAgent:    a.Config.Exchanges.Aggregated.UserAgent,
			}, archiver, a.Logger))
		}
	}
	return clients
}

func (a *App) newDispatcher() *alerting.Dispatcher {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if !a.Config.Alerting.Telegram.Enabled {
		return nil
	}

	cfg := a.Config.Alerting.Telegram
	notifier := alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	return alerting.NewDispatcher(notifier, a.Config.Alerting.MaxAttempts, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// awaitStore verifies store connectivity with a bounded number of
// attempts. Total unreachability at startup is the one fatal condition.
func (a *App) awaitStore(ctx context.Context, store *storage.Store) error {
	attempts := a.Config.Database.StartupAttempts
	if attempts <= 0 {
		attempts = 5
	}
	delay := a.Config.Database.StartupBackoff
	if delay <= 0 {
		delay = 2 * time.Second
	}

	pingTimeout := a.Config.Database.QueryTimeout
	if pingTimeout <= 0 {
		pingTimeout = 15 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancelPing := context.WithTimeout(ctx, pingTimeout)
		lastErr = store.Ping(pingCtx)
		cancelPing()
		if lastErr == nil {
			return nil
		}
		a.Logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("store not reachable yet")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("store unreachable after %d attempts: %w", attempts, lastErr)
}

// Run executes the long-running monitoring service: three supervised
// loops over one shared store.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the monitoring service")
	}
	defer closeStore()

	if err := a.awaitStore(ctx, store); err != nil {
		return err
	}

	ingestor := service.NewIngestor(a.newClients(), store, a.Config.Ingestion.FetchTimeout, a.Config.Database.QueryTimeout, a.Logger)
	reporter := service.NewReporter(service.ReporterOptions{
		ThresholdPct:  a.Config.Reporting.ThresholdPct,
		Interval:      a.Config.Reporting.Interval,
		MaxMessageLen: a.Config.Reporting.MaxMessageLen,
		StoreTimeout:  a.Config.Database.QueryTimeout,
		LockKey:       a.Config.Reporting.AdvisoryLockKey,
	}, store, store, a.newDispatcher(), a.Logger)
	retainer := service.NewRetainer(store, store, a.Config.Retention.Window, a.Config.Database.QueryTimeout, a.Logger)

	ingestSched := scheduler.New(scheduler.Options{
		Name:         "ingestion",
		Interval:     a.Config.Ingestion.Interval,
		AlignToClock: true,
	}, a.Logger)
	reportSched := scheduler.New(scheduler.Options{
		Name:         "reporting",
		Interval:     a.Config.Reporting.Interval,
		AlignToClock: true,
		StartupDelay: 30 * time.Second,
	}, a.Logger)
	retainSched := scheduler.New(scheduler.Options{
		Name:     "retention",
		Interval: a.Config.Retention.CheckInterval,
	}, a.Logger)

	sup := scheduler.NewSupervisor(a.Logger)
	sup.Add("ingestion", func(ctx context.Context) error {
		return ingestSched.Run(ctx, ingestor.Tick)
	})
	sup.Add("reporting", func(ctx context.Context) error {
		return reportSched.Run(ctx, reporter.Tick)
	})
	sup.Add("retention", func(ctx context.Context) error {
		return retainSched.Run(ctx, retainer.Tick)
	})

	a.Logger.Info().
		Strs("exchanges", a.Config.Ingestion.Exchanges).
		Dur("ingestion_interval", a.Config.Ingestion.Interval).
		Dur("reporting_interval", a.Config.Reporting.Interval).
		Dur("retention_window", a.Config.Retention.Window).
		Msg("starting monitoring service")

	err = sup.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical observations.
type ExportOptions struct {
	Exchange  string
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}
