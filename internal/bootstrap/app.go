package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"position_trader/internal/alert"
	"position_trader/internal/auth"
	"position_trader/internal/config"
	"position_trader/internal/core"
	"position_trader/internal/exchange"
	"position_trader/internal/infrastructure/health"
	"position_trader/internal/infrastructure/metrics"
	"position_trader/internal/infrastructure/server"
	"position_trader/internal/journal"
	"position_trader/internal/trading/monitor"
	"position_trader/internal/trading/order"
	"position_trader/internal/trading/position"
	"position_trader/internal/trading/product"
	"position_trader/internal/trading/strategy"
	"position_trader/pkg/concurrency"
	pkghttp "position_trader/pkg/http"
	"position_trader/pkg/liveserver"
	"position_trader/pkg/logging"
	"position_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// App holds the wired components of the trader
type App struct {
	Cfg       *Config
	Logger    *logging.ZapLogger
	Telemetry *telemetry.Telemetry

	Exchange  core.IExchange
	Products  *product.Repository
	Ticks     core.ITickSource
	OrderBook *monitor.OrderBook
	Manager   *position.Manager
	Health    *health.HealthManager
	Alerts    *alert.AlertManager
	Journal   journal.Journal
	Pool      *concurrency.WorkerPool
	Live      *liveserver.Server

	runners []Runner
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

// NewApp loads configuration and wires every component. Reference data is
// loaded here, so an unreachable exchange fails startup.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, err
	}

	var telOpts []telemetry.Option
	if cfg.Telemetry.StdoutTraces {
		telOpts = append(telOpts, telemetry.WithTraceWriter(os.Stdout))
	}
	tel, err := telemetry.Setup(cfg.App.ServiceName, telOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	app := &App{Cfg: cfg, Logger: logger, Telemetry: tel, Health: health.NewHealthManager(logger)}
	if err := app.wire(); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire() error {
	cfg := a.Cfg

	positionConfigs, err := cfg.PositionConfigs()
	if err != nil {
		return err
	}
	productIDs := cfg.ProductIDs()

	venue, err := exchange.NewVenue(cfg, a.Logger)
	if err != nil {
		return fmt.Errorf("exchange: %w", err)
	}
	a.Exchange = venue.Exchange
	a.Ticks = venue.Ticks

	a.Products = product.NewRepository(a.Logger)
	loadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Products.Load(loadCtx, a.Exchange, productIDs); err != nil {
		return fmt.Errorf("reference data: %w", err)
	}

	a.Live = liveserver.NewServer(liveserver.NewHub(a.Logger), liveserver.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxConnections: cfg.Server.Live.MaxConnections,
		RateLimit:      cfg.Server.Live.RateLimit,
		RateBurst:      cfg.Server.Live.RateBurst,
		Production:     cfg.Server.Live.Production,
	}, a.Logger)
	a.runners = append(a.runners, a.Live)

	if venue.Codec != nil {
		tc := monitor.NewTickClient(venue.WebsocketURL, venue.Codec, productIDs, monitor.TickConfig{
			CheckInterval:    cfg.Stream.CheckInterval(),
			Staleness:        cfg.Stream.Staleness(),
			ReconnectWait:    cfg.Stream.ReconnectWait(),
			SubscriberBuffer: cfg.Stream.SubscriberBuffer,
		}, a.Logger)
		a.Ticks = tc
		a.Health.Register("tick_client", tc.CheckHealth)
		ticks := tc.Subscribe()
		a.runners = append(a.runners, tc, runnerFunc(func(ctx context.Context) error {
			return a.Live.StreamTicks(ctx, ticks)
		}))
	}

	a.OrderBook = monitor.NewOrderBook(a.Exchange, cfg.Manager.OrderBookInterval(), a.Logger)
	a.Health.Register("order_book", a.OrderBook.CheckHealth)
	a.runners = append(a.runners, a.OrderBook)

	funds := make(map[string]decimal.Decimal, len(positionConfigs))
	for _, pc := range positionConfigs {
		funds[pc.ProductID] = pc.Funds
	}
	registry := strategy.NewRegistry(
		strategy.AlwaysOpen{},
		strategy.NeverOpen{},
		strategy.NewDayRange(a.Exchange, a.Products, a.Ticks, funds, cfg.Strategy.DayRange.BandDivisor, a.Logger),
	)
	strategies, err := registry.Resolve(positionConfigs)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	a.Journal = journal.NewNopJournal()
	if cfg.Journal.Path != "" {
		j, err := journal.NewSQLiteJournal(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		a.Journal = j
	}

	a.Pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "positions",
		MaxWorkers:  cfg.Concurrency.PositionPoolSize,
		MaxCapacity: cfg.Concurrency.PositionPoolBuffer,
		NonBlocking: true,
	}, a.Logger)

	executor := order.NewExecutor(a.Exchange, order.Config{
		MaxRetries: cfg.Execution.MaxRetries,
		BaseDelay:  cfg.Execution.BaseDelay(),
		MaxDelay:   cfg.Execution.MaxDelay(),
	}, a.Logger)

	a.Alerts = newAlertManager(cfg.Alerts, a.Logger)

	a.Manager, err = position.NewManager(a.Exchange, a.Products, executor, positionConfigs, strategies, a.Pool, a.Logger,
		position.WithInterval(cfg.Manager.Interval()),
		position.WithJournal(a.Journal),
		position.WithListener(a.Alerts.OnTransition),
		position.WithListener(func(positionID, productID string, tr position.Transition) {
			a.Live.PublishTransition(liveserver.TransitionEvent{
				PositionID: positionID,
				ProductID:  productID,
				From:       string(tr.From),
				To:         string(tr.To),
				At:         tr.At,
			})
		}),
	)
	if err != nil {
		return fmt.Errorf("position manager: %w", err)
	}
	a.runners = append(a.runners, a.Manager)

	api := server.NewServer(server.Deps{
		Positions: a.Manager,
		Products:  a.Products,
		Ticks:     a.Ticks,
		Exchange:  a.Exchange,
		OrderBook: a.OrderBook,
		Health:    a.Health,
		Metrics:   telemetry.GetGlobalMetrics(),
		Auth:      newAPIKeyValidator(cfg.Server, a.Logger),
		Stream:    a.Live.Handler(),
	}, cfg.Server.Port, cfg.Server.AllowedOrigins, a.Logger)
	a.runners = append(a.runners, api)

	if cfg.Telemetry.EnableMetrics {
		a.runners = append(a.runners, metrics.NewServer(cfg.Telemetry.MetricsPort, a.Logger))
	}
	return nil
}

func newAPIKeyValidator(cfg config.ServerConfig, logger core.ILogger) *auth.APIKeyValidator {
	keys := make([]string, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, string(k))
	}
	v := auth.NewAPIKeyValidator(keys, cfg.RateLimit, logger)
	if !v.Enabled() {
		logger.Warn("API keys not configured, REST API is unauthenticated")
	}
	return v
}

func newAlertManager(cfg config.AlertsConfig, logger core.ILogger) *alert.AlertManager {
	am := alert.NewAlertManager(logger)
	if cfg.SlackWebhookURL != "" {
		am.AddChannel(alert.NewSlackChannel(string(cfg.SlackWebhookURL), pkghttp.DefaultOptions()))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		am.AddChannel(alert.NewTelegramChannel(string(cfg.TelegramBotToken), cfg.TelegramChatID, pkghttp.DefaultOptions()))
	}
	return am
}

// Run starts every runner and blocks until a signal arrives or one fails.
// ready, when set, is called once all runners have been launched.
func (a *App) Run(ready func()) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.RunContext(ctx, ready)
}

// RunContext is Run with a caller-controlled context
func (a *App) RunContext(ctx context.Context, ready func()) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("starting application", "exchange", a.Exchange.GetName(), "runners", len(a.runners))

	for _, runner := range a.runners {
		g.Go(func() error {
			return runner.Run(ctx)
		})
	}
	if ready != nil {
		ready()
	}

	err := g.Wait()

	// in-flight lifecycles stop polling once the manager context is canceled
	a.Manager.Stop()
	a.Alerts.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("application shut down gracefully")
	return nil
}

// Close releases the pool, journal and telemetry providers
func (a *App) Close() error {
	var errs []error
	if a.Pool != nil {
		a.Pool.Stop()
	}
	if a.Journal != nil {
		if err := a.Journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}
