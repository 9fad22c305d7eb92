package app

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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"stock-price-alerts/internal/alerting"
	"stock-price-alerts/internal/api"
	"stock-price-alerts/internal/cache"
	"stock-price-alerts/internal/config"
	"stock-price-alerts/internal/engine"
	"stock-price-alerts/internal/fetcher"
	"stock-price-alerts/internal/hours"
	"stock-price-alerts/internal/logging"
	"stock-price-alerts/internal/metrics"
	"stock-price-alerts/internal/quote"
	"stock-price-alerts/internal/scheduler"
	"stock-price-alerts/internal/service"
	"stock-price-alerts/internal/state"
	"stock-price-alerts/internal/storage"
	"stock-price-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Live   *config.Live
	Logger zerolog.Logger
	Out    io.Writer

	base zerolog.Logger
	repo storage.Repository
}

// NewApp constructs a new application handle. live may be nil, in which
// case runtime settings are fixed at the loaded values.
func NewApp(cfg *config.Config, live *config.Live, logger zerolog.Logger) *App {
	if live == nil {
		live = config.NewLive(cfg.Runtime())
	}
	return &App{
		Config: cfg,
		Live:   live,
		Logger: logging.Component(logger, "app"),
		base:   logger,
		Out:    os.Stdout,
	}
}

// UseRepository makes every command share repo instead of opening storage
// from configuration.
func (a *App) UseRepository(repo storage.Repository) {
	a.repo = repo
}

func (a *App) openRepository(ctx context.Context) (storage.Repository, func(), error) {
	if a.repo != nil {
		return a.repo, func() {}, nil
	}

	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory storage")
		repo := storage.NewMemory()
		return repo, repo.Close, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	return store, store.Close, nil
}

// components is the wired object graph shared by run, evaluate and quote.
type components struct {
	repo        storage.Repository
	metrics     *metrics.Metrics
	dispatcher  *alerting.Dispatcher
	broadcaster *alerting.Broadcaster
	pipeline    *quote.Pipeline
	states      *state.Buffered
	service     *service.Service
	redis       redis.UniversalClient
	sweepers    []scheduler.Sweeper
	closeRepo   func()
}

func (c *components) close() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.closeRepo != nil {
		c.closeRepo()
	}
}

func (a *App) build(ctx context.Context, sched *scheduler.Scheduler) (*components, error) {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}
	c := &components{repo: repo, closeRepo: closeRepo, metrics: metrics.New()}

	quoteCache, marks, err := a.newCaches(ctx, c)
	if err != nil {
		c.close()
		return nil, err
	}

	c.dispatcher = a.newDispatcher(c.metrics)
	c.broadcaster = alerting.NewBroadcaster(alerting.BroadcastOptions{
		Marks:      marks,
		Throttle:   a.Config.Quotes.FailureNotifyThrottle,
		Recipients: repo,
		Dispatcher: c.dispatcher,
		Observer:   c.metrics,
	}, a.base)

	c.pipeline = a.newPipeline(repo, quoteCache, c.broadcaster, c.metrics)
	c.states = state.NewBuffered(repo, a.Config.State.FlushInterval == 0, a.base)

	c.service = service.New(service.Options{
		Alerts:           repo,
		Quotes:           c.pipeline,
		States:           c.states,
		Dispatcher:       c.dispatcher,
		Locker:           repo,
		LockKey:          a.Config.Scheduler.AdvisoryLockKey,
		Policy:           a.policy,
		FetchConcurrency: a.Config.Alerting.FetchConcurrency,
		Enabled:          a.Config.Alerting.Enabled,
		Observer:         c.metrics,
	}, sched, a.base)

	return c, nil
}

func (a *App) policy() engine.Policy {
	rt := a.Live.Load()
	return engine.NewPolicy(rt.Cooldown, rt.RearmPct)
}

func (a *App) newCaches(ctx context.Context, c *components) (cache.Store[quote.Record], cache.Store[bool], error) {
	retention := a.Config.Cache.StaleRetention

	if strings.EqualFold(a.Config.Cache.Backend, "redis") {
		rc := a.Config.Cache.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		c.redis = client

		quotes := cache.NewRedis[quote.Record](client, rc.KeyPrefix+":quote", retention, a.base)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := quotes.Ping(pingCtx); err != nil {
			return nil, nil, fmt.Errorf("connect redis cache at %s: %w", rc.Addr, err)
		}
		return quotes, cache.NewRedis[bool](client, rc.KeyPrefix+":failure-notified", 0, a.base), nil
	}

	quotes := cache.NewMemory[quote.Record](cache.WithStaleRetention[quote.Record](retention))
	marks := cache.NewMemory[bool]()
	c.sweepers = append(c.sweepers, quotes, marks)
	return quotes, marks, nil
}

func (a *App) newDispatcher(observer alerting.Observer) *alerting.Dispatcher {
	n := a.Config.Notifications
	senders := map[string]alerting.Sender{
		alerting.ChannelLog: alerting.NewLogSender(a.base),
	}
	if n.Expo.Enabled {
		senders[alerting.ChannelExpo] = alerting.NewExpoSender(n.Expo.APIBase, n.Expo.AccessToken, n.Timeout, a.base)
	}
	if n.Telegram.Enabled {
		senders[alerting.ChannelTelegram] = alerting.NewTelegramSender(n.Telegram.BotToken, n.Telegram.APIBase, n.Timeout, a.base)
	}

	defaultChannel := n.DefaultChannel
	if _, ok := senders[strings.ToLower(defaultChannel)]; !ok {
		a.Logger.Warn().Str("channel", defaultChannel).Msg("default notification channel not enabled; falling back to log")
		defaultChannel = alerting.ChannelLog
	}

	return alerting.NewDispatcher(alerting.DispatcherOptions{
		Senders:        senders,
		DefaultChannel: defaultChannel,
		Concurrency:    a.Config.Alerting.DispatchConcurrency,
		Observer:       observer,
	}, a.base)
}

func (a *App) newProvider() quote.Provider {
	p := a.Config.Provider
	ua := p.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	return fetcher.NewHTTPProvider(fetcher.ProviderOptions{
		BaseURL:            p.BaseURL,
		APIKey:             p.APIKey,
		Timeout:            p.RequestTimeout,
		RateLimitPerMinute: p.RateLimitPerMinute,
		UserAgent:          ua,
	}, a.base)
}

func (a *App) newPipeline(store quote.Store, quoteCache cache.Store[quote.Record], notifier quote.FailureNotifier, observer quote.Observer) *quote.Pipeline {
	gate := hours.NewGate(func() hours.Window {
		oh := a.Live.Load().OperatingHours
		return hours.Window{Enabled: oh.Enabled, StartHour: oh.StartHour, EndHour: oh.EndHour, Timezone: oh.Timezone}
	}, a.base)

	return quote.NewPipeline(quote.Options{
		Cache:    quoteCache,
		Store:    store,
		Provider: a.newProvider(),
		Gate:     gate,
		Notifier: notifier,
		Observer: observer,
		Classify: fetcher.Classify,
		Settings: func() quote.Settings {
			rt := a.Live.Load()
			return quote.Settings{
				PollingInterval:   rt.PollingInterval,
				CacheGrace:        rt.CacheGrace,
				FailureSimulation: rt.FailureSimulation,
			}
		},
		ProviderTimeout: a.Config.Provider.RequestTimeout,
	}, a.base)
}

// Run executes the long-running alert service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := scheduler.New(scheduler.Options{
		Interval:       a.Config.Alerting.EvaluationInterval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.base)
	if err != nil {
		return err
	}

	c, err := a.build(ctx, sched)
	if err != nil {
		return err
	}
	defer c.close()

	housekeeping, err := scheduler.NewHousekeeping(scheduler.HousekeepingOptions{
		Flusher:       c.states,
		FlushInterval: a.Config.State.FlushInterval,
		Pruner:        c.repo,
		Retention:     a.Config.Quotes.HistoryRetention,
		PruneAt:       a.Config.Scheduler.PruneAt,
		Sweepers:      c.sweepers,
		SweepInterval: a.Config.Cache.SweepInterval,
		OnFlush:       func(pending int) { c.metrics.PendingStates.Set(float64(pending)) },
	}, a.base)
	if err != nil {
		return err
	}

	c.broadcaster.Start(ctx)
	housekeeping.Start()

	var server *api.Server
	if a.Config.Server.Enabled {
		server = api.NewServer(api.Options{
			Addr:    a.Config.Server.Addr,
			Quotes:  c.pipeline,
			Alerts:  c.repo,
			States:  c.states,
			Metrics: c.metrics.Handler(),
			Ready:   a.readiness(c),
		}, a.base)
	}

	var wg conc.WaitGroup
	serverErr := make(chan error, 1)
	if server != nil {
		wg.Go(func() {
			if err := server.ListenAndServe(); err != nil {
				serverErr <- err
				cancel()
			}
		})
	}

	a.Logger.Info().Str("version", version.Version).
		Dur("evaluation_interval", a.Config.Alerting.EvaluationInterval).
		Strs("channels", c.dispatcher.Channels()).
		Msg("starting alert service")
	runErr := c.service.Run(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancelShutdown()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown failed")
		}
	}
	wg.Wait()
	housekeeping.Stop()

	if err := c.states.Close(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("final state flush failed")
	}
	if err := c.broadcaster.Close(shutdownCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("failure broadcasts not drained")
	}

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	default:
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.Logger.Error().Err(runErr).Msg("service terminated with error")
		return runErr
	}

	a.Logger.Info().Msg("alert service stopped")
	return nil
}

func (a *App) readiness(c *components) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if _, err := c.repo.ListActive(ctx); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		if c.redis != nil {
			if err := c.redis.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}

// ExportOptions hold parameters for exporting quote history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command. With Alerts set the alert
// definitions and their notification state are listed instead of quotes.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// SimulateOptions configure a simulated evaluation.
type SimulateOptions struct {
	Symbol   string
	Price    string
	Dispatch bool
}
