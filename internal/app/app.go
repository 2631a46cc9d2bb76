package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"coco-alerts/internal/alerting"
	"coco-alerts/internal/cache"
	"coco-alerts/internal/config"
	"coco-alerts/internal/httpapi"
	"coco-alerts/internal/scheduler"
	"coco-alerts/internal/service"
	"coco-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

var errNoDatabase = errors.New("database.dsn not configured")

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errNoDatabase
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

func (a *App) newMailer() alerting.Sender {
	if !a.Config.Email.Enabled {
		return nil
	}
	cfg := a.Config.Email
	return alerting.NewEmailSender(alerting.EmailOptions{
		APIURL:          cfg.APIURL,
		APIKey:          cfg.APIKey,
		From:            cfg.From,
		Timeout:         cfg.Timeout,
		RatePerSecond:   cfg.RatePerSecond,
		Burst:           cfg.Burst,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
	}, a.Logger)
}

// newService wires the monitoring service against Postgres and, when
// configured, the shared Redis snapshot cache. The returned closer releases
// every opened connection.
func (a *App) newService(ctx context.Context, sched *scheduler.Scheduler) (*service.Service, *storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	closers := []func(){closeStore}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if a.Config.Database.AutoMigrate {
		applied, err := store.Migrate(ctx)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		a.Logger.Info().Strs("migrations", applied).Msg("database migrated")
	}

	var snapshots service.SnapshotSource = store
	if a.Config.Redis.Addr != "" {
		rdb, err := cache.Open(ctx, a.Config.Redis.Addr, a.Config.Redis.Password, a.Config.Redis.DB)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("redis unavailable; snapshot cache disabled")
		} else {
			closers = append(closers, func() { _ = rdb.Close() })
			snapshots = cache.NewSnapshotCache(rdb, store, a.Config.Redis.SnapshotTTL, a.Config.Redis.KeyPrefix, a.Logger)
		}
	}

	deps := service.Deps{
		Alerts:      store,
		Snapshots:   snapshots,
		Activity:    store,
		Preferences: store,
		Reports:     store,
		Log:         store,
		Mailer:      a.newMailer(),
		Locker:      store,
	}
	return service.New(a.Config, sched, deps, a.Logger), store, closeAll, nil
}

// Run executes the long-running monitoring service: the in-process scheduler
// and, when enabled, the HTTP trigger endpoints.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	svc, store, closeAll, err := a.newService(ctx, sched)
	if err != nil {
		return err
	}
	defer closeAll()

	errCh := make(chan error, 2)

	var srv *http.Server
	if a.Config.Server.Enabled {
		srv = &http.Server{
			Addr: a.Config.Server.Addr,
			Handler: httpapi.NewRouter(svc, httpapi.Options{
				CronSecret: a.Config.Server.CronSecret,
				Ready:      store.Ping,
			}, a.Logger),
			ReadTimeout:  a.Config.Server.ReadTimeout,
			WriteTimeout: a.Config.Server.WriteTimeout,
		}
		go func() {
			a.Logger.Info().Str("addr", srv.Addr).Msg("http server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	if a.Config.Scheduler.Enabled {
		go func() {
			a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting monitoring scheduler")
			if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.Logger.Error().Err(runErr).Msg("service terminated with error")
	}
	cancel()

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("http server shutdown")
		}
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return runErr
}

func (a *App) shutdownTimeout() time.Duration {
	if a.Config.Server.ShutdownTimeout > 0 {
		return a.Config.Server.ShutdownTimeout
	}
	return 15 * time.Second
}

// ExportOptions hold parameters for exporting notification volume.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	UserID string
	CoinID string
}

// AskOptions configure the advisor command.
type AskOptions struct {
	UserID   string
	Question string
}
