package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vadim/neo-autopost/internal/config"
	httpcontroller "github.com/vadim/neo-autopost/internal/controller/http"
	"github.com/vadim/neo-autopost/internal/database"
	draftservice "github.com/vadim/neo-autopost/internal/domain/draft/service"
	"github.com/vadim/neo-autopost/internal/domain/post/dao"
	"github.com/vadim/neo-autopost/internal/domain/post/entity"
	"github.com/vadim/neo-autopost/internal/domain/post/planner"
	"github.com/vadim/neo-autopost/internal/domain/post/policy"
	"github.com/vadim/neo-autopost/internal/domain/post/repost"
	"github.com/vadim/neo-autopost/internal/domain/post/scheduler"
	"github.com/vadim/neo-autopost/internal/eventbus"
	"github.com/vadim/neo-autopost/internal/httpx/response"
	"github.com/vadim/neo-autopost/internal/httpx/upstream/graph"
	"github.com/vadim/neo-autopost/internal/httpx/upstream/retry"
	"github.com/vadim/neo-autopost/internal/ingest"
	"github.com/vadim/neo-autopost/internal/metrics"
	"github.com/vadim/neo-autopost/internal/storage"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	// Infrastructure
	pool    *pgxpool.Pool
	storage *storage.S3Storage
	bus     *eventbus.MemBus

	// Domain
	store    *dao.PostMemory
	planner  *planner.Planner
	policy   *policy.Policy
	reposts  *repost.Engine
	drafts   *draftservice.Service
	ingester *ingest.Ingester
	watcher  *ingest.Watcher
	exporter *dao.ExportPostgres

	// Periodic loops
	publishLoop *scheduler.Scheduler
	exportLoop  *scheduler.Scheduler
	cron        *scheduler.CronScheduler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Initialize router with middleware
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(30 * time.Second))

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}

	// Initialize infrastructure
	if err := app.initInfrastructure(ctx); err != nil {
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	// Initialize domain layers
	if err := app.initDomains(ctx); err != nil {
		return nil, fmt.Errorf("initializing domains: %w", err)
	}

	// Register routes
	if err := app.registerRoutes(); err != nil {
		return nil, fmt.Errorf("registering routes: %w", err)
	}

	// Initialize HTTP server
	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Initialize schedulers
	if err := app.initSchedulers(); err != nil {
		return nil, fmt.Errorf("initializing schedulers: %w", err)
	}

	return app, nil
}

// initInfrastructure initializes infrastructure components (metrics, bus, S3, Postgres)
func (a *App) initInfrastructure(ctx context.Context) error {
	metrics.MustRegister(prometheus.DefaultRegisterer)
	a.bus = eventbus.New(
		eventbus.WithLogger(a.logger.With("component", "eventbus")),
		eventbus.WithDeliveryTimeout(time.Second),
	)

	if a.cfg.S3.Enabled {
		s3, err := storage.NewS3Storage(storage.S3Config{
			Endpoint:        a.cfg.S3.Endpoint,
			AccessKeyID:     a.cfg.S3.AccessKeyID,
			SecretAccessKey: a.cfg.S3.SecretAccessKey,
			Bucket:          a.cfg.S3.Bucket,
			Region:          a.cfg.S3.Region,
			Prefix:          a.cfg.S3.Prefix,
			PublicURL:       a.cfg.S3.PublicURL,
		})
		if err != nil {
			return fmt.Errorf("creating s3 storage: %w", err)
		}
		a.storage = s3
	}

	if a.cfg.Database.PostgresDSN != "" {
		pool, err := database.NewPostgresPool(ctx, a.cfg.Database.PostgresDSN, a.cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		a.pool = pool
	}

	return nil
}

// initDomains initializes domain layers (DAO, Service, Policy)
func (a *App) initDomains(ctx context.Context) error {
	scheduleCfg, err := a.cfg.Schedule.ScheduleConfig()
	if err != nil {
		return fmt.Errorf("schedule config: %w", err)
	}

	a.drafts = draftservice.New(
		draftservice.WithDefaultHashtags(a.cfg.Caption.Hashtags),
		draftservice.WithLogger(a.logger.With("component", "drafts")),
	)

	a.store = dao.NewPostMemory(
		dao.WithCaptionProvider(a.drafts),
		dao.WithDefaultTargets(a.defaultTargets()),
		dao.WithScheduleConfig(scheduleCfg),
	)

	a.planner = planner.New(a.store, a.logger.With("component", "planner"), nil)

	a.policy = policy.New(a.store, a.planner, a.publishers(), a.bus,
		policy.WithAutorun(a.cfg.Publisher.Autorun),
		policy.WithLogger(a.logger.With("component", "publisher")),
		policy.WithConfigListener(a.onScheduleConfig),
	)

	a.reposts = repost.New(a.store, a.planner, a.bus, a.logger.With("component", "repost"), nil)

	var ingestOpts []ingest.Option
	if a.storage != nil {
		ingestOpts = append(ingestOpts, ingest.WithUploader(a.storage))
	}
	ingestOpts = append(ingestOpts, ingest.WithLogger(a.logger.With("component", "ingest")))
	a.ingester = ingest.NewIngester(a.policy, a.cfg.Ingest.MediaBaseURL, ingestOpts...)

	if a.cfg.Ingest.Enabled {
		a.watcher = ingest.NewWatcher(a.cfg.Ingest.Dir, a.ingester, a.policy,
			ingest.WithDebounce(a.cfg.Ingest.Debounce),
			ingest.WithWatcherLogger(a.logger.With("component", "inbox")),
		)
	}

	if a.pool != nil {
		a.exporter = dao.NewExportPostgres(a.pool, a.store)
		if err := a.exporter.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	return nil
}

// defaultTargets builds the platform targets every new post gets
func (a *App) defaultTargets() []entity.PlatformTarget {
	var targets []entity.PlatformTarget
	if a.cfg.Instagram.Enabled {
		targets = append(targets, a.cfg.Instagram.Target(entity.PlatformInstagram))
	}
	if a.cfg.Threads.Enabled {
		targets = append(targets, a.cfg.Threads.Target(entity.PlatformThreads))
	}
	return targets
}

// publishers builds one Graph API publisher per platform, or mocks
func (a *App) publishers() map[entity.Platform]policy.Publisher {
	pc := a.cfg.Publisher
	policies := graph.Policies{
		Create: retry.Policy{
			MaxAttempts: pc.CreateAttempts,
			Backoff:     retry.Exponential{Base: pc.CreateBackoff, Max: pc.MaxBackoff},
		},
		AwaitReady: retry.Policy{
			MaxAttempts: pc.PollAttempts,
			Backoff:     retry.Constant(pc.PollInterval),
		},
		Finalize: retry.Policy{
			MaxAttempts: pc.FinalizeAttempts,
			Backoff:     retry.Exponential{Base: pc.FinalizeBackoff, Max: pc.MaxBackoff},
		},
	}
	observer := func(platform entity.Platform, step graph.Step, attempt int, err error) {
		metrics.RemoteStepFailuresTotal.WithLabelValues(string(platform), string(step)).Inc()
	}

	products := map[entity.Platform]struct {
		product graph.Product
		cfg     config.Platform
	}{
		entity.PlatformInstagram: {graph.Instagram, a.cfg.Instagram},
		entity.PlatformThreads:   {graph.Threads, a.cfg.Threads},
	}

	out := make(map[entity.Platform]policy.Publisher, len(products))
	for platform, p := range products {
		var api graph.API
		if pc.Mock {
			api = graph.NewMock()
		} else {
			api = graph.New(p.product,
				graph.WithBaseURL(p.cfg.BaseURL),
				graph.WithAPIVersion(p.cfg.APIVersion),
				graph.WithRateLimit(pc.RateLimit, pc.RateBurst),
			)
		}
		out[platform] = graph.NewPublisher(platform, api,
			graph.WithPolicies(policies),
			graph.WithStepTimeout(pc.StepTimeout),
			graph.WithLogger(a.logger.With("component", "graph", "platform", platform)),
			graph.WithAttemptObserver(observer),
		)
	}
	if pc.Mock {
		a.logger.Warn("publisher mock mode: nothing is sent to the platforms")
	}
	return out
}

// initSchedulers builds the publish, repost and export loops
func (a *App) initSchedulers() error {
	if !a.cfg.Scheduler.Enabled {
		return nil
	}

	a.publishLoop = scheduler.New("publish", func(ctx context.Context) error {
		_, err := a.policy.ProcessReadyPosts(ctx)
		return err
	}, a.cfg.Scheduler.Interval, a.logger.With("component", "scheduler"), scheduler.WithKicks(a.policy.Kicks()))

	scheduleCfg := a.store.Config(context.Background())
	a.cron = scheduler.NewCron(a.logger.With("component", "cron"), scheduleCfg.Location())
	if err := a.cron.Add("repost", a.cfg.Scheduler.RepostSchedule, func(ctx context.Context) error {
		_, err := a.reposts.AutoRepostTick(ctx)
		return err
	}); err != nil {
		return err
	}

	if a.exporter != nil {
		a.exportLoop = scheduler.New("export", func(ctx context.Context) error {
			defer metrics.ObserveLoop("export", time.Now())
			n, err := a.exporter.Export(ctx)
			if err != nil {
				return err
			}
			a.logger.Debug("snapshot exported", "posts", n)
			return nil
		}, a.cfg.Scheduler.ExportInterval, a.logger.With("component", "scheduler"))
	}

	return nil
}

// onScheduleConfig keeps the cron timezone in step with the schedule config
func (a *App) onScheduleConfig(cfg entity.ScheduleConfig) {
	if a.cron == nil {
		return
	}
	if err := a.cron.SetLocation(cfg.Location()); err != nil {
		a.logger.Error("updating cron timezone failed", "timezone", cfg.Timezone, "error", err)
	}
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() error {
	// Health check
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)
	a.router.Handle("/metrics", metrics.Handler())

	// Swagger UI documentation
	swaggerHandler, err := httpcontroller.NewSwaggerHandler("Neo-Autopost API", OpenAPISpec)
	if err != nil {
		return err
	}
	swaggerHandler.RegisterRoutes(a.router)

	// API v1
	a.router.Route("/api/v1", func(r chi.Router) {
		httpcontroller.NewPostHandler(a.policy, a.reposts).RegisterRoutes(r)
		httpcontroller.NewScheduleHandler(a.policy).RegisterRoutes(r)
		httpcontroller.NewDraftHandler(a.drafts).RegisterRoutes(r)
		httpcontroller.NewMediaHandler(a.ingester).RegisterRoutes(r)
	})

	return nil
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

// readyHandler checks the optional backends
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			response.ServiceUnavailable(w, "database unavailable")
			return
		}
	}
	if a.storage != nil {
		if err := a.storage.Ping(ctx); err != nil {
			response.ServiceUnavailable(w, "storage unavailable")
			return
		}
	}
	response.OK(w, map[string]string{"status": "ready"})
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// Start background workers
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.drafts.Run(runCtx, a.bus)
	}()

	if a.watcher != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.watcher.Run(runCtx); err != nil {
				a.logger.Error("inbox watcher failed", "error", err)
			}
		}()
	}

	if a.publishLoop != nil {
		a.publishLoop.Start(runCtx)
	}
	if a.cron != nil {
		a.cron.Start(runCtx)
	}
	if a.exportLoop != nil {
		a.exportLoop.Start(runCtx)
	}

	// Channel to receive errors from server
	errCh := make(chan error, 1)

	// Start HTTP server in goroutine
	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	// Stop schedulers first. Stop cancels an in-flight pass; its posts still land in a terminal status.
	if a.publishLoop != nil {
		a.publishLoop.Stop()
	}
	if a.cron != nil {
		a.cron.Stop()
	}

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var shutdownErr error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("shutting down HTTP server: %w", err)
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	// Final export so the snapshot reflects the last state
	if a.exportLoop != nil {
		a.exportLoop.Stop()
		if _, err := a.exporter.Export(shutdownCtx); err != nil {
			a.logger.Error("final snapshot export failed", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}

	a.logger.Info("shutdown complete")
	return shutdownErr
}
