// Package app builds the permit watcher's dependency graph from configuration
// and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/permitwatch/internal/acquire"
	"github.com/JakeFAU/permitwatch/internal/acquire/form"
	"github.com/JakeFAU/permitwatch/internal/acquire/headless"
	"github.com/JakeFAU/permitwatch/internal/api"
	"github.com/JakeFAU/permitwatch/internal/clock/system"
	"github.com/JakeFAU/permitwatch/internal/config"
	"github.com/JakeFAU/permitwatch/internal/extract"
	"github.com/JakeFAU/permitwatch/internal/hash/sha256"
	"github.com/JakeFAU/permitwatch/internal/id/uuid"
	"github.com/JakeFAU/permitwatch/internal/metrics"
	"github.com/JakeFAU/permitwatch/internal/notify"
	"github.com/JakeFAU/permitwatch/internal/notify/webpush"
	"github.com/JakeFAU/permitwatch/internal/permit"
	"github.com/JakeFAU/permitwatch/internal/pipeline"
	"github.com/JakeFAU/permitwatch/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/permitwatch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/permitwatch/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/permitwatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/permitwatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/permitwatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/permitwatch/internal/storage/postgres"
	redisstore "github.com/JakeFAU/permitwatch/internal/storage/redis"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	pool         *pgxpool.Pool
	redis        *goredis.Client
	gcs          *storage.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	headless     *headless.Strategy

	notifier     *notify.Notifier
	orchestrator *pipeline.Orchestrator
	scheduler    *pipeline.Scheduler
	apiServer    *api.Server
}

// Build creates the application's dependencies. Resources opened before a
// failure are released before the error is returned.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies",
		zap.String("entry_url", a.cfg.Source.EntryURL),
		zap.Strings("strategies", a.cfg.Acquire.Strategies),
		zap.String("storage_backend", a.cfg.Storage.Backend),
		zap.String("pubsub_backend", a.cfg.PubSub.Backend))

	clock := system.New()
	ids := uuid.New()

	records, subs, err := a.setupDatabase(ctx)
	if err != nil {
		return err
	}

	seen, err := a.setupSeenStore(ctx)
	if err != nil {
		return err
	}

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	acquirer, err := a.setupAcquirer()
	if err != nil {
		return err
	}

	a.notifier = a.setupNotifier(subs, seen, clock, ids)

	a.orchestrator = pipeline.New(
		pipeline.Config{
			RunTimeout:    a.cfg.RunTimeout(),
			Location:      a.cfg.Location(),
			ArchivePrefix: a.cfg.Storage.Prefix,
			EventTopic:    a.cfg.PubSub.TopicName,
		},
		pipeline.NewStatus(),
		acquirer,
		extract.New(extract.Config{LeaseSearchURL: a.cfg.Source.LeaseSearchURL}),
		records,
		a.notifier,
		blobs,
		sha256.New(),
		publisher,
		clock,
		ids,
		a.logger,
	)
	a.scheduler = pipeline.NewScheduler(a.orchestrator, a.cfg.Interval(), a.cfg.Pipeline.RunOnStart, a.logger)
	a.apiServer = api.NewServer(a.orchestrator, records, a.notifier, clock, a.cfg, a.ready, a.logger)
	return nil
}

func (a *App) setupDatabase(ctx context.Context) (permit.RecordStore, permit.SubscriptionStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, permits and subscriptions are kept in memory")
		return memorystorage.NewPermitStore(), memorystorage.NewSubscriptionStore(), nil
	}
	var err error
	a.pool, err = pgstore.Connect(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init failed: %w", err)
	}
	if a.cfg.DB.Migrate {
		if err := pgstore.Migrate(ctx, a.pool); err != nil {
			return nil, nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.logger.Info("postgres schema applied")
	}
	records, err := pgstore.NewPermitStore(a.pool)
	if err != nil {
		return nil, nil, fmt.Errorf("permit store init failed: %w", err)
	}
	subs, err := pgstore.NewSubscriptionStore(a.pool)
	if err != nil {
		return nil, nil, fmt.Errorf("subscription store init failed: %w", err)
	}
	a.logger.Info("using postgres stores")
	return records, subs, nil
}

func (a *App) setupSeenStore(ctx context.Context) (permit.SeenStore, error) {
	if a.cfg.Redis.Addr != "" {
		var err error
		a.redis, err = redisstore.Connect(ctx, redisstore.ConnectOptions{
			Addr:           a.cfg.Redis.Addr,
			Username:       a.cfg.Redis.Username,
			Password:       a.cfg.Redis.Password,
			DB:             a.cfg.Redis.DB,
			ConnectTimeout: time.Duration(a.cfg.Redis.ConnectTimeoutSeconds) * time.Second,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		seen, err := redisstore.NewSeenStore(a.redis, a.cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("redis seen store init failed: %w", err)
		}
		a.logger.Info("using redis seen store", zap.String("prefix", a.cfg.Redis.KeyPrefix))
		return seen, nil
	}
	if a.pool != nil {
		seen, err := pgstore.NewSeenStore(a.pool)
		if err != nil {
			return nil, fmt.Errorf("postgres seen store init failed: %w", err)
		}
		a.logger.Info("using postgres seen store")
		return seen, nil
	}
	a.logger.Info("using in-memory seen store")
	return memorystorage.NewSeenStore(), nil
}

func (a *App) setupStorage(ctx context.Context) (permit.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		var err error
		a.gcs, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(a.gcs, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving pages to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case config.BackendLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving pages locally", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	case config.BackendMemory:
		a.logger.Info("archiving pages in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("page archiving disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (permit.Publisher, error) {
	switch a.cfg.PubSub.Backend {
	case config.BackendPubSub:
		var err error
		a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.publisher, err = gcppublisher.New(a.pubsubClient)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName))
		return a.publisher, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	default:
		a.logger.Info("event publishing disabled")
		return nil, nil
	}
}

func (a *App) setupAcquirer() (*acquire.Chain, error) {
	detector := acquire.NewDetector(a.cfg.Source.SignInMarkers)
	queryForm := acquire.Form{EntryURL: a.cfg.Source.EntryURL, Counties: a.cfg.Source.Counties}

	strategies := make([]acquire.Strategy, 0, len(a.cfg.Acquire.Strategies))
	for _, name := range a.cfg.Acquire.Strategies {
		switch name {
		case config.StrategyHeadless:
			s, err := headless.New(headless.Config{
				Form:              queryForm,
				UserAgent:         a.cfg.Source.UserAgent,
				NavigationTimeout: a.cfg.NavigationTimeout(),
				MaxPages:          a.cfg.Acquire.MaxPages,
				ExecPath:          a.cfg.Acquire.Headless.ExecPath,
			}, detector, a.logger)
			if err != nil {
				return nil, fmt.Errorf("headless strategy init failed: %w", err)
			}
			a.headless = s
			strategies = append(strategies, s)
		case config.StrategyForm:
			s, err := form.New(form.Config{
				Form:      queryForm,
				UserAgent: a.cfg.Source.UserAgent,
				Timeout:   a.cfg.AcquireTimeout(),
				MaxPages:  a.cfg.Acquire.MaxPages,
			}, detector, a.logger)
			if err != nil {
				return nil, fmt.Errorf("form strategy init failed: %w", err)
			}
			strategies = append(strategies, s)
		default:
			return nil, fmt.Errorf("unknown acquisition strategy %q", name)
		}
	}
	return acquire.NewChain(a.logger, strategies...), nil
}

// setupNotifier disables push delivery, but not subscription management, when
// the VAPID keys are missing or unusable.
func (a *App) setupNotifier(
	subs permit.SubscriptionStore,
	seen permit.SeenStore,
	clock permit.Clock,
	ids permit.IDGenerator,
) *notify.Notifier {
	cfg := notify.Config{
		SeenTTL:        a.cfg.SeenTTL(),
		PruneThreshold: a.cfg.Notify.PruneThreshold,
		Icon:           a.cfg.Notify.Icon,
	}

	var sender notify.Sender
	switch {
	case a.cfg.Notify.VAPIDPublicKey == "" && a.cfg.Notify.VAPIDPrivateKey == "":
		a.logger.Warn("no VAPID keys configured, push notifications disabled")
	default:
		timeout := time.Duration(a.cfg.Notify.TimeoutSeconds) * time.Second
		s, err := webpush.New(webpush.Config{
			PublicKey:  a.cfg.Notify.VAPIDPublicKey,
			PrivateKey: a.cfg.Notify.VAPIDPrivateKey,
			Subscriber: a.cfg.Notify.Subscriber,
			TTL:        time.Duration(a.cfg.Notify.PushTTLSeconds) * time.Second,
			Urgency:    a.cfg.Notify.Urgency,
			Timeout:    timeout,
		}, &http.Client{Timeout: timeout})
		if err != nil {
			if errors.Is(err, webpush.ErrInvalidKeys) {
				a.logger.Warn("VAPID keys are invalid, push notifications disabled", zap.Error(err))
			} else {
				a.logger.Warn("push sender init failed, push notifications disabled", zap.Error(err))
			}
			break
		}
		sender = s
		cfg.PublicKey = s.PublicKey()
		a.logger.Info("push notifications enabled", zap.String("subscriber", a.cfg.Notify.Subscriber))
	}

	pacer := ratelimit.New(ratelimit.Config{RPS: a.cfg.Notify.RatePerSecond, Burst: a.cfg.Notify.Burst})
	return notify.New(cfg, sender, subs, seen, clock, ids, pacer, a.logger)
}

// ready pings the external stores in use.
func (a *App) ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Orchestrator exposes the pipeline for one-shot runs.
func (a *App) Orchestrator() *pipeline.Orchestrator {
	return a.orchestrator
}

// Notifier exposes the push notifier.
func (a *App) Notifier() *notify.Notifier {
	return a.notifier
}

// Run starts the scheduler and the HTTP server and blocks until ctx is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.scheduler.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.scheduler.Stop()
	// Triggered runs still hold the pool, Redis and the browser that Close
	// tears down.
	a.orchestrator.Wait()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every resource Build opened.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
