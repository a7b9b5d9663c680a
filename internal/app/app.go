// Package app wires configuration, infrastructure and handlers into the
// running courier service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/courier/config"
	"github.com/Ramsey-B/courier/internal/handlers"
	"github.com/Ramsey-B/courier/pkg/admin"
	"github.com/Ramsey-B/courier/pkg/database"
	"github.com/Ramsey-B/courier/pkg/email"
	"github.com/Ramsey-B/courier/pkg/fanout"
	"github.com/Ramsey-B/courier/pkg/health"
	"github.com/Ramsey-B/courier/pkg/kafka"
	"github.com/Ramsey-B/courier/pkg/lifecycle"
	"github.com/Ramsey-B/courier/pkg/middleware"
	"github.com/Ramsey-B/courier/pkg/pricing"
	"github.com/Ramsey-B/courier/pkg/realtime"
	"github.com/Ramsey-B/courier/pkg/redis"
	"github.com/Ramsey-B/courier/pkg/repositories"
	"github.com/Ramsey-B/courier/pkg/repositories/memory"
	"github.com/Ramsey-B/courier/pkg/resolution"
	"github.com/Ramsey-B/courier/pkg/startup"
	"github.com/Ramsey-B/courier/pkg/tracing"
	"github.com/Ramsey-B/courier/pkg/tracing/exporters"
)

// NewLogger builds the zap backed logger. Pretty logs use the development
// encoder.
func NewLogger(cfg *config.Config) (ectologger.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}
	zapCfg.Level = level

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build zap logger")
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

// App owns the infrastructure clients. They are opened by the startup
// manager and read by build once every dependency is up.
type App struct {
	cfg     *config.Config
	logger  ectologger.Logger
	startup *startup.Startup
	health  *health.Checker

	db       database.DB
	redis    *redis.Client
	producer *kafka.Producer
}

func New(cfg *config.Config, logger ectologger.Logger) *App {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
		health:  health.NewChecker(cfg.Version),
	}
	a.registerDependencies()
	return a
}

func (a *App) registerDependencies() {
	if a.cfg.StoreDriver == config.StoreDriverPostgres {
		a.startup.AddDependency(&startup.Func{
			Name: "postgres",
			OnStart: func(ctx context.Context) error {
				db, err := database.Open(ctx, a.cfg.DatabaseDSN(), a.cfg.DatabaseMaxOpenConns, a.cfg.DatabaseMaxIdleConns, a.logger)
				if err != nil {
					return err
				}
				a.db = db
				return nil
			},
			OnStop: func(context.Context) error {
				if a.db == nil {
					return nil
				}
				return a.db.Close()
			},
		})
		a.startup.AddDependency(&startup.Func{
			Name:     "migrations",
			Requires: []string{"postgres"},
			OnStart: func(context.Context) error {
				return a.migrationService().Migrate(a.db)
			},
		})
	}

	if a.cfg.RedisEnabled {
		a.startup.AddDependency(&startup.Func{
			Name: "redis",
			OnStart: func(context.Context) error {
				client, err := redis.NewClient(redis.Config{
					Host:     a.cfg.RedisHost,
					Port:     a.cfg.RedisPort,
					Password: a.cfg.RedisPassword,
					DB:       a.cfg.RedisDB,
				}, a.logger)
				if err != nil {
					return err
				}
				a.redis = client
				return nil
			},
			OnStop: func(context.Context) error {
				if a.redis == nil {
					return nil
				}
				return a.redis.Close()
			},
		})
	}

	if a.cfg.KafkaEnabled {
		a.startup.AddDependency(&startup.Func{
			Name: "kafka",
			OnStart: func(context.Context) error {
				brokers := kafka.ParseBrokers(a.cfg.KafkaBrokers)
				if len(brokers) == 0 {
					return fmt.Errorf("no kafka brokers configured")
				}
				a.producer = kafka.NewProducer(kafka.Config{
					Brokers:     brokers,
					EventsTopic: a.cfg.KafkaEventsTopic,
					EmailTopic:  a.cfg.KafkaEmailTopic,
				}, a.logger)
				return nil
			},
			OnStop: func(context.Context) error {
				if a.producer == nil {
					return nil
				}
				return a.producer.Close()
			},
		})
	}
}

func (a *App) migrationService() *database.MigrationService {
	return database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             a.cfg.DatabaseMigrationVersion,
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
}

// Migrate opens the database and applies migrations without serving.
func Migrate(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	db, err := database.Open(ctx, cfg.DatabaseDSN(), 1, 1, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	a := &App{cfg: cfg, logger: logger}
	return a.migrationService().Migrate(db)
}

// service is everything build produces for Run.
type service struct {
	server     *echo.Echo
	dispatcher *fanout.Dispatcher
	processor  *email.Processor
}

func (a *App) store() *repositories.Store {
	if a.cfg.StoreDriver == config.StoreDriverMemory {
		a.logger.Warn("Using the in-memory store, data will not survive a restart")
		return memory.NewStore().Repositories()
	}
	return repositories.NewPostgresStore(a.db, a.logger)
}

func (a *App) build(ctx context.Context) (*service, error) {
	store := a.store()
	if store.Ping != nil {
		a.health.AddCheck("store", health.CheckFunc(store.Ping))
	}

	hub := realtime.NewHub(a.logger, a.cfg.RealtimeBufferSize)
	sinks := []fanout.Sink{hub}

	var (
		engineOpts  []lifecycle.Option
		deadLetters email.DeadLetters
		dlqHandler  *handlers.DeadLetterHandler
		mailer      email.Mailer = email.NewLogMailer(a.logger)
	)
	if a.redis != nil {
		a.health.AddOptionalCheck("redis", a.redis.Ping)
		sinks = append(sinks, redis.NewRoomPublisher(a.redis, a.cfg.RedisChannelPrefix))

		limiter := redis.NewRateLimiter(a.redis, redis.DefaultRateLimitPrefix)
		engineOpts = append(engineOpts, lifecycle.WithClaimLimiter(redis.NewClaimLimiter(limiter, a.cfg.ClaimRateLimit, a.cfg.ClaimRateWindow)))

		queue := redis.NewDeadLetterQueue(a.redis, a.cfg.RedisDeadLetterQueue, a.logger)
		deadLetters = queue
		dlqHandler = handlers.NewDeadLetterHandler(queue)
	}
	if a.producer != nil {
		sinks = append(sinks, a.producer)
		mailer = a.producer
	}

	outbox := email.NewOutbox(store.Users, store.Notifications, a.logger)
	dispatcher := fanout.NewDispatcher(fanout.DispatcherConfig{
		Workers:         a.cfg.DispatcherWorkers,
		QueueSize:       a.cfg.DispatcherQueueSize,
		TrackedRequests: a.cfg.DispatcherTracked,
	}, a.logger, outbox, sinks...)
	processor := email.NewProcessor(email.ProcessorConfig{
		Interval:    a.cfg.NotificationInterval,
		BatchSize:   a.cfg.NotificationBatchSize,
		MaxAttempts: a.cfg.NotificationMaxAttempt,
	}, store.Notifications, mailer, deadLetters, a.logger)

	engine := lifecycle.NewEngine(store, dispatcher, a.logger, engineOpts...)
	workflow := resolution.NewWorkflow(store, dispatcher, a.logger)
	prices := pricing.NewService(store.Transactor, store.PricingRules, a.logger)
	operators := admin.NewService(store, hub, a.logger)
	history := email.NewHistory(store.Notifications, a.logger)

	auth, err := a.authentication(ctx, store.Users)
	if err != nil {
		return nil, err
	}

	e := a.newServer()
	api := e.Group("/api/v1", auth)
	handlers.Handlers{
		Requests:      handlers.NewRequestHandler(engine, a.logger),
		Resolutions:   handlers.NewResolutionHandler(workflow, a.logger),
		Pricing:       handlers.NewPricingHandler(prices),
		Events:        handlers.NewEventHandler(hub, engine, a.logger, a.cfg.RealtimeKeepAlive),
		Users:         handlers.NewUserHandler(store.Users),
		Admin:         handlers.NewAdminHandler(operators),
		Notifications: handlers.NewNotificationHandler(history),
		DeadLetters:   dlqHandler,
	}.Register(api)

	return &service{server: e, dispatcher: dispatcher, processor: processor}, nil
}

func (a *App) authentication(ctx context.Context, users middleware.UserStore) (echo.MiddlewareFunc, error) {
	if a.cfg.AuthMode == config.AuthModeHeader {
		a.logger.Warn("Header authentication enabled, identity headers are trusted as sent")
		return middleware.HeaderAuthentication(a.logger, users), nil
	}
	verifier, err := middleware.NewOIDCVerifier(ctx, a.cfg.AuthIssuerURL, a.cfg.AuthClientID)
	if err != nil {
		return nil, err
	}
	return middleware.Authentication(a.logger, users, verifier), nil
}

func (a *App) newServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomw.Recover())
	e.Use(middleware.Context())
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Logger(a.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
			middleware.HeaderUserID, middleware.HeaderUserRole,
		},
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	a.health.RegisterRoutes(e)

	e.Server.ReadTimeout = time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = a.cfg.MaxHeaderBytes
	return e
}

// Run starts every dependency and serves until ctx is cancelled or a
// background worker fails, then shuts down in reverse order.
func (a *App) Run(ctx context.Context) error {
	shutdownTracing, err := tracing.Setup(ctx, a.cfg.AppName, exporters.OTLPConfig{
		Endpoint: a.cfg.OTLPEndpoint,
		Protocol: a.cfg.OTLPProtocol,
		Insecure: a.cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer a.stopWith("tracing", shutdownTracing)

	if err := a.startup.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start dependencies")
	}
	defer a.stopWith("dependencies", a.startup.Stop)

	svc, err := a.build(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.dispatcher.Run(gctx)
	})
	g.Go(func() error {
		return svc.processor.Run(gctx)
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", a.cfg.Port)
		a.logger.Infof("Starting %s on %s", a.cfg.AppName, addr)
		if err := svc.server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		a.logger.Info("Shutting down http server")
		return svc.server.Shutdown(shutdownCtx)
	})

	a.health.SetReady(true)
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) stopWith(name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		a.logger.WithError(err).Errorf("Failed to stop %s", name)
	}
}
