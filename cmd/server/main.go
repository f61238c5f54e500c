package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	syncapp "github.com/fitmarket/backend/internal/application/bundlesync"
	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/infrastructure/auth"
	"github.com/fitmarket/backend/internal/infrastructure/cache"
	"github.com/fitmarket/backend/internal/infrastructure/config"
	"github.com/fitmarket/backend/internal/infrastructure/ecommerce"
	"github.com/fitmarket/backend/internal/infrastructure/event"
	"github.com/fitmarket/backend/internal/infrastructure/logger"
	"github.com/fitmarket/backend/internal/infrastructure/persistence"
	"github.com/fitmarket/backend/internal/infrastructure/scheduler"
	"github.com/fitmarket/backend/internal/infrastructure/storage"
	"github.com/fitmarket/backend/internal/infrastructure/telemetry"
	"github.com/fitmarket/backend/internal/interfaces/http/handler"
	"github.com/fitmarket/backend/internal/interfaces/http/middleware"
	"github.com/fitmarket/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	_ "github.com/fitmarket/backend/docs"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

//	@title			FitMarket Bundle Sync API
//	@version		1.0
//	@description	Keeps coach-curated fitness bundles in sync with their composite offerings on the commerce platform.

//	@host		localhost:8080
//	@BasePath	/

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token issued by the review UI. Format: "Bearer {token}"

const (
	version         = "1.0.0"
	logTimeFormat   = "2006-01-02T15:04:05.000Z07:00"
	shutdownTimeout = 30 * time.Second
)

var probePaths = []string{"/health", "/ready"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logTimeFormat,
	}
	bootLog, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	// Telemetry comes up first so the final logger can tee into the OTLP log exporter
	providers, err := telemetry.Setup(context.Background(), cfg.Telemetry, cfg.Profiling, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			bootLog.Error("Error shutting down telemetry", zap.Error(err))
		}
	}()

	log, err := logger.New(logCfg, providers.LogCore(cfg.Telemetry.ServiceName, logger.ParseLevel(cfg.Log.Level)))
	if err != nil {
		bootLog.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting FitMarket bundle sync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
	)

	meter := providers.Meter.Meter("github.com/fitmarket/backend")

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), cfg.Telemetry.DBSlowQueryThresh)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		log.Warn("Failed to register database tracing", zap.Error(err))
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		log.Fatal("Failed to get underlying sql.DB", zap.Error(err))
	}
	dbMetrics, err := telemetry.NewDBMetrics(meter, telemetry.DBMetricsConfig{
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err != nil {
		log.Fatal("Failed to create database metrics", zap.Error(err))
	}
	if err := db.DB.Use(telemetry.NewDBMetricsPlugin(dbMetrics)); err != nil {
		log.Warn("Failed to register database metrics plugin", zap.Error(err))
	}
	dbMetrics.StartPoolStatsCollection(context.Background(), sqlDB)
	defer dbMetrics.Stop()

	// Repositories
	bundleRepo := persistence.NewGormBundleRepository(db.DB)
	commerceRepo := persistence.NewGormCommerceRepository(db.DB)
	recordRepo := persistence.NewGormSyncRecordRepository(db.DB)
	webhookEventRepo := persistence.NewGormWebhookEventRepository(db.DB)
	operationRepo := persistence.NewGormPendingOperationRepository(db.DB)
	txScope := persistence.NewGormTransactionScope(db.DB)

	// Commerce platform
	platform, err := ecommerce.NewCommerceAdapter(ecommerce.NewCommerceConfig(cfg.Platform), log)
	if err != nil {
		log.Fatal("Failed to create commerce platform client", zap.Error(err))
	}

	dedupe, err := cache.NewIdempotencyStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(true),
	).CreateStore(context.Background())
	if err != nil {
		log.Fatal("Failed to create webhook dedupe store", zap.Error(err))
	}
	defer func() {
		if err := dedupe.Close(); err != nil {
			log.Error("Error closing webhook dedupe store", zap.Error(err))
		}
	}()

	syncMetrics, err := telemetry.NewSyncMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	// Event bus: status changes wake manual syncs waiting on a push
	eventBus := event.NewInMemoryEventBus(log)
	waiter := syncapp.NewStatusWaiter()
	eventBus.Subscribe(waiter, waiter.EventTypes()...)
	if err := eventBus.Start(context.Background()); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	orchestrator := syncapp.NewOrchestrator(syncapp.OrchestratorConfig{
		Scope:    txScope,
		Bundles:  bundleRepo,
		Records:  recordRepo,
		Platform: platform,
		Events:   eventBus,
		Metrics:  syncMetrics,
		Logger:   log,
	})

	// Publisher: a bounded pool executes the steps of claimed operations
	pool, err := scheduler.NewWorkerPool(scheduler.PoolConfig{
		Workers:     cfg.Publisher.Workers,
		QueueSize:   cfg.Publisher.QueueSize,
		TaskTimeout: cfg.Publisher.StepTimeout,
	}, log)
	if err != nil {
		log.Fatal("Failed to create publisher worker pool", zap.Error(err))
	}
	if err := pool.Start(context.Background()); err != nil {
		log.Fatal("Failed to start publisher worker pool", zap.Error(err))
	}
	defer func() {
		if err := pool.Stop(context.Background()); err != nil {
			log.Error("Error stopping publisher worker pool", zap.Error(err))
		}
	}()

	publisher := syncapp.NewPublisher(syncapp.PublisherConfig{
		Policy: bundlesync.BackoffPolicy{
			Initial: cfg.Publisher.PollInitial,
			Max:     cfg.Publisher.PollMax,
			MaxWait: cfg.Publisher.MaxWait,
		},
		StepTimeout: cfg.Publisher.StepTimeout,
		Lease:       cfg.Publisher.LeaseDuration,
		BatchSize:   cfg.Publisher.BatchSize,
	}, syncapp.PublisherDeps{
		Scope:        txScope,
		Operations:   operationRepo,
		Bundles:      bundleRepo,
		Platform:     platform,
		Pool:         pool,
		Orchestrator: orchestrator,
		Metrics:      syncMetrics,
		Logger:       log,
	})
	publisherLoop := scheduler.NewPeriodic("publisher", cfg.Publisher.TickInterval, publisher.Tick, log)
	if err := publisherLoop.Start(context.Background()); err != nil {
		log.Fatal("Failed to start publisher", zap.Error(err))
	}
	defer func() {
		if err := publisherLoop.Stop(context.Background()); err != nil {
			log.Error("Error stopping publisher", zap.Error(err))
		}
	}()
	log.Info("Publisher started",
		zap.Int("workers", cfg.Publisher.Workers),
		zap.Duration("tick_interval", cfg.Publisher.TickInterval),
		zap.Duration("max_wait", cfg.Publisher.MaxWait),
	)

	catalogSync := syncapp.NewCatalogSync(syncapp.CatalogSyncConfig{
		Records:      recordRepo,
		Bundles:      bundleRepo,
		Platform:     platform,
		Orchestrator: orchestrator,
		Parallelism:  cfg.Sync.CatalogParallel,
		Metrics:      syncMetrics,
		Logger:       log,
	})
	manualSync := syncapp.NewManualSync(orchestrator, waiter, cfg.Sync.ManualWait)

	// Raw delivery archive is optional; a nil interface disables it
	var archive syncapp.DeliveryArchive
	if cfg.Webhook.ArchiveEnabled {
		s3Archive, err := storage.NewS3DeliveryArchive(context.Background(), &cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create webhook archive", zap.Error(err))
		}
		if err := s3Archive.EnsureBucket(context.Background()); err != nil {
			log.Warn("Webhook archive bucket is not ready", zap.String("bucket", s3Archive.Bucket()), zap.Error(err))
		}
		archive = s3Archive
		log.Info("Webhook archive enabled", zap.String("bucket", s3Archive.Bucket()))
	}

	webhookService := syncapp.NewWebhookService(syncapp.WebhookServiceConfig{
		Verifier:          ecommerce.NewWebhookVerifier(cfg.Webhook.Secret),
		Events:            webhookEventRepo,
		Records:           recordRepo,
		Bundles:           bundleRepo,
		Commerce:          commerceRepo,
		Orchestrator:      orchestrator,
		Dedupe:            dedupe,
		DedupeTTL:         cfg.Webhook.DedupeTTL,
		ProcessTimeout:    cfg.Webhook.ProcessTimeout,
		Archive:           archive,
		SuppressionWindow: cfg.Sync.SuppressionWindow,
		Metrics:           syncMetrics,
		Logger:            log,
	})

	// Scheduled jobs
	cron := scheduler.NewCronTrigger(scheduler.DefaultCronTriggerConfig(), log)
	if cfg.Sync.CatalogCron != "" {
		if err := cron.Register("catalog-sync", cfg.Sync.CatalogCron, catalogSync.RunScheduled); err != nil {
			log.Fatal("Invalid catalog sync schedule", zap.String("cron", cfg.Sync.CatalogCron), zap.Error(err))
		}
	}
	if cfg.Webhook.CleanupEnabled {
		retention := syncapp.NewWebhookRetention(webhookEventRepo, cfg.Webhook.Retention, log)
		if err := cron.Register("webhook-retention", "@every 1h", retention.Run); err != nil {
			log.Fatal("Failed to schedule webhook retention", zap.Error(err))
		}
	}
	if err := cron.Start(context.Background()); err != nil {
		log.Fatal("Failed to start cron trigger", zap.Error(err))
	}
	defer func() {
		if err := cron.Stop(context.Background()); err != nil {
			log.Error("Error stopping cron trigger", zap.Error(err))
		}
	}()

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	httpMetrics, err := middleware.HTTPMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create HTTP metrics", zap.Error(err))
	}

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}

	// Global middleware, in order:
	// 1. RequestID  2. Recovery  3. Access log  4. Tracing
	// 5. Security headers  6. CORS  7. Metrics  8. Profiling labels
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log, probePaths...))
	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
		SkipPaths:   probePaths,
	}))
	engine.Use(middleware.Secure(middleware.SecurityConfig{HSTSEnabled: cfg.App.Env == "production"}))
	engine.Use(middleware.CORS(corsConfig))
	engine.Use(httpMetrics)
	engine.Use(middleware.Profiling(middleware.ProfilingConfig{
		Enabled:   cfg.Profiling.Enabled,
		SkipPaths: probePaths,
	}))

	verifier := auth.NewTokenVerifier(cfg.JWT)
	jwtAuth := middleware.JWTAuth(middleware.JWTMiddlewareConfig{
		Validator: verifier,
		Logger:    log,
	})

	apiMiddleware := []gin.HandlerFunc{
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
		jwtAuth,
		middleware.SpanEnricher(),
	}
	if cfg.HTTP.APIRateLimit > 0 {
		apiMiddleware = append(apiMiddleware, middleware.RateLimit(
			middleware.NewRateLimiter(cfg.HTTP.APIRateLimit, cfg.HTTP.APIRateBurst),
		))
		log.Info("API rate limiting enabled",
			zap.Float64("per_second", cfg.HTTP.APIRateLimit),
			zap.Int("burst", cfg.HTTP.APIRateBurst),
		)
	}

	r := router.NewRouter(engine,
		router.WithAPIVersion("v1"),
		router.WithAPIMiddleware(apiMiddleware...),
		router.WithWebhookMiddleware(middleware.SpanEnricher()),
	)
	r.RegisterRoot(handler.NewSystemHandler(cfg.App.Name, version, sqlDB))
	r.RegisterWebhook(handler.NewWebhookHandler(webhookService, cfg.Webhook.MaxBodySize))
	r.Register(handler.NewSyncHandler(orchestrator, manualSync, catalogSync))
	r.Setup()

	engine.GET("/swagger/*any",
		middleware.SwaggerProtection(middleware.SwaggerConfig{
			Enabled:     cfg.Swagger.Enabled,
			RequireAuth: cfg.Swagger.RequireAuth,
			AllowedIPs:  cfg.Swagger.AllowedIPs,
		}, jwtAuth),
		ginSwagger.WrapHandler(swaggerFiles.Handler),
	)

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Shutting down server", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Deferred stops run in reverse: cron, publisher loop, worker pool, event bus,
	// dedupe store, db metrics, database, telemetry.
	log.Info("Server exited", zap.Int("pending_waiters", waiter.Pending()))
}
