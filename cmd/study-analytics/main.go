package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/study-analytics-api/api/swagger"
	"github.com/noah-isme/study-analytics-api/internal/handler"
	"github.com/noah-isme/study-analytics-api/internal/middleware"
	"github.com/noah-isme/study-analytics-api/internal/models"
	"github.com/noah-isme/study-analytics-api/internal/repository"
	"github.com/noah-isme/study-analytics-api/internal/service"
	"github.com/noah-isme/study-analytics-api/pkg/cache"
	"github.com/noah-isme/study-analytics-api/pkg/config"
	"github.com/noah-isme/study-analytics-api/pkg/database"
	"github.com/noah-isme/study-analytics-api/pkg/jobs"
	"github.com/noah-isme/study-analytics-api/pkg/lms"
	"github.com/noah-isme/study-analytics-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/study-analytics-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/study-analytics-api/pkg/middleware/requestid"
	"github.com/noah-isme/study-analytics-api/pkg/sink"
)

// @title Study Analytics API
// @version 1.0.0
// @description Exports LMS course grades and declarations to the study analytics stack
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Sugar().Fatalw("service stopped with error", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	loc, err := time.LoadLocation(cfg.LMS.TimeZone)
	if err != nil {
		logr.Sugar().Warnw("unknown LMS time zone, using UTC", "time_zone", cfg.LMS.TimeZone, "error", err)
		loc = time.UTC
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	registrationRepo := repository.NewRegistrationRepository(db)
	settingRepo := repository.NewSettingRepository(db)
	provisioningRepo := repository.NewProvisioningRepository(db)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Settings.CacheTTL, logr, cfg.Settings.CacheEnabled)
	settingsSvc := service.NewSettingsService(settingRepo, cacheSvc, validate, logr, service.SettingsServiceConfig{
		Defaults: map[string]string{
			models.SettingLogstashURL:         cfg.Analytics.LogstashURL,
			models.SettingKibanaURL:           cfg.Analytics.KibanaURL,
			models.SettingElasticsearchURL:    cfg.Analytics.ElasticsearchURL,
			models.SettingKibanaAPIKey:        cfg.Analytics.APIKey,
			models.SettingTemplateDashboardID: cfg.Analytics.TemplateDashboardID,
		},
		CacheTTL: cfg.Settings.CacheTTL,
	})
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Leeway:   30 * time.Second,
	})

	sinkClient := sink.NewClient(nil, metrics, logr, sink.Config{Timeout: cfg.Analytics.SinkTimeout})
	lmsClient := lms.NewClient(nil, logr, lms.Config{BaseURL: cfg.LMS.BaseURL, Token: cfg.LMS.Token, Timeout: cfg.LMS.Timeout})
	stack := service.NewStackClient(sinkClient, logr, service.StackClientConfig{ExampleDataIndex: cfg.Analytics.ExampleDataIndex})

	batcher := service.NewBatcher(stack, metrics, logr, service.BatcherConfig{PageSize: cfg.Export.PageSize})
	exportSvc := service.NewExportService(lmsClient, registrationRepo, batcher, service.NewTransformer(loc), logr, service.ExportServiceConfig{
		LecturerRoles: cfg.LMS.LecturerRoles,
		Uploads: service.RosterUploadConfig{
			MaxFileSize:  cfg.Uploads.MaxFileSizeBytes,
			AllowedMIMEs: cfg.Uploads.AllowedMIMEs,
		},
	})
	worker := service.NewExportWorker(exportSvc, settingsSvc, metrics, logr)
	queue := jobs.NewQueue("grade-exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		BufferSize: cfg.Jobs.BufferSize,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
		OnFailure: func(job jobs.Job, err error) {
			logr.Warn("grade export dropped", zap.String("job_id", job.ID), zap.Any("payload", job.Payload), zap.Error(err))
		},
	})

	if err := metrics.WatchQueue(queue.Name(), queue.Depth); err != nil {
		logr.Warn("queue depth metric not registered", zap.Error(err))
	}

	registrationSvc := service.NewRegistrationService(registrationRepo, stack, logr, loc)
	provisioningSvc := service.NewProvisioningService(provisioningRepo, stack, validate, logr)
	updateSvc := service.NewUpdateService(registrationRepo, queue, metrics, logr)
	snapshotSvc := service.NewSnapshotService(exportSvc, nil, nil)

	var scheduler *service.SchedulerService
	if cfg.Scheduler.Enabled {
		scheduler, err = service.NewSchedulerService(updateSvc, cacheRepo, logr, service.SchedulerConfig{
			Spec:     cfg.Scheduler.Spec,
			LockTTL:  cfg.Scheduler.LockTTL,
			Location: loc,
		})
		if err != nil {
			return err
		}
	}

	analyticsHandler := handler.NewAnalyticsHandler(registrationSvc, updateSvc, exportSvc, snapshotSvc, settingsSvc, validate,
		handler.AnalyticsHandlerConfig{MaxUploadBytes: cfg.Uploads.MaxFileSizeBytes})
	healthHandler := handler.NewMetricsHandler(metrics, map[string]handler.Pinger{
		"postgres": handler.PingFunc(db.PingContext),
		"redis":    handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
	})

	router := newRouter(cfg, logr, routerDeps{
		auth:       authSvc,
		metrics:    metrics,
		analytics:  analyticsHandler,
		onboarding: handler.NewOnboardingHandler(provisioningSvc, settingsSvc),
		settings:   handler.NewSettingsHandler(settingsSvc),
		health:     healthHandler,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	queue.Start(gctx)
	if scheduler != nil {
		if err := scheduler.Start(gctx); err != nil {
			return err
		}
	}

	g.Go(func() error {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if scheduler != nil {
			scheduler.Stop()
		}
		err := srv.Shutdown(shutdownCtx)
		queue.Stop()
		logr.Info("server stopped")
		return err
	})

	return g.Wait()
}

type routerDeps struct {
	auth       *service.AuthService
	metrics    *service.MetricsService
	analytics  *handler.AnalyticsHandler
	onboarding *handler.OnboardingHandler
	settings   *handler.SettingsHandler
	health     *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.health.Health)
	r.GET("/ready", deps.health.Ready)
	r.GET("/metrics", deps.health.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(deps.auth))

	courses := api.Group("/courses/:courseId/analytics", middleware.CourseAccess("courseId"))
	{
		courses.GET("", deps.analytics.Status)
		courses.POST("", middleware.Audit(logr, "course.register"), deps.analytics.Register)
		courses.DELETE("", middleware.Audit(logr, "course.unregister"), deps.analytics.Unregister)
		courses.PUT("/frequency", middleware.Audit(logr, "course.frequency"), deps.analytics.UpdateFrequency)
		courses.POST("/updates", middleware.Audit(logr, "course.update"), deps.analytics.TriggerUpdate)
		courses.POST("/declarations", middleware.Audit(logr, "course.declarations"), deps.analytics.UploadDeclarations)
		courses.GET("/snapshot", deps.analytics.Snapshot)
	}

	api.GET("/onboarding", deps.onboarding.Status)
	api.POST("/onboarding", middleware.Audit(logr, "account.provision"), deps.onboarding.Provision)

	settings := api.Group("/settings", middleware.RequireSiteAdmin())
	{
		settings.GET("", deps.settings.List)
		settings.GET("/:key", deps.settings.Get)
		settings.PUT("/:key", middleware.Audit(logr, "settings.update"), deps.settings.Update)
	}

	return r
}
