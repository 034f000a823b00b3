package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campusworks/registrar-api/api/swagger"
	"github.com/campusworks/registrar-api/internal/handler"
	"github.com/campusworks/registrar-api/internal/middleware"
	"github.com/campusworks/registrar-api/internal/repository"
	"github.com/campusworks/registrar-api/internal/service"
	"github.com/campusworks/registrar-api/pkg/cache"
	"github.com/campusworks/registrar-api/pkg/config"
	"github.com/campusworks/registrar-api/pkg/database"
	"github.com/campusworks/registrar-api/pkg/dispatch"
	"github.com/campusworks/registrar-api/pkg/logger"
	corsmiddleware "github.com/campusworks/registrar-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campusworks/registrar-api/pkg/middleware/requestid"
)

// @title CampusWorks Registrar API
// @version 1.0.0
// @description Asynchronous course enrollment service
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Redis only backs the snapshot cache and pub/sub; the admission
		// engine stays correct without it.
		logr.Sugar().Warnw("redis unavailable, continuing without cache", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sectionRepo := repository.NewSectionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	jobRepo := repository.NewJobRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	admissionRepo := repository.NewAdmissionRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	validationSvc := service.NewValidationService(enrollmentRepo, sectionRepo, cfg.Admission.MaxCredits, logr)
	var notifier *service.NotificationService
	if cfg.Notifications.Enabled {
		notifier = service.NewNotificationService(redisClient, cfg.Notifications.Channel, logr)
	}

	worker := service.NewAdmissionWorker(
		jobRepo,
		enrollmentRepo,
		sectionRepo,
		admissionRepo,
		validationSvc,
		auditRepo,
		cacheRepo,
		metricsSvc,
		notifier,
		logr,
		service.AdmissionWorkerConfig{
			MaxAttempts:    cfg.Admission.MaxAttempts,
			RetryBaseDelay: cfg.Admission.RetryBaseDelay,
		},
	)

	dispatcher := dispatch.New("admission", worker.Handle, dispatch.Config{
		Lanes:      cfg.Admission.Lanes,
		LaneBuffer: cfg.Admission.LaneBuffer,
		Logger:     logr,
	})
	dispatcher.Start(ctx)
	defer dispatcher.Stop()
	metricsSvc.RegisterQueueDepth(dispatcher.Depth)

	validate := validator.New()
	admissionSvc := service.NewAdmissionService(jobRepo, enrollmentRepo, sectionRepo, dispatcher, validate, logr,
		service.AdmissionServiceConfig{
			JobRetention:    cfg.Admission.JobRetention,
			JanitorInterval: cfg.Admission.JanitorInterval,
			RecoveryBatch:   cfg.Admission.RecoveryBatch,
		})
	catalogSvc := service.NewCatalogService(sectionRepo, cacheRepo, cfg.Catalog.CacheTTL, logr)
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	admissionSvc.RecoverPending(ctx)
	admissionSvc.StartJanitor(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	enrollmentHandler := handler.NewEnrollmentHandler(admissionSvc)
	sectionHandler := handler.NewSectionHandler(catalogSvc)

	api := r.Group(cfg.APIPrefix)

	sections := api.Group("/sections")
	sections.GET("", sectionHandler.List)
	sections.GET("/:id", sectionHandler.Get)

	enrollments := api.Group("/enrollments", middleware.JWT(tokenSvc))
	enrollments.POST("", enrollmentHandler.Enroll)
	enrollments.GET("/status/:jobId", enrollmentHandler.Status)
	enrollments.DELETE("/:enrollmentId", enrollmentHandler.Drop)
	enrollments.GET("/waitlist/:sectionId", enrollmentHandler.Waitlist)
	enrollments.GET("/my", enrollmentHandler.My)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
