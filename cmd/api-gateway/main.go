package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/invigilation-planner/api/swagger"
	"github.com/noah-isme/invigilation-planner/internal/handler"
	internalmiddleware "github.com/noah-isme/invigilation-planner/internal/middleware"
	"github.com/noah-isme/invigilation-planner/internal/models"
	"github.com/noah-isme/invigilation-planner/internal/planner"
	"github.com/noah-isme/invigilation-planner/internal/repository"
	"github.com/noah-isme/invigilation-planner/internal/service"
	"github.com/noah-isme/invigilation-planner/internal/timetable"
	"github.com/noah-isme/invigilation-planner/pkg/cache"
	"github.com/noah-isme/invigilation-planner/pkg/config"
	"github.com/noah-isme/invigilation-planner/pkg/database"
	"github.com/noah-isme/invigilation-planner/pkg/logger"
	corsmiddleware "github.com/noah-isme/invigilation-planner/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/invigilation-planner/pkg/middleware/requestid"
)

// @title Invigilation Planner API
// @version 1.0.0
// @description Assigns invigilators to exam sessions and balances their workload.
// @BasePath /api/v1
// @schemes http
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
		if cfg.JWT.Secret == "" || cfg.JWT.Secret == "dev_secret" {
			logr.Fatal("JWT_SECRET must be set in production")
		}
	} else if cfg.JWT.Secret == "dev_secret" {
		logr.Warn("using the development JWT secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	engine, err := newEngine(cfg.Planner.Backend, logr)
	if err != nil {
		logr.Fatal("failed to init planner backend", zap.Error(err))
	}
	plannerCore := planner.New(engine, logr.Named("planner"))

	checks := map[string]handler.HealthCheck{}

	var store service.PlanPersistence
	if cfg.Persistence.Enabled {
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			logr.Fatal("failed to connect database", zap.Error(err))
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			logr.Fatal("failed to migrate database", zap.Error(err))
		}
		store = service.PlanPersistence{
			Runs:        repository.NewPlanRunRepository(db),
			Assignments: repository.NewPlanAssignmentRepository(db),
			Tx:          db,
		}
		checks["database"] = pingDB(db)
		logr.Info("plan persistence enabled", zap.String("database", cfg.Database.Name))
	}

	var cacheRepo service.CacheRepository
	if cfg.ResultCache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("result cache disabled, redis unreachable", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(client, logr)
			defer repo.Close() //nolint:errcheck
			cacheRepo = repo
			checks["redis"] = pingRedis(client)
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.ResultCache.TTL, logr, cacheRepo != nil)

	planSvc := service.NewPlanService(plannerCore, store, cacheSvc, metricsSvc, validate, logr.Named("plans"), service.PlanServiceConfig{
		Backend:    cfg.Planner.Backend,
		TimeBudget: cfg.Planner.TimeBudget,
		Options: models.PlanningOptions{
			DailyCap:              cfg.Planner.DailyCap,
			EnforceRestPeriod:     cfg.Planner.RestPeriod,
			EnableClusteringBonus: cfg.Planner.Clustering,
			ClusteringBonus:       cfg.Planner.ClusteringBonus,
			FairnessHardBound:     cfg.Planner.FairnessBound,
			MorningHardBound:      cfg.Planner.MorningBound,
		},
		Weights:  models.DefaultWeights(),
		BigRooms: cfg.Planner.BigRooms,
		Timetable: timetable.Options{
			Labeling:         timetable.LabelingMode(cfg.Planner.SessionLabeling),
			EveningThreshold: cfg.Planner.EveningThreshold,
		},
		ResultTTL: cfg.Planner.ResultTTL,
		CacheTTL:  cfg.ResultCache.TTL,
	})

	jobSvc := service.NewPlanJobService(planSvc, metricsSvc, validate, logr.Named("jobs"), service.PlanJobConfig{
		Workers:    cfg.Planner.Workers,
		JobTimeout: cfg.Planner.TimeBudget + time.Minute,
		ResultTTL:  cfg.Planner.ResultTTL,
	})
	jobSvc.Start(ctx)
	defer jobSvc.Stop()

	exportSvc := service.NewExportService(planSvc, validate, logr.Named("export"), nil, nil)
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})

	planHandler := handler.NewPlanHandler(planSvc, jobSvc, exportSvc, cfg.Planner.MaxUploadBytes)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/metrics", "/health"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.WithResponseMeta())
	api.Use(internalmiddleware.JWT(authSvc))

	planners := internalmiddleware.RequireRoles(models.RolePlanner)
	readers := internalmiddleware.RequireRoles(models.RolePlanner, models.RoleViewer)
	audit := func(action string) gin.HandlerFunc {
		return internalmiddleware.Audit(logr, action, "plan_run")
	}

	plans := api.Group("/plans")
	plans.POST("", planners, planHandler.Create)
	plans.POST("/upload", planners, planHandler.Upload)
	plans.POST("/jobs", planners, planHandler.SubmitJob)
	plans.GET("/jobs/:id", readers, planHandler.GetJob)
	plans.GET("/:id", readers, planHandler.Get)
	plans.GET("/:id/export", readers, planHandler.Export)
	plans.POST("/:id/save", planners, audit("save"), planHandler.Save)
	plans.DELETE("/cache", internalmiddleware.RequireRoles(), planHandler.FlushCache)

	runs := api.Group("/plan-runs")
	runs.GET("", readers, planHandler.ListRuns)
	runs.GET("/:id", readers, planHandler.GetRun)
	runs.GET("/:id/assignments", readers, planHandler.RunAssignments)
	runs.GET("/:id/export", readers, planHandler.ExportRun)
	runs.POST("/:id/publish", planners, audit("publish"), planHandler.PublishRun)
	runs.DELETE("/:id", planners, audit("delete"), planHandler.DeleteRun)

	api.GET("/metrics/summary", internalmiddleware.RequireRoles(), metricsHandler.Summary)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "backend", engine.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func pingDB(db *sqlx.DB) handler.HealthCheck {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}
}

func pingRedis(client *redis.Client) handler.HealthCheck {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}
