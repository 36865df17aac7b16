package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-finance-api/api/swagger"
	"github.com/noah-isme/sma-finance-api/internal/handler"
	"github.com/noah-isme/sma-finance-api/internal/middleware"
	"github.com/noah-isme/sma-finance-api/internal/models"
	"github.com/noah-isme/sma-finance-api/internal/repository"
	"github.com/noah-isme/sma-finance-api/internal/service"
	"github.com/noah-isme/sma-finance-api/pkg/cache"
	"github.com/noah-isme/sma-finance-api/pkg/config"
	"github.com/noah-isme/sma-finance-api/pkg/database"
	"github.com/noah-isme/sma-finance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-finance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-finance-api/pkg/middleware/requestid"
)

// @title SMA Finance API
// @version 1.0.0
// @description School fee ledger: charges, arrears, aggregated payments, monthly generation and absence fines.
// @BasePath /api
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
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrator, err := database.NewMigrator(db.DB, cfg.Database.MigrationsPath, logr)
		if err != nil {
			logr.Fatal("failed to init migrator", zap.Error(err))
		}
		if err := migrator.Up(); err != nil {
			logr.Fatal("failed to migrate schema", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, running without cache and payment guard", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	app := buildApp(cfg, db, redisClient, logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Fees.AutoGenerate {
		app.scheduler.Start(ctx)
		defer app.scheduler.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
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

type application struct {
	router    *gin.Engine
	scheduler *service.FeeScheduler
}

func buildApp(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) *application {
	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	feeRepo := repository.NewFeeRepository(db)
	absenceRepo := repository.NewAbsenceFineRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	guardRepo := repository.NewPaymentGuardRepository(redisClient)

	var cacheStore service.CacheRepository
	if redisClient != nil {
		cacheStore = cacheRepo
	}
	cacheSvc := service.NewCacheService(cacheStore, metricsSvc, cfg.Fees.SummaryCacheTTL, logr, redisClient != nil)

	defaultFee := decimal.NewFromFloat(cfg.Fees.DefaultMonthlyFee)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	feeSvc := service.NewFeeService(feeRepo, studentRepo, cacheSvc, validate, logr, service.FeeServiceConfig{
		DefaultMonthlyFee: defaultFee,
		SummaryCacheTTL:   cfg.Fees.SummaryCacheTTL,
	})
	allocatorSvc := service.NewPaymentAllocatorService(db, feeRepo, studentRepo, guardRepo, cacheSvc, metricsSvc, validate, logr, service.PaymentAllocatorConfig{
		GuardTTL: cfg.Fees.PaymentGuardTTL,
	})
	generatorSvc := service.NewFeeGeneratorService(feeRepo, studentRepo, cacheSvc, metricsSvc, validate, logr, service.FeeGeneratorConfig{
		DefaultMonthlyFee: defaultFee,
		Workers:           cfg.Fees.GenerationWorkers,
	})
	absenceSvc := service.NewAbsenceFineService(db, absenceRepo, feeRepo, studentRepo, cacheSvc, metricsSvc, validate, logr, service.AbsenceFinePolicy{
		AllowedAbsences: cfg.AbsenceFine.AllowedAbsences,
		BaseFineUnit:    decimal.NewFromFloat(cfg.AbsenceFine.BaseFineUnit),
		HistoryLimit:    cfg.AbsenceFine.HistoryLimit,
	})
	exportSvc := service.NewExportService(service.ExportConfig{
		SchoolName: cfg.Statements.SchoolName,
		Currency:   cfg.Fees.Currency,
	}, logr, nil, nil)
	scheduler := service.NewFeeScheduler(generatorSvc, logr, service.FeeSchedulerConfig{
		Interval:   cfg.Fees.GenerationInterval,
		MaxRetries: cfg.Fees.GenerationMaxRetries,
	})

	authHandler := handler.NewAuthHandler(authSvc)
	feeHandler := handler.NewFeeHandler(feeSvc, allocatorSvc, generatorSvc, exportSvc)
	absenceHandler := handler.NewAbsenceFineHandler(absenceSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc.Handler(), logr,
		handler.ReadinessCheck{Name: "database", Probe: db.PingContext},
		handler.ReadinessCheck{Name: "redis", Probe: cacheRepo.Ping},
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(corsmiddleware.Options{AllowedOrigins: cfg.CORS.AllowedOrigins}))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := "/" + strings.Trim(cfg.APIPrefix, "/")
	api := r.Group(prefix)

	api.POST("/auth/login", authHandler.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))
	secured.GET("/auth/me", authHandler.Me)

	staff := []models.UserRole{models.RoleAdmin, models.RolePrincipal, models.RoleStaff}
	readers := append([]models.UserRole{models.RoleTeacher}, staff...)
	managers := []models.UserRole{models.RoleAdmin, models.RolePrincipal}

	audit := func(action, param string) gin.HandlerFunc {
		return middleware.Audit(userRepo, logr, action, "fees", param)
	}

	fees := secured.Group("/fees")
	{
		fees.GET("", middleware.RequireRoles(append(readers, models.RoleStudent)...), feeHandler.List)
		fees.POST("", middleware.RequireRoles(staff...), audit(models.AuditActionFeeCreate, ""), feeHandler.Create)
		fees.DELETE("/cleanup-orphaned", middleware.RequireRoles(managers...), audit(models.AuditActionOrphanCleanup, ""), feeHandler.CleanupOrphaned)
		fees.POST("/generate-monthly", middleware.RequireRoles(managers...), audit(models.AuditActionMonthlyGeneration, ""), feeHandler.GenerateMonthly)
		fees.GET("/arrears/:studentId", middleware.RequireRolesOrSelf(readers...), feeHandler.Arrears)
		fees.GET("/student-aggregate/:studentId", middleware.RequireRolesOrSelf(readers...), feeHandler.StudentAggregate)
		fees.GET("/statement/:studentId", middleware.RequireRolesOrSelf(readers...), feeHandler.Statement)
		fees.PUT("/process-aggregate-payment/:studentId", middleware.RequireRoles(staff...), audit(models.AuditActionAggregatePayment, middleware.StudentParam), feeHandler.ProcessAggregatePayment)
		fees.GET("/:id", middleware.RequireRoles(append(readers, models.RoleStudent)...), feeHandler.Get)
		fees.PUT("/:id", middleware.RequireRoles(staff...), audit(models.AuditActionFeeUpdate, "id"), feeHandler.Update)
		fees.PUT("/:id/payment", middleware.RequireRoles(staff...), audit(models.AuditActionFeePayment, "id"), feeHandler.RecordPayment)
	}

	absence := secured.Group("/absence-fine")
	{
		absence.POST("/calculate", middleware.RequireRoles(readers...), middleware.Audit(userRepo, logr, models.AuditActionAbsenceFineCompute, "absence_fine", ""), absenceHandler.Calculate)
		absence.GET("/history/:studentId", middleware.RequireRolesOrSelf(readers...), absenceHandler.History)
		absence.PUT("/reset/:studentId", middleware.RequireRoles(managers...), middleware.Audit(userRepo, logr, models.AuditActionAbsenceFineReset, "absence_fine", middleware.StudentParam), absenceHandler.Reset)
	}

	return &application{router: r, scheduler: scheduler}
}
