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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/uninorte/portal-api/api/swagger"
	"github.com/uninorte/portal-api/internal/handler"
	"github.com/uninorte/portal-api/internal/middleware"
	"github.com/uninorte/portal-api/internal/models"
	"github.com/uninorte/portal-api/internal/repository"
	"github.com/uninorte/portal-api/internal/service"
	"github.com/uninorte/portal-api/pkg/cache"
	"github.com/uninorte/portal-api/pkg/config"
	"github.com/uninorte/portal-api/pkg/database"
	"github.com/uninorte/portal-api/pkg/logger"
	"github.com/uninorte/portal-api/pkg/mailer"
	corsmiddleware "github.com/uninorte/portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/uninorte/portal-api/pkg/middleware/requestid"
)

// @title University Portal API
// @version 1.0.0
// @description REST backend for account approval, course catalog and enrollment workflows
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, catalog cache disabled", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	sequenceRepo := repository.NewSequenceRepository(db)
	degreeRepo := repository.NewDegreeRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	mail := mailer.New(cfg.SMTP, logr)
	notifications := service.NewNotificationService(mail, cfg.Notifications, logr)
	notifications.Start(ctx)
	defer notifications.Stop()

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "portal-api",
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	approvalSvc := service.NewApprovalService(userRepo, sequenceRepo, db, notifications, logr)
	catalogSvc := service.NewCatalogService(degreeRepo, courseRepo, enrollmentRepo, cacheRepo, metricsSvc, validate, logr, cfg.Catalog.CacheTTL)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, userRepo, courseRepo, notifications, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc, approvalSvc, metricsSvc)
	degreeHandler := handler.NewDegreeHandler(catalogSvc)
	courseHandler := handler.NewCourseHandler(catalogSvc, enrollmentSvc, metricsSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)

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
		start := time.Now()
		err := db.PingContext(c.Request.Context())
		metricsSvc.ObserveDBQuery("ping", time.Since(start))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
			auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
		}

		users := api.Group("/users", middleware.JWT(authSvc))
		{
			users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
			users.POST("", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)
			users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), "SELF"), userHandler.Get)
			users.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Update)
			users.PATCH("/:id/status", middleware.RequireRoles(models.RoleAdmin), userHandler.UpdateStatus)
			users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)
			users.POST("/approve/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Approve)
			users.POST("/reject/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Reject)
		}

		degrees := api.Group("/degrees", middleware.JWT(authSvc))
		{
			degrees.GET("", degreeHandler.List)
			degrees.GET("/:id", degreeHandler.Get)
			degrees.POST("", middleware.RequireRoles(models.RoleAdmin), degreeHandler.Create)
			degrees.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), degreeHandler.Update)
			degrees.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), degreeHandler.Delete)
		}

		courses := api.Group("/courses", middleware.JWT(authSvc))
		{
			courses.GET("", courseHandler.List)
			courses.GET("/:id", courseHandler.Get)
			courses.POST("", middleware.RequireRoles(models.RoleAdmin), courseHandler.Create)
			courses.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), courseHandler.Update)
			courses.PATCH("/:id/status", middleware.RequireRoles(models.RoleAdmin), courseHandler.UpdateStatus)
			courses.POST("/:id/enroll", middleware.RequireRoles(models.RoleStudent), courseHandler.Enroll)
			courses.DELETE("/:id/enroll", middleware.RequireRoles(models.RoleStudent), courseHandler.Drop)
			courses.GET("/:id/roster/export", middleware.RequireRoles(models.RoleAdmin, models.RoleProfessor), courseHandler.ExportRoster)
		}

		api.GET("/enrollments", middleware.JWT(authSvc), enrollmentHandler.List)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
