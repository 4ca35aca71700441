package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	_ "github.com/itd-tools/erp-change-portal/api/swagger"
	"github.com/itd-tools/erp-change-portal/internal/handler"
	"github.com/itd-tools/erp-change-portal/internal/repository"
	"github.com/itd-tools/erp-change-portal/internal/router"
	"github.com/itd-tools/erp-change-portal/internal/service"
	"github.com/itd-tools/erp-change-portal/internal/terminal"
	"github.com/itd-tools/erp-change-portal/pkg/cache"
	"github.com/itd-tools/erp-change-portal/pkg/config"
	"github.com/itd-tools/erp-change-portal/pkg/database"
	"github.com/itd-tools/erp-change-portal/pkg/logger"
)

// @title ERP Change Portal API
// @version 1.0.0
// @description Change-request approval workflow and time-boxed terminal access
// @BasePath /
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
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	users := repository.NewUserRepository(db)
	apps := repository.NewApplicationRepository(db)
	files := repository.NewApplicationFileRepository(db)
	reviews := repository.NewReviewRepository(db)
	depts := repository.NewDepartmentRepository(db)
	modules := repository.NewModuleRepository(db)
	connLogs := repository.NewConnectionLogRepository(db)

	// Services.
	validate := validator.New()
	metrics := service.NewMetricsService()

	authService := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "erp-change-portal",
	})
	tokenService := service.NewTokenService(cfg.JWT.Secret, cfg.Notify.ActionTokenTTL,
		service.RedisConsumeStore{Client: redisClient})
	notifyService := service.NewNotifyService(cfg.Notify,
		service.NewSMTPMailer(cfg.SMTP), users, tokenService, metrics, logr)
	notifyService.Start(ctx)
	defer notifyService.Stop()

	approvalService := service.NewApprovalService(apps, depts, notifyService, metrics, logr)
	appService := service.NewApplicationService(apps, files, reviews, modules, approvalService, logr)
	deptService := service.NewDepartmentService(depts, users, logr)
	connLogService := service.NewConnectionLogService(connLogs)

	termManager := terminal.NewManager(cfg.Terminal, apps, connLogs, metrics, logr)
	defer termManager.Shutdown()

	maintenance := service.NewMaintenanceService(cfg.Maintenance, cfg.Terminal.TranscriptDir, connLogs, logr)
	maintenance.Start(ctx)

	// HTTP surface.
	engine := router.New(router.Deps{
		Cfg:         cfg,
		Logger:      logr,
		AuthService: authService,
		Metrics:     metrics,
		Auth:        handler.NewAuthHandler(authService),
		Requests:    handler.NewRequestHandler(appService, approvalService, cfg.UploadDir),
		Departments: handler.NewDepartmentHandler(deptService),
		ConnLogs:    handler.NewConnectionLogHandler(connLogService),
		Public:      handler.NewPublicHandler(tokenService, approvalService, users),
		Terminal:    handler.NewTerminalHandler(termManager, logr),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}
