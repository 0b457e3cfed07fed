package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"github.com/burnweek/camp-registration-system/config"
	"github.com/burnweek/camp-registration-system/db"
	"github.com/burnweek/camp-registration-system/handlers"
	"github.com/burnweek/camp-registration-system/live"
	"github.com/burnweek/camp-registration-system/payments"
	"github.com/burnweek/camp-registration-system/repositories"
	api "github.com/burnweek/camp-registration-system/routes"
	"github.com/burnweek/camp-registration-system/services"
	"github.com/burnweek/camp-registration-system/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	// Report storage is optional; without it roster exports return an error
	// but everything else runs.
	var uploader storage.FileUploader
	if cfg.R2AccountID != "" {
		uploader, err = storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize report storage", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("report storage initialized")
	}

	gateway, err := payments.NewHTTPGateway(payments.HTTPGatewayConfig{
		BaseURL: cfg.PaymentProviderBaseURL,
		APIKey:  cfg.PaymentProviderAPIKey,
	})
	if err != nil {
		logger.Error("failed to initialize payment gateway", slog.Any("error", err))
		os.Exit(1)
	}

	wsHub := live.NewHub()
	go wsHub.Run()
	logger.Info("live hub started")

	userRepo := repositories.NewPostgresUserRepository(dbConn)
	registrationRepo := repositories.NewPostgresRegistrationRepository(dbConn)
	assignmentRepo := repositories.NewPostgresAssignmentRepository(dbConn)
	catalogRepo := repositories.NewPostgresCatalogRepository(dbConn)
	paymentRepo := repositories.NewPostgresPaymentRepository(dbConn)
	auditRepo := repositories.NewPostgresAuditRepository(dbConn)
	txRunner := repositories.NewTxRunner(dbConn)
	logger.Info("repositories initialized")

	notifier := services.NewEmailNotifier(cfg, userRepo, logger)
	allocator := services.NewCapacityAllocator(registrationRepo, assignmentRepo, catalogRepo, cfg.AutoPromoteWaitlist, logger)

	authService := services.NewAuthService(userRepo)
	admissionService := services.NewAdmissionService(
		txRunner,
		registrationRepo,
		assignmentRepo,
		allocator,
		services.FullPolicy(cfg.FullResourcePolicy),
		cfg.PendingPaymentTTL,
		notifier,
		wsHub,
		logger,
	)
	paymentService := services.NewPaymentService(
		txRunner,
		paymentRepo,
		registrationRepo,
		allocator,
		gateway,
		cfg.PaymentProviderName,
		notifier,
		wsHub,
		logger,
	)
	adminService := services.NewAdminService(
		txRunner,
		registrationRepo,
		assignmentRepo,
		paymentRepo,
		auditRepo,
		allocator,
		gateway,
		notifier,
		wsHub,
		logger,
	)
	reportService := services.NewReportService(registrationRepo, assignmentRepo, auditRepo, uploader, logger)
	logger.Info("services initialized")

	// Periodically cancel pending registrations whose dues never arrived.
	go func() {
		if cfg.PendingPaymentTTL <= 0 {
			logger.Info("pending registration sweep disabled")
			return
		}
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		logger.Info("pending registration sweep started",
			slog.Duration("interval", cfg.SweepInterval),
			slog.Duration("ttl", cfg.PendingPaymentTTL),
		)
		for range ticker.C {
			if _, err := admissionService.ExpireStalePending(context.Background()); err != nil {
				logger.Error("pending registration sweep failed", slog.Any("error", err))
			}
		}
	}()

	authHandler := handlers.NewAuthHandler(authService, cfg.JWTSecretKey)
	registrationHandler := handlers.NewRegistrationHandler(admissionService, paymentService)
	webhookHandler := handlers.NewWebhookHandler(paymentService, logger)
	catalogHandler := handlers.NewCatalogHandler(catalogRepo)
	adminHandler := handlers.NewAdminHandler(adminService, reportService)
	boardHandler := handlers.NewBoardHandler(wsHub)
	logger.Info("HTTP handlers initialized")

	router := chi.NewRouter()
	api.SetupRoutes(
		router,
		cfg.JWTSecretKey,
		authHandler,
		registrationHandler,
		webhookHandler,
		catalogHandler,
		adminHandler,
		boardHandler,
	)
	logger.Info("routes configured")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}
