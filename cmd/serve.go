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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Dosada05/tournament-dispatch/brackets"
	"github.com/Dosada05/tournament-dispatch/config"
	"github.com/Dosada05/tournament-dispatch/handlers"
	"github.com/Dosada05/tournament-dispatch/metrics"
	"github.com/Dosada05/tournament-dispatch/models"
	"github.com/Dosada05/tournament-dispatch/repositories"
	api "github.com/Dosada05/tournament-dispatch/routes"
	"github.com/Dosada05/tournament-dispatch/services"
	"github.com/Dosada05/tournament-dispatch/storage"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduling loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the database schema before serving")
	return cmd
}

func openArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ArchiveStore, error) {
	switch {
	case cfg.ArchiveEnabled():
		archive, err := storage.NewCloudflareR2Store(ctx, storage.CloudflareR2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Cloudflare R2 archive: %w", err)
		}
		logger.Info("Cloudflare R2 audit archive initialized")
		return archive, nil
	case cfg.Store == config.StoreMemory:
		return storage.NewMemoryArchive(), nil
	}
	logger.Info("audit archive disabled, R2 settings are not configured")
	return nil, nil
}

func runServer(migrate bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort), slog.String("store", cfg.Store))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, logger, migrate)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", slog.Any("error", err))
		}
	}()

	archive, err := openArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	wsHub := brackets.NewHub(logger)
	go wsHub.Run(ctx)
	logger.Info("WebSocket Hub started")

	// Сервисы
	tableService := services.NewTableService(store, logger, services.TableServiceOptions{
		Turnaround: cfg.Scheduler.TableTurnaround,
		Metrics:    m,
	})
	queueService := services.NewQueueService(store, logger, services.QueueServiceOptions{
		DefaultMatchDuration: cfg.Scheduler.DefaultMatchDuration,
		Strategies:           brackets.NewDefaultRegistry(),
	})
	schedulerService := services.NewSchedulerService(store, tableService, queueService, services.NewSchedulerRegistry(), wsHub, logger,
		services.SchedulerOptions{
			Defaults: models.SchedulingConfig{
				PollInterval:                cfg.Scheduler.PollInterval,
				AutoAssign:                  cfg.Scheduler.AutoAssign,
				OptimizeAssignments:         cfg.Scheduler.OptimizeAssignments,
				EnableRealtimeNotifications: cfg.Scheduler.Notifications,
			},
			ErrorThreshold: cfg.Scheduler.ErrorThreshold,
			Metrics:        m,
		})
	matchService := services.NewMatchService(store, tableService, wsHub, logger, time.Now)
	matchService.SetCompletionListener(schedulerService)

	var auditService services.AuditService
	if archive != nil {
		auditService = services.NewAuditService(store, archive, logger, time.Now)
	}
	tournamentService := services.NewTournamentService(store, schedulerService, auditService, logger)
	logger.Info("Services initialized")

	resumeSchedulers(ctx, store, schedulerService, logger)

	// HTTP
	router := chi.NewRouter()
	api.SetupRoutes(
		router,
		api.Options{
			JWTSecret:      []byte(cfg.JWTSecretKey),
			AllowedOrigins: cfg.AllowedOrigins,
			Metrics:        m.Handler(),
			Logger:         logger,
		},
		handlers.NewTableHandler(tableService, schedulerService),
		handlers.NewMatchHandler(matchService),
		handlers.NewSchedulerHandler(schedulerService, queueService, tournamentService),
		handlers.NewTournamentHandler(tournamentService),
		handlers.NewWebSocketHandler(wsHub, tournamentService, cfg.AllowedOrigins),
	)

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
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("failed to force close server", slog.Any("error", closeErr))
		}
	}
	if err := schedulerService.StopAllSchedulers(shutdownCtx); err != nil {
		logger.Error("scheduling loops did not stop in time", slog.Any("error", err))
	}
	cancel()
	logger.Info("application exited")
	return nil
}

// resumeSchedulers restarts loops of tournaments that were active before a restart.
func resumeSchedulers(ctx context.Context, store repositories.Store, scheduler services.SchedulerService, logger *slog.Logger) {
	active, err := store.Tournaments().ListByStatus(ctx, models.StatusActive)
	if err != nil {
		logger.Error("failed to list active tournaments", slog.Any("error", err))
		return
	}
	for _, t := range active {
		if err := scheduler.StartSchedulingLoop(ctx, t.ID, nil); err != nil {
			logger.Error("failed to resume scheduling loop", slog.Int("tournament_id", t.ID), slog.Any("error", err))
		}
	}
	if len(active) > 0 {
		logger.Info("scheduling loops resumed", slog.Int("count", len(active)))
	}
}
