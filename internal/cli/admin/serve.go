package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/supportdesk/internal/api/handlers"
	"github.com/cloo-solutions/supportdesk/internal/api/middleware"
	"github.com/cloo-solutions/supportdesk/internal/config"
	"github.com/cloo-solutions/supportdesk/internal/jobs"
	"github.com/cloo-solutions/supportdesk/internal/openai"
	"github.com/cloo-solutions/supportdesk/internal/profile"
	"github.com/cloo-solutions/supportdesk/internal/repository"
	"github.com/cloo-solutions/supportdesk/internal/server"
	"github.com/cloo-solutions/supportdesk/internal/service"
	"github.com/cloo-solutions/supportdesk/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the supportdesk API server with the profile watcher and renormalization worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides SUPPORTDESK_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("migrations", defaultMigrationsDir, "Directory containing migration files")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}
	if !cfg.HasOpenAI() && cfg.OpenAIBaseURL == "" {
		return fmt.Errorf("SUPPORTDESK_OPENAI_API_KEY or SUPPORTDESK_OPENAI_BASE_URL is required")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.SentryDSN != "" {
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
			Logger:           logger,
		})
		if err != nil {
			logger.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
		} else {
			defer shutdownTelemetry()
		}
	}

	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		dir, _ := cmd.Flags().GetString("migrations")
		if err := RunMigrations(cfg.DatabaseURL, dir, logger); err != nil {
			return err
		}
	}

	s3Client, err := newS3Client(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}
	profiles, err := loadProfiles(ctx, cfg, s3Client, logger)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}

	sessions, closeSessions, err := openSessions(cfg, pool)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer closeSessions()

	passages := repository.NewPassageRepository(pool)
	answerLogs := repository.NewAnswerLogRepository(pool)

	llm := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      cfg.EmbeddingModel,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		ChatModel:           cfg.ChatModel,
		Temperature:         cfg.Temperature,
	})

	answerSvc := service.NewAnswerService(service.AnswerServiceConfig{
		Embedder:      llm,
		Retriever:     newRetriever(cfg, passages, logger),
		Generator:     llm,
		Sessions:      sessions,
		AnswerLogs:    answerLogs,
		Profiles:      profiles,
		RetrievalMode: cfg.RetrievalMode,
		Logger:        logger,
	})

	limiter, err := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitClients)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}

	var adminHandler *handlers.AdminHandler
	if cfg.HasAdmin() {
		adminHandler = handlers.NewAdminHandler(service.NewAdminService(profiles))
	}

	router := server.NewRouter(server.RouterConfig{
		Logger:         logger,
		AdminToken:     cfg.AdminToken,
		RateLimiter:    limiter,
		AnswerHandler:  handlers.NewAnswerHandler(answerSvc, cfg.RequestTimeout),
		SessionHandler: handlers.NewSessionHandler(service.NewSessionService(sessions)),
		AdminHandler:   adminHandler,
		Ready: func(r *http.Request) error {
			return pool.Ping(r.Context())
		},
	})

	var workers []*jobs.Worker
	startWorker := func(w *jobs.Worker) {
		workers = append(workers, w)
		go w.Start(ctx)
	}

	switch {
	case cfg.ProfilePath != "":
		go func() {
			if err := profile.Watch(ctx, profiles, cfg.ProfilePath, logger); err != nil {
				logger.Warn("profile watcher stopped", zap.Error(err))
			}
		}()
	case cfg.ProfileS3Key != "":
		startWorker(jobs.NewWorker("profile-poll", profiles, cfg.ProfilePollInterval, jobs.WithLogger(logger)))
	}

	if cfg.RenormalizeInterval > 0 {
		renorm := jobs.NewRenormalizeWorker(passages, profiles, cfg.RenormalizeBatch, logger)
		startWorker(jobs.NewWorker("renormalize", renorm, cfg.RenormalizeInterval,
			jobs.WithLogger(logger), jobs.WithRunAtStart()))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port), zap.String("retrieval_mode", cfg.RetrievalMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("shutting down")

	for _, w := range workers {
		w.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	_ = os.Stdout.Sync()
	return nil
}
