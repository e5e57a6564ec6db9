package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cloo-solutions/supportdesk/internal/config"
	"github.com/cloo-solutions/supportdesk/internal/database"
	"github.com/cloo-solutions/supportdesk/internal/logging"
	"github.com/cloo-solutions/supportdesk/internal/profile"
	"github.com/cloo-solutions/supportdesk/internal/repository"
	"github.com/cloo-solutions/supportdesk/internal/retrieval"
	"github.com/cloo-solutions/supportdesk/internal/service"
	"github.com/cloo-solutions/supportdesk/internal/storage"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.With(zap.String("env", cfg.Environment)), nil
}

func openPool(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	return database.NewPool(ctx, database.Config{
		URL:          cfg.DatabaseURL,
		MaxConns:     cfg.DBMaxConns,
		MinConns:     cfg.DBMinConns,
		PingAttempts: 5,
		PingBackoff:  500 * time.Millisecond,
		Logger:       logger,
	})
}

func newS3Client(ctx context.Context, cfg *config.Config) (*storage.S3Client, error) {
	if !cfg.HasS3() {
		return nil, nil
	}
	return storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    cfg.S3UsePathStyle,
	})
}

// loadProfiles builds the profile store from the configured source. The
// first load must succeed; later reload failures keep the active profile.
func loadProfiles(ctx context.Context, cfg *config.Config, s3 *storage.S3Client, logger *zap.Logger) (*profile.Store, error) {
	var src profile.Source
	switch {
	case cfg.ProfilePath != "":
		src = &profile.FileSource{Path: cfg.ProfilePath}
	case cfg.ProfileS3Key != "":
		if s3 == nil {
			return nil, fmt.Errorf("PROFILE_S3_KEY is set but S3 is not configured")
		}
		src = &profile.S3Source{Client: s3, Key: cfg.ProfileS3Key}
	default:
		logger.Info("using embedded default profile")
		return profile.NewStore(profile.MustDefault(), nil, logger), nil
	}

	store := profile.NewStore(profile.MustDefault(), src, logger)
	if _, err := store.Reload(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// sessionBackend is what both session stores provide.
type sessionBackend interface {
	service.SessionStore
	service.TurnLister
}

func openSessions(cfg *config.Config, pool *pgxpool.Pool) (sessionBackend, func(), error) {
	if cfg.SessionBackend == config.SessionBackendSQLite {
		repo, err := repository.OpenSQLiteSessions(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	}
	return repository.NewSessionRepository(pool), func() {}, nil
}

func newRetriever(cfg *config.Config, passages *repository.PassageRepository, logger *zap.Logger) retrieval.Retriever {
	if cfg.RetrievalMode == config.RetrievalModeBackend {
		return retrieval.NewBackendRetriever(passages)
	}
	return retrieval.NewEngine(passages, logger)
}
