package admin

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/supportdesk/internal/config"
	"github.com/cloo-solutions/supportdesk/internal/jobs"
	"github.com/cloo-solutions/supportdesk/internal/profile"
	"github.com/cloo-solutions/supportdesk/internal/repository"
)

// NormalizeCmd returns the normalize command
func NormalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Re-normalize stored passages, or preview normalization of a string",
		Long: `Without flags, rewrites normalized_content for every passage that was
normalized by an older profile. With --text, prints the normalized form of the
given string using the active profile (or --profile) and exits.`,
		RunE: runNormalize,
	}

	cmd.Flags().String("text", "", "Preview normalization of this text instead of updating passages")
	cmd.Flags().String("profile", "", "Profile file to use for --text (defaults to the embedded profile)")
	cmd.Flags().Int("batch", jobs.DefaultRenormalizeBatch, "Passages per batch")

	return cmd
}

func runNormalize(cmd *cobra.Command, args []string) error {
	if text, _ := cmd.Flags().GetString("text"); text != "" {
		path, _ := cmd.Flags().GetString("profile")
		snap, err := snapshotFromFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), snap.Normalizer.Normalize(text))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	s3Client, err := newS3Client(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}
	profiles, err := loadProfiles(ctx, cfg, s3Client, logger)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}

	batch, _ := cmd.Flags().GetInt("batch")
	worker := jobs.NewRenormalizeWorker(repository.NewPassageRepository(pool), profiles, batch, logger)
	stats, err := worker.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("renormalization finished",
		zap.String("normalizer_version", stats.Version),
		zap.Int("scanned", stats.Scanned),
		zap.Int("updated", stats.Updated),
		zap.Int("failed", stats.Failed),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "normalizer %s: %d scanned, %d updated, %d failed\n",
		stats.Version, stats.Scanned, stats.Updated, stats.Failed)
	if stats.Failed > 0 {
		return fmt.Errorf("%d passages failed to update", stats.Failed)
	}
	return nil
}

func snapshotFromFile(path string) (*profile.Snapshot, error) {
	if path == "" {
		return profile.MustDefault(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return profile.Parse(data)
}
