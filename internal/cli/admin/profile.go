package admin

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/supportdesk/internal/config"
	"github.com/cloo-solutions/supportdesk/internal/profile"
)

const profileContentType = "application/toml"

// ProfileCmd returns the profile command
func ProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Validate and publish answer profiles",
	}
	cmd.AddCommand(profileValidateCmd())
	cmd.AddCommand(profilePushCmd())
	return cmd
}

func profileValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check that a profile file parses and compiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshotFromFile(args[0])
			if err != nil {
				return err
			}
			printSnapshot(cmd, snap)
			return nil
		},
	}
}

func profilePushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <file>",
		Short: "Validate a profile and upload it to the configured bucket",
		Long: `Validates the profile locally, then uploads it to S3 under --key (or
SUPPORTDESK_PROFILE_S3_KEY). Servers polling that key pick it up on the next tick.`,
		Args: cobra.ExactArgs(1),
		RunE: runProfilePush,
	}
	cmd.Flags().String("key", "", "Object key (overrides SUPPORTDESK_PROFILE_S3_KEY)")
	return cmd
}

func runProfilePush(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read profile: %w", err)
	}
	snap, err := profile.Parse(data)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		key = cfg.ProfileS3Key
	}
	if key == "" {
		return fmt.Errorf("no object key: pass --key or set SUPPORTDESK_PROFILE_S3_KEY")
	}

	ctx := context.Background()
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}
	if client == nil {
		return fmt.Errorf("S3 is not configured")
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return err
	}
	if err := client.PutObject(ctx, key, data, profileContentType); err != nil {
		return err
	}

	printSnapshot(cmd, snap)
	fmt.Fprintf(cmd.OutOrStdout(), "uploaded to s3://%s/%s\n", cfg.S3Bucket, key)
	return nil
}

func printSnapshot(cmd *cobra.Command, snap *profile.Snapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "profile:    %s\n", snap.Profile.Name)
	fmt.Fprintf(out, "version:    %s\n", snap.Version)
	fmt.Fprintf(out, "normalizer: %s\n", snap.Normalizer.Version())
}
