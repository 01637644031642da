package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/dwelltime/internal/app"
	"github.com/goodtune/dwelltime/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long:  `Issue API keys and purge expired ones against the configured credential store.`,
}

var keysIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a new API key",
	Long: `Issue a new API key and print it. The key is shown only once; only its
digest is stored.`,
	Example: `  dwelltime -c /etc/dwelltime/config.yaml keys issue`,
	Args:    cobra.NoArgs,
	RunE:    runKeysIssue,
}

var keysPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete long-expired API keys now",
	Args:  cobra.NoArgs,
	RunE:  runKeysPurge,
}

func init() {
	keysCmd.AddCommand(keysIssueCmd)
	keysCmd.AddCommand(keysPurgeCmd)
	rootCmd.AddCommand(keysCmd)
}

func loadQuiet() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}
	// Keep stdout clean for the key itself.
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	return cfg, logger, nil
}

func runKeysIssue(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadQuiet()
	if err != nil {
		return err
	}

	gate, cleanup, err := app.InitGate(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cred, err := gate.Issue(ctx)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	_, _ = bold.Fprintln(os.Stdout, cred.Token)
	_, _ = fmt.Fprintf(os.Stderr, "Expires: %s\n", cred.ExpiresAt.Format(time.RFC3339))
	return nil
}

func runKeysPurge(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadQuiet()
	if err != nil {
		return err
	}

	purger, cleanup, err := app.InitPurger(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := purger.Purge(ctx)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(os.Stdout, "Deleted %d expired API key(s)\n", deleted)
	return nil
}
