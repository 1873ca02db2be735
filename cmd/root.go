package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	// Load .env before Viper reads the environment.
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archiver/internal/config"
	"github.com/JakeFAU/newsletter-archiver/internal/logging"
)

// appKeyType is the key for storing the app in the command context.
type appKeyType string

const appKey appKeyType = "app"

// app holds what every subcommand needs once config is loaded.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

// loadApp is a variable so tests can inject a config without touching disk.
var loadApp = func(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Builds a browsable offline archive of a newsletter.",
		Long: `archiver discovers newsletter issues from a listing page, downloads each
issue with its images and document file into a dated folder tree, rewrites
image references to the local copies, and writes an index page grouped by
year and month.`,
		SilenceUsage: true,

		// Runs before every subcommand so each one gets a loaded config and logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cfgFile)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(a.logger)
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app); ok && a != nil {
				_ = a.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(
		newDiscoverCmd(),
		newBuildCmd(),
		newServeCmd(),
		newMirrorCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "archiver: %v\n", err)
		os.Exit(1)
	}
}
