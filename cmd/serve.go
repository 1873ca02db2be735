package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archiver/internal/api"
	"github.com/JakeFAU/newsletter-archiver/internal/metrics"
	"github.com/JakeFAU/newsletter-archiver/internal/storage/postgres"
	"github.com/JakeFAU/newsletter-archiver/internal/store"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a built archive over HTTP",
		Long: `Serves the index page and every archived file from archive.base_folder.
When db.dsn is set, build history is available under /api/runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, port int) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg := a.cfg
	if port > 0 {
		cfg.Server.Port = port
	}
	metrics.Init()

	var repo store.RunRepository
	if cfg.DB.DSN != "" {
		runStore, err := postgres.NewRunStore(ctx, cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("connect run store: %w", err)
		}
		defer runStore.Close()
		repo = runStore
	}

	apiServer, err := api.NewServer(api.Config{
		Root:          cfg.Archive.BaseFolder,
		IndexFilename: cfg.Archive.IndexFilename,
	}, repo, a.logger.Named("api"))
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", cfg.Server.Port), zap.String("root", cfg.Archive.BaseFolder))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}
