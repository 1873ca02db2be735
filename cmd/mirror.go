package cmd

import (
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archiver/internal/metrics"
	"github.com/JakeFAU/newsletter-archiver/internal/mirror"
	"github.com/JakeFAU/newsletter-archiver/internal/storage/gcs"
)

func newMirrorCmd() *cobra.Command {
	var bucket string
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Upload a built archive to a GCS bucket",
		Long: `Copies every visible file under archive.base_folder to
gs://<storage.gcs_bucket>/<storage.prefix>/, keeping the relative layout so
the index links still resolve.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMirror(cmd, bucket)
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "destination bucket (overrides storage.gcs_bucket)")
	return cmd
}

func runMirror(cmd *cobra.Command, bucket string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg := a.cfg
	if bucket == "" {
		bucket = cfg.Storage.GCSBucket
	}
	if bucket == "" {
		return errors.New("no bucket: set storage.gcs_bucket or pass --bucket")
	}
	metrics.Init()

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			a.logger.Warn("failed to close storage client", zap.Error(cerr))
		}
	}()

	blobs, err := gcs.New(client, gcs.Config{Bucket: bucket, Prefix: cfg.Storage.Prefix})
	if err != nil {
		return fmt.Errorf("init gcs store: %w", err)
	}
	if err := blobs.CheckBucket(ctx); err != nil {
		return err
	}

	report, err := mirror.New(blobs, cfg.Storage.MaxConcurrentUploads, a.logger.Named("mirror")).Run(ctx, cfg.Archive.BaseFolder)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), renderMirror(bucket, cfg.Storage.Prefix, report)); err != nil {
		return err
	}
	return report.Err()
}
