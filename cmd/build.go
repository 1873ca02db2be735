package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archiver/internal/config"
	collyfetcher "github.com/JakeFAU/newsletter-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/newsletter-archiver/internal/metrics"
	"github.com/JakeFAU/newsletter-archiver/internal/pipeline"
	"github.com/JakeFAU/newsletter-archiver/internal/policy/hosts"
	"github.com/JakeFAU/newsletter-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/newsletter-archiver/internal/progress"
	"github.com/JakeFAU/newsletter-archiver/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/newsletter-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/newsletter-archiver/internal/records"
	"github.com/JakeFAU/newsletter-archiver/internal/storage/postgres"
)

const hubCloseTimeout = 10 * time.Second

func newBuildCmd() *cobra.Command {
	var recordsFile string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Materialize the archive from a records file",
		Long: `Plans one folder per dated record, downloads every document, PDF and
image with at most fetch.max_concurrent transfers in flight, rewrites image
references to the local copies, and writes the index page.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd, recordsFile)
		},
	}
	cmd.Flags().StringVarP(&recordsFile, "records", "r", "", "records file (overrides input.records_file)")
	return cmd
}

func runBuild(cmd *cobra.Command, recordsFile string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg := a.cfg
	if recordsFile == "" {
		recordsFile = cfg.Input.RecordsFile
	}

	raw, err := records.Load(recordsFile)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	recs := records.Prepare(raw, records.Options{
		DateLayout:    cfg.Input.DateLayout,
		AlternateOnly: cfg.Input.AlternateOnly,
	}, a.logger.Named("records"))

	metrics.Init()
	hub, cleanup, err := buildProgressHub(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	deps := pipeline.Deps{
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Fetch.UserAgent,
			RespectRobots: cfg.Fetch.RespectRobots,
			Timeout:       cfg.Fetch.Timeout(),
			Logger:        a.logger.Named("fetcher"),
		}),
		Policy:  hosts.New(cfg.Fetch.BlockedHosts),
		Emitter: hub,
		Logger:  a.logger.Named("pipeline"),
	}
	if cfg.Fetch.PerHostRPS > 0 {
		deps.Limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Fetch.PerHostRPS,
			DefaultBurst: cfg.Fetch.PerHostBurst,
		})
	}
	if cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		defer func() {
			if cerr := pub.Close(); cerr != nil {
				a.logger.Warn("failed to close publisher", zap.Error(cerr))
			}
		}()
		deps.Publisher = pub
	}

	p, err := pipeline.New(cfg.Pipeline(), deps)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}
	res, err := p.Run(ctx, recs)
	if err != nil {
		return fmt.Errorf("build archive: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), renderResult(res))
	return err
}

// buildProgressHub fans pipeline events out to the log, Prometheus, and the
// run history table when db.dsn is set.
func buildProgressHub(ctx context.Context, cfg config.Config, logger *zap.Logger) (*progress.Hub, func(), error) {
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	hubSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress")), promSink}

	var runStore *postgres.RunStore
	if cfg.DB.DSN != "" {
		runStore, err = postgres.NewRunStore(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect run store: %w", err)
		}
		if err := runStore.EnsureSchema(ctx); err != nil {
			runStore.Close()
			return nil, nil, fmt.Errorf("ensure run schema: %w", err)
		}
		hubSinks = append(hubSinks, sinks.NewStoreSink(runStore, logger.Named("runstore")))
	}

	hub := progress.NewHub(progress.Config{Logger: logger.Named("hub")}, hubSinks...)
	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), hubCloseTimeout)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("failed to flush progress events", zap.Error(err))
		}
		if n := hub.Dropped(); n > 0 {
			logger.Warn("progress events dropped during run", zap.Int64("dropped", n))
		}
		if runStore != nil {
			runStore.Close()
		}
	}
	return hub, cleanup, nil
}
