package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archiver/internal/discovery"
	"github.com/JakeFAU/newsletter-archiver/internal/records"
)

func newDiscoverCmd() *cobra.Command {
	var (
		startURL string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Crawl the newsletter listing and save a records file",
		Long: `Reads every row of the listing table, follows each issue link to collect
its image URLs, and writes the result as JSON (or YAML for .yaml/.yml paths)
for the build command.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDiscover(cmd, startURL, output)
		},
	}
	cmd.Flags().StringVar(&startURL, "url", "", "listing page URL (overrides discovery.start_url)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "records file to write (overrides discovery.output_file)")
	return cmd
}

func runDiscover(cmd *cobra.Command, startURL, output string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if startURL == "" {
		startURL = a.cfg.Discovery.StartURL
	}
	if output == "" {
		output = a.cfg.Discovery.OutputFile
	}
	if output == "" {
		return errors.New("no output file: set discovery.output_file or pass --output")
	}

	crawler, err := discovery.New(discovery.Config{
		StartURL:    startURL,
		UserAgent:   a.cfg.Fetch.UserAgent,
		Timeout:     a.cfg.Fetch.Timeout(),
		Parallelism: a.cfg.Fetch.MaxConcurrent,
		Logger:      a.logger.Named("discovery"),
	})
	if err != nil {
		return fmt.Errorf("init discovery: %w", err)
	}
	raw, err := crawler.Discover(cmd.Context())
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	if err := records.Save(cmd.Context(), output, raw); err != nil {
		return fmt.Errorf("save records: %w", err)
	}
	a.logger.Info("discovery finished", zap.String("output", output), zap.Int("rows", len(raw)))
	return nil
}
