package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/shopfinder-crawler/internal/config"
	"github.com/JakeFAU/shopfinder-crawler/internal/input"
)

type crawlFlags struct {
	postalCodes []string
	file        string
	start       int
	limit       int
	radius      int
	workers     int
	output      string
	static      bool
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a scrape over the configured postal codes",
		Long: `Searches the store locator once per postal code, loads every result,
visits each new detail page and writes the records to the enabled outputs.
A postal code that fails is logged and skipped; Ctrl-C stops the run after
the current page and still flushes every output.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, f)
		},
	}
	cmd.Flags().StringSliceVar(&f.postalCodes, "postal-codes", nil, "postal codes to search instead of the input file")
	cmd.Flags().StringVar(&f.file, "input", "", "JSON array of postal codes")
	cmd.Flags().IntVar(&f.start, "start", -1, "skip this many postal codes")
	cmd.Flags().IntVar(&f.limit, "limit", -1, "process at most this many postal codes (0 = all)")
	cmd.Flags().IntVar(&f.radius, "radius", 0, "search radius in km")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "postal codes processed in parallel")
	cmd.Flags().StringVar(&f.output, "output", "", "JSONL output path (- for stdout)")
	cmd.Flags().BoolVar(&f.static, "static-details", false, "fetch detail pages over plain HTTP")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, f crawlFlags) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cfg := e.cfg
	flags := cmd.Flags()
	if flags.Changed("postal-codes") {
		cfg.Input.PostalCodes = f.postalCodes
	}
	if flags.Changed("input") {
		cfg.Input.File = f.file
	}
	if flags.Changed("start") {
		cfg.Input.StartIndex = f.start
	}
	if flags.Changed("limit") {
		cfg.Input.Limit = f.limit
	}
	if flags.Changed("radius") {
		cfg.Search.RadiusKm = f.radius
	}
	if flags.Changed("workers") {
		cfg.Run.Workers = f.workers
	}
	if flags.Changed("output") {
		cfg.Output.JSONL.Enabled = true
		cfg.Output.JSONL.Path = f.output
	}
	if f.static {
		cfg.Detail.Mode = config.DetailModeStatic
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	codes, err := input.Load(cfg.InputOptions(), e.logger)
	if err != nil {
		return fmt.Errorf("load postal codes: %w", err)
	}

	ctx := cmd.Context()
	appInstance, err := newApp(ctx, cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	sum, runErr := appInstance.Run(ctx, codes)
	closeErr := appInstance.Close()

	out, err := json.MarshalIndent(sum, "", "  ")
	if err == nil {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), string(out))
	}
	if closeErr != nil {
		return fmt.Errorf("flush outputs: %w", closeErr)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	e.logger.Info("Crawl command finished.",
		zap.String("run_id", appInstance.RunID()),
		zap.Bool("interrupted", runErr != nil),
	)
	return nil
}
