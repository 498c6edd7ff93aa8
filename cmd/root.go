// Package cmd defines the CLI commands of the shopfinder executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/shopfinder-crawler/internal/app"
	"github.com/JakeFAU/shopfinder-crawler/internal/config"
	"github.com/JakeFAU/shopfinder-crawler/internal/logging"
	"github.com/JakeFAU/shopfinder-crawler/internal/runner"
)

// envKeyType is the key for storing the loaded environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env is what every subcommand gets after the root pre-run hook.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// App is the part of the application the commands use. It lets tests
// swap in a fake.
type App interface {
	RunID() string
	Run(ctx context.Context, codes []string) (runner.Summary, error)
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		envFiles []string
	)
	cmd := &cobra.Command{
		Use:   "shopfinder",
		Short: "Scrapes organic store listings by postal code.",
		Long: `shopfinder searches a store locator for every postal code in its input,
expands the result list until it stops growing, visits each store's detail
page and writes one canonical record per store.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Config and logging are ready before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config; missing files are skipped")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newParseAddressCmd())
	cmd.AddCommand(newSelectorsCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

// Execute runs the root command until it finishes or the process is
// interrupted, and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
