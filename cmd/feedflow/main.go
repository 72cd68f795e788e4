// feedflow runs tabular ETL jobs: product feeds in, load-ready files out.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/razeghi71/feedflow/config"
	"github.com/razeghi71/feedflow/logging"
	"github.com/razeghi71/feedflow/metrics"
)

var (
	version   = "0.1.0"
	buildDate = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cli holds the global flags shared by every command.
type cli struct {
	cfgFile  string
	logLevel string
	out      io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:   "feedflow",
		Short: "feedflow - tabular ETL for product feeds",
		Long: `feedflow reads a source (an XML feed, CSV, JSON, Avro, Parquet or a
SQL query), runs it through derive, filter, dedup, join, rename and drop
stages, and writes the result to CSV, Parquet or Avro.

Run the reference jobs:
  feedflow run examples/products/products.yaml examples/products/product_variants.yaml

Explore a file:
  feedflow query 'feed.csv | filter { PRICE > 0 } | head 5'`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		c.runCmd(),
		c.validateCmd(),
		c.queryCmd(),
		c.scheduleCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "feedflow %s (built %s)\n", version, buildDate)
			},
		},
	)
	return root
}

// setup loads the app config, builds the logger and installs the metrics
// backend. The returned func flushes metrics and syncs the logger.
func (c *cli) setup() (*config.Config, *logging.Logger, func(), error) {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing logger: %w", err)
	}

	backend, err := cfg.Metrics.NewBackend()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing metrics: %w", err)
	}
	metrics.SetBackend(backend)

	done := func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics flush failed", "error", err)
		}
		metrics.SetBackend(nil)
		_ = log.Sync()
	}
	return cfg, log, done, nil
}
