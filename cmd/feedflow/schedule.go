package main

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/razeghi71/feedflow/config"
	"github.com/razeghi71/feedflow/logging"
	"github.com/razeghi71/feedflow/metrics"
)

func (c *cli) scheduleCmd() *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "schedule --cron '<spec>' <job.yaml>...",
		Short: "Run jobs on a cron schedule until interrupted",
		Long: `Run the jobs in order every time the cron spec fires. Each tick builds
fresh pipelines from the job files, so edits are picked up on the next run.
A tick that is still running when the next one fires is skipped.`,
		Example: `  feedflow schedule --cron '0 */6 * * *' products.yaml product_variants.yaml
  feedflow schedule --cron '@every 30m' products.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, done, err := c.setup()
			if err != nil {
				return err
			}
			defer done()

			ctx := cmd.Context()
			sched, err := newScheduler(ctx, cfg, log, spec, args)
			if err != nil {
				return err
			}
			sched.Start()
			log.Info("scheduler started", "cron", spec, "jobs", len(args))

			<-ctx.Done()
			log.Info("scheduler stopping")
			<-sched.Stop().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", "cron spec, e.g. '0 3 * * *' or '@every 1h'")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func newScheduler(ctx context.Context, cfg *config.Config, log *logging.Logger, spec string, jobs []string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		for _, path := range jobs {
			res, err := runJob(ctx, cfg, log, path)
			if err != nil {
				log.Error("scheduled job failed", "job", path, "error", err)
				return
			}
			log.Info("scheduled job finished", "job", path, "run_id", res.RunID, "rows_written", res.RowsWritten)
		}
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics flush failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return c, nil
}
