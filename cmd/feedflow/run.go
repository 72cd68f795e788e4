package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/razeghi71/feedflow/config"
	"github.com/razeghi71/feedflow/logging"
	"github.com/razeghi71/feedflow/pipeline"
)

func (c *cli) runCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "run <job.yaml>...",
		Short: "Run jobs in the given order",
		Long: `Run each job file in order. A job that fails stops the remaining ones,
since later jobs usually read what earlier ones loaded.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, done, err := c.setup()
			if err != nil {
				return err
			}
			defer done()

			for _, path := range args {
				res, err := runJob(cmd.Context(), cfg, log, path)
				if res != nil && !quiet {
					printSummary(cmd.OutOrStdout(), path, res)
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print the stage summary")
	return cmd
}

// runJob loads, builds and runs one job file.
func runJob(ctx context.Context, cfg *config.Config, log *logging.Logger, path string) (*pipeline.Result, error) {
	job, err := config.LoadJob(path)
	if err != nil {
		return nil, err
	}
	for _, iss := range job.Validate() {
		if iss.Severity == config.SeverityWarning {
			log.Warn("job definition", "job", job.Name, "path", iss.Path, "issue", iss.Message)
		}
	}
	p, err := job.Build(cfg, log)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}

func printSummary(w io.Writer, path string, res *pipeline.Result) {
	fmt.Fprintf(w, "%s  run %s  read %d  written %d  in %s\n",
		path, res.RunID, res.RowsRead, res.RowsWritten, res.Duration.Round(time.Millisecond))
	if len(res.Stages) == 0 {
		return
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"#", "stage", "label", "in", "out", "dropped"})
	tw.SetAutoFormatHeaders(false)
	tw.SetBorder(false)
	for _, st := range res.Stages {
		tw.Append([]string{
			strconv.Itoa(st.Index),
			st.Stage,
			st.Label,
			strconv.Itoa(st.RowsIn),
			strconv.Itoa(st.RowsOut),
			strconv.Itoa(st.Dropped()),
		})
	}
	tw.Render()
}

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <job.yaml>...",
		Short: "Check job files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				job, err := config.LoadJob(path)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", path, err)
					failed++
					continue
				}
				issues := job.Validate()
				for _, iss := range issues {
					fmt.Fprintf(out, "%s: %s\n", path, iss)
				}
				if config.HasErrors(issues) {
					failed++
					continue
				}
				fmt.Fprintf(out, "%s: ok\n", path)
			}
			if failed > 0 {
				return errors.New("validation failed for " + strconv.Itoa(failed) + " job(s)")
			}
			return nil
		},
	}
}
