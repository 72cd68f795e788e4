package main

import (
	"github.com/spf13/cobra"

	"github.com/razeghi71/feedflow/loader"
	"github.com/razeghi71/feedflow/parser"
	"github.com/razeghi71/feedflow/pipeline"
	"github.com/razeghi71/feedflow/sink"
)

func (c *cli) queryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "query '<file> | <op> | ...'",
		Short: "Run an ad-hoc pipeline over a file and print the result",
		Example: `  feedflow query 'users.csv | filter { age > 20 } | select name age'
  feedflow query 'feed.csv | join existing.csv on SKU = EXTERNAL_ID | head 5'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, done, err := c.setup()
			if err != nil {
				return err
			}
			defer done()

			q, err := parser.Parse(args[0])
			if err != nil {
				return err
			}
			p, err := pipeline.New(loader.File{Path: q.Source.Filename}).
				Named("query").
				WithLogger(log).
				WithWorkers(cfg.Engine.Workers).
				WithJoinPrefix(cfg.Engine.JoinPrefix).
				WithResolver(func(name string) (pipeline.Source, error) {
					return loader.File{Path: name}, nil
				}).
				Apply(q.Ops...).
				WriteTo(sink.Pretty{W: cmd.OutOrStdout(), Limit: limit}).
				Build()
			if err != nil {
				return err
			}
			_, err = p.Run(cmd.Context())
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "print at most n rows (0 prints all)")
	return cmd
}
