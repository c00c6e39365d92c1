package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dcshock/checkpipe/config"
)

// NewReduceCommand returns the command merging the shards written by `run --part N`
// jobs into the unsharded directories.
func NewReduceCommand(reg *config.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reduce <config.yml>",
		Short: "Merge the part<N> shards of every stage into its directories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reduce(cmd, reg, args[0])
		},
	}
	addVerifyFlag(cmd.Flags())
	cmd.PreRun = bindCommandFlags
	return cmd
}

func reduce(cmd *cobra.Command, reg *config.Registry, path string) error {
	s, err := newSession(path)
	if err != nil {
		return err
	}
	o, err := s.orchestrator(reg)
	if err != nil {
		return s.finish(err)
	}
	s.logger.Info("starting reduce", zap.String("config", path), zap.String("path", s.cfg.RunPath()))
	return s.finish(o.Reduce(cmd.Context()))
}
