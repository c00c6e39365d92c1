package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dcshock/checkpipe/config"
)

// NewRunCommand returns the command running every stage of a run config with the tasks
// and sources of reg.
func NewRunCommand(reg *config.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config.yml>",
		Short: "Run the stages of a run config, resuming from what earlier runs finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, reg, args[0])
		},
	}
	flags := cmd.Flags()
	addPartFlag(flags)
	addVerifyFlag(flags)
	cmd.PreRun = bindCommandFlags
	return cmd
}

func run(cmd *cobra.Command, reg *config.Registry, path string) error {
	s, err := newSession(path)
	if err != nil {
		return err
	}
	o, err := s.orchestrator(reg)
	if err != nil {
		return s.finish(err)
	}
	s.logger.Info("starting run",
		zap.String("config", path),
		zap.String("run_id", o.RunID()),
		zap.String("path", s.cfg.RunPath()),
		zap.Int("stages", len(s.cfg.Stages)))
	return s.finish(o.Run(cmd.Context()))
}
