package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dcshock/checkpipe/config"
)

// NewPlanCommand returns the command printing what `run` would do with every stage.
func NewPlanCommand(reg *config.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <config.yml>",
		Short: "Show which stages a run would skip, rerun or resume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return plan(cmd, reg, args[0])
		},
	}
	addPartFlag(cmd.Flags())
	cmd.PreRun = bindCommandFlags
	return cmd
}

func plan(cmd *cobra.Command, reg *config.Registry, path string) error {
	s, err := newSession(path)
	if err != nil {
		return err
	}
	// Planning runs nothing, so there is nothing to export.
	s.metricsFile = ""
	o, err := s.orchestrator(reg)
	if err != nil {
		return s.finish(err)
	}
	plans, err := o.Plan(cmd.Context())
	if err != nil {
		return s.finish(err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tOUTPUT\tSTATUS\tACTION\tRESUME")
	for _, p := range plans {
		resume := "-"
		if p.ResumeFrom >= 0 {
			resume = fmt.Sprintf("task %d (%s)", p.ResumeFrom, p.ResumeDir)
		}
		output := p.Output
		if output == "" {
			output = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Stage, output, p.Status, p.Action, resume)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return s.finish(nil)
}
