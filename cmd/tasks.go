package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dcshock/checkpipe/config"
)

// NewTasksCommand returns the command listing the task types a run config may use.
func NewTasksCommand(reg *config.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the registered task types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, name := range reg.Names() {
				if reg.IsJoin(name) {
					fmt.Fprintf(out, "%s (join)\n", name)
					continue
				}
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}
