package main

import (
	"os"

	"github.com/dcshock/checkpipe/cmd"
	"github.com/dcshock/checkpipe/config"
	"github.com/dcshock/checkpipe/textstages"
)

func main() {
	reg := config.NewRegistry()
	textstages.Register(reg)

	rootCmd := cmd.NewRootCommand()
	rootCmd.AddCommand(cmd.NewRunCommand(reg))
	rootCmd.AddCommand(cmd.NewReduceCommand(reg))
	rootCmd.AddCommand(cmd.NewPlanCommand(reg))
	rootCmd.AddCommand(cmd.NewTasksCommand(reg))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
