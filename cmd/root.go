// Package cmd contains all the commands included in the checkpipe binary.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	verboseFlag     = "verbose"
	logFormatFlag   = "log-format"
	logLevelFlag    = "log-level"
	partFlag        = "part"
	metricsFileFlag = "metrics-file"
	verifyFlag      = "verify-checksums"
)

// NewRootCommand enables all children commands to read flags from CLI flags or
// environment variables prefixed with CHECKPIPE (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetEnvPrefix("CHECKPIPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.SetDefault(partFlag, -1)

	cmd := &cobra.Command{
		Use:   "checkpipe",
		Short: "Run checkpointed multi-stage record pipelines",
		Long: `checkpipe runs the stages of a run config in order. Every finished directory
carries a completion marker, so an interrupted run resumes where it stopped: complete
stages are skipped, partial ones are rebuilt and a stage restarts from its last
complete checkpoint.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.BoolP(verboseFlag, "v", false, "log at debug level")
	mustBindPFlag(verboseFlag, flags.Lookup(verboseFlag))

	flags.String(logFormatFlag, "", "the log format to output logs in (text or json); overrides the run config")
	mustBindPFlag(logFormatFlag, flags.Lookup(logFormatFlag))

	flags.String(logLevelFlag, "", "the log level to use; overrides the run config")
	mustBindPFlag(logLevelFlag, flags.Lookup(logLevelFlag))

	flags.String(metricsFileFlag, "", "write run metrics in Prometheus text format to this file; overrides the run config")
	mustBindPFlag(metricsFileFlag, flags.Lookup(metricsFileFlag))

	return cmd
}
