package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// mustBindPFlag attempts to bind a specific key to a pflag (as used by cobra) and panics
// if the binding fails with a non-nil error.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func mustBindEnv(input ...string) {
	if err := viper.BindEnv(input...); err != nil {
		panic("failed to bind env key: " + err.Error())
	}
}

func addPartFlag(flags *pflag.FlagSet) {
	flags.Int(partFlag, -1, "run as shard job N: every output directory becomes <dir>/partN")
}

func addVerifyFlag(flags *pflag.FlagSet) {
	flags.Bool(verifyFlag, false, "recompute the content checksum of complete directories before trusting them")
}

// bindCommandFlags binds the flags of the command being executed to viper. Several
// commands define the same flag, so binding happens when the command runs rather than
// when it is built.
func bindCommandFlags(command *cobra.Command, _ []string) {
	flags := command.Flags()
	if f := flags.Lookup(partFlag); f != nil {
		mustBindPFlag(partFlag, f)
		mustBindEnv(partFlag, "CHECKPIPE_PART")
	}
	if f := flags.Lookup(verifyFlag); f != nil {
		mustBindPFlag(verifyFlag, f)
		mustBindEnv(verifyFlag, "CHECKPIPE_VERIFY_CHECKSUMS")
	}
}
