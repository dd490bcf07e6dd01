package commands

import (
	"github.com/spf13/cobra"

	"github.com/lyonslab/yerba/common/version"
	"github.com/lyonslab/yerba/server/cmd/yerba-tools/cli"
)

type GlobalConfig struct {
	Debug bool
}

var Global = &GlobalConfig{}

func init() {
	RootCmd.PersistentFlags().BoolVarP(
		&Global.Debug,
		"debug",
		"d",
		false,
		"Enable debug-level log output.")
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cli.Exit(RootCmd.Execute())
}

var RootCmd = &cobra.Command{
	Use:     "yerba-tools command",
	Short:   "Yerba maintenance tools",
	Long:    `Yerba maintenance tools`,
	Version: version.VersionToString(),
}
