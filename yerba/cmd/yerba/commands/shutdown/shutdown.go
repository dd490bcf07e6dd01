package shutdown

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lyonslab/yerba/yerba/cmd/yerba/cli"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/commands"
)

func init() {
	commands.RootCmd.AddCommand(shutdownCmd)
}

var shutdownCmd = &cobra.Command{
	Use:           "shutdown",
	Short:         "Ask the daemon to shut down",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), commands.RequestTimeout)
		defer cancel()

		c, err := commands.NewClient()
		if err != nil {
			return err
		}
		defer c.Close()

		// The daemon acknowledges a shutdown request by hanging up.
		err = c.Shutdown(ctx)
		if err != nil {
			return err
		}
		cli.Stdout.Printf("The daemon at %s is shutting down.", commands.ServerAddress())
		return nil
	},
}
