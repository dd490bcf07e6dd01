package health

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lyonslab/yerba/server/api/msg/documents"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/commands"
)

func init() {
	commands.RootCmd.AddCommand(healthCmd)
}

var healthCmd = &cobra.Command{
	Use:           "health",
	Short:         "Check that the daemon is answering requests",
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

		status, err := c.Health(ctx)
		if err != nil {
			return errors.Wrapf(err, "error: the daemon at %s did not answer", commands.ServerAddress())
		}
		commands.PrintDocument(&documents.StatusResponse{Status: status}, func() string {
			return fmt.Sprintf("The daemon at %s answered with status %s.", commands.ServerAddress(), status)
		})
		return nil
	},
}
