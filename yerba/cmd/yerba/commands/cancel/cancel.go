package cancel

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lyonslab/yerba/server/api/msg/documents"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/commands"
)

func init() {
	commands.RootCmd.AddCommand(cancelCmd)
}

var cancelCmd = &cobra.Command{
	Use:           "cancel <workflow-id>",
	Short:         "Cancel a running workflow",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := commands.ParseWorkflowID(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), commands.RequestTimeout)
		defer cancel()

		c, err := commands.NewClient()
		if err != nil {
			return err
		}
		defer c.Close()

		status, err := c.Cancel(ctx, id)
		if err != nil {
			return err
		}
		commands.PrintDocument(&documents.StatusResponse{Status: status}, func() string {
			return commands.StatusMessage(status, id)
		})
		return nil
	},
}
