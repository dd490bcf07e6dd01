package restart

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lyonslab/yerba/server/api/msg/documents"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/commands"
)

func init() {
	commands.RootCmd.AddCommand(restartCmd)
}

var restartCmd = &cobra.Command{
	Use:           "restart <workflow-id>",
	Short:         "Restart a stored workflow from scratch",
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

		status, err := c.Restart(ctx, id)
		if err != nil {
			return err
		}
		commands.PrintDocument(&documents.StatusResponse{Status: status}, func() string {
			return commands.StatusMessage(status, id)
		})
		return nil
	},
}
