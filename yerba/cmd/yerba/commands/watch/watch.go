package watch

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lyonslab/yerba/server/api/msg/documents"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/cli"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/commands"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/watch_ui"
)

func init() {
	watchCmd.Flags().BoolVar(
		&watchCmdConfig.followEvents,
		"follow-events",
		false,
		"Follow the monitor's event stream instead of polling the daemon.")
	commands.RootCmd.AddCommand(watchCmd)
}

var watchCmdConfig = struct {
	followEvents bool
}{}

var watchCmd = &cobra.Command{
	Use:           "watch <workflow-id>",
	Short:         "Watch a workflow until it finishes",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := commands.ParseWorkflowID(args[0])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := commands.NewClient()
		if err != nil {
			return err
		}
		defer c.Close()

		opts := watch_ui.DefaultOptions()
		if commands.Global.JSON {
			opts.Spinners = false
			opts.Out = log.New(io.Discard, "", 0)
		}
		watcher := watch_ui.NewWatcher(c, opts)

		if watchCmdConfig.followEvents {
			status, err := watcher.FollowEvents(ctx, commands.MonitorURL(), id)
			if err != nil {
				return err
			}
			if commands.Global.JSON {
				commands.PrintJSON(&documents.StatusResponse{Status: status.Name()})
			}
			return nil
		}

		report, err := watcher.Watch(ctx, id)
		if err != nil {
			return err
		}
		if commands.Global.JSON {
			commands.PrintJSON(report)
		} else if opts.Spinners {
			cli.Stdout.Print(commands.StatusMessage(report.Status, id))
		}
		return nil
	},
}
