package schedule

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lyonslab/yerba/common/parser"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/cli"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/commands"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/watch_ui"
)

func init() {
	scheduleCmd.Flags().StringVarP(
		&scheduleCmdConfig.workflowFile,
		"file",
		"f",
		"",
		"The workflow file to schedule (json, yaml, jsonnet or hcl).")
	scheduleCmd.MarkFlagRequired("file")
	scheduleCmd.Flags().BoolVar(
		&scheduleCmdConfig.watch,
		"watch",
		false,
		"Stay attached and render progress until the workflow finishes.")
	commands.RootCmd.AddCommand(scheduleCmd)
}

var scheduleCmdConfig = struct {
	workflowFile string
	watch        bool
}{}

var scheduleCmd = &cobra.Command{
	Use:           "schedule -f <workflow-file>",
	Short:         "Schedule a workflow on the daemon",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := parser.NewWorkflowParser().ParseFile(scheduleCmdConfig.workflowFile)
		if err != nil {
			return err
		}
		// Reject locally with the same reasons the daemon would use, so a
		// bad workflow never costs a round trip.
		if validation := spec.Validate(); validation != nil {
			for _, jobError := range validation.JobErrors {
				cli.Stderr.Printf("%s", jobError.Error())
			}
			return errors.New(validation.Message)
		}

		ctx, cancel := context.WithTimeout(context.Background(), commands.RequestTimeout)
		defer cancel()

		c, err := commands.NewClient()
		if err != nil {
			return err
		}
		defer c.Close()

		response, err := c.Schedule(ctx, spec)
		if err != nil {
			return err
		}
		if response.ID == nil {
			for _, jobError := range response.Errors {
				cli.Stderr.Printf("%s", jobError.Error())
			}
			return errors.Errorf("error: the daemon rejected the workflow with status %s", response.Status)
		}
		id := *response.ID
		commands.PrintDocument(response, func() string {
			return commands.StatusMessage(response.Status, id)
		})

		if !scheduleCmdConfig.watch || commands.Global.JSON {
			return nil
		}
		watchCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		opts := watch_ui.DefaultOptions()
		watcher := watch_ui.NewWatcher(c, opts)
		report, err := watcher.Watch(watchCtx, id)
		if err != nil {
			return err
		}
		if opts.Spinners {
			cli.Stdout.Print(commands.StatusMessage(report.Status, id))
		}
		return nil
	},
}
