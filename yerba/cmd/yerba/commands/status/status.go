package status

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lyonslab/yerba/server/api/msg/documents"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/commands"
)

func init() {
	commands.RootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:           "status <workflow-id>",
	Short:         "Report the status of a workflow and its jobs",
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

		report, err := c.Status(ctx, id)
		if err != nil {
			return err
		}
		commands.PrintDocument(report, func() string {
			return renderReport(report, args[0])
		})
		return nil
	},
}

func renderReport(report *documents.StatusReportResponse, idArg string) string {
	var out strings.Builder
	id, _ := commands.ParseWorkflowID(idArg)
	out.WriteString(commands.StatusMessage(report.Status, id))
	if len(report.Jobs) == 0 {
		return out.String()
	}
	out.WriteString("\n\n")

	table := tabwriter.NewWriter(&out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "#\tSTATUS\tELAPSED\tJOB")
	for i, job := range report.Jobs {
		fmt.Fprintf(table, "%d\t%s\t%s\t%s\n",
			i+1,
			commands.JobField(job, "status"),
			formatElapsed(job),
			commands.JobLabel(i, job))
	}
	table.Flush()
	return strings.TrimRight(out.String(), "\n")
}

func formatElapsed(job map[string]interface{}) string {
	elapsed, ok := job["elapsed"].(float64)
	if !ok || elapsed <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fs", elapsed)
}
