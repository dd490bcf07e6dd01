package workflows

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/api/msg/documents"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/commands"
)

const timeFormat = "2006-01-02 15:04:05"

func init() {
	commands.RootCmd.AddCommand(workflowsCmd)
}

var workflowsCmd = &cobra.Command{
	Use:           "workflows [workflow-id]...",
	Short:         "List scheduled workflows",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var ids []models.WorkflowID
		for _, arg := range args {
			id, err := commands.ParseWorkflowID(arg)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		ctx, cancel := context.WithTimeout(context.Background(), commands.RequestTimeout)
		defer cancel()

		c, err := commands.NewClient()
		if err != nil {
			return err
		}
		defer c.Close()

		rows, err := c.Workflows(ctx, ids...)
		if err != nil {
			return err
		}
		commands.PrintDocument(&documents.WorkflowsResponse{Workflows: rows}, func() string {
			return renderRows(rows)
		})
		return nil
	},
}

func renderRows(rows []documents.WorkflowRow) string {
	if len(rows) == 0 {
		return "No workflows have been scheduled."
	}
	var out strings.Builder
	table := tabwriter.NewWriter(&out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "ID\tSUBMITTED\tCOMPLETED\tSTATUS")
	for _, row := range rows {
		completed := "-"
		if row.Completed != nil {
			completed = row.Completed.Format(timeFormat)
		}
		fmt.Fprintf(table, "%d\t%s\t%s\t%s\n",
			row.ID, row.Submitted.Format(timeFormat), completed, row.Status)
	}
	table.Flush()
	return strings.TrimRight(out.String(), "\n")
}
