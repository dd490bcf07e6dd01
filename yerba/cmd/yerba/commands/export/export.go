package export

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lyonslab/yerba/common/makeflow"
	"github.com/lyonslab/yerba/common/parser"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/cli"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/commands"
)

func init() {
	exportCmd.Flags().StringVarP(
		&exportCmdConfig.workflowFile,
		"file",
		"f",
		"",
		"The workflow file to export (json, yaml, jsonnet or hcl).")
	exportCmd.MarkFlagRequired("file")
	exportCmd.Flags().StringVarP(
		&exportCmdConfig.output,
		"output",
		"o",
		"",
		"The file to write the Makeflow rules to. Defaults to <name>.makeflow; - writes to stdout.")
	commands.RootCmd.AddCommand(exportCmd)
}

var exportCmdConfig = struct {
	workflowFile string
	output       string
}{}

var exportCmd = &cobra.Command{
	Use:           "export -f <workflow-file>",
	Short:         "Render a workflow as a Makeflow rules file",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := parser.NewWorkflowParser().ParseFile(exportCmdConfig.workflowFile)
		if err != nil {
			return err
		}
		if validation := spec.Validate(); validation != nil {
			for _, jobError := range validation.JobErrors {
				cli.Stderr.Printf("%s", jobError.Error())
			}
			return errors.New(validation.Message)
		}

		rules := makeflow.Export(spec)
		output := exportCmdConfig.output
		if output == "-" {
			cli.Stdout.Print(rules)
			return nil
		}
		if output == "" {
			output = makeflow.Filename(spec)
		}
		err = os.WriteFile(output, []byte(rules), 0644)
		if err != nil {
			return fmt.Errorf("error writing %q: %w", output, err)
		}
		cli.Stdout.Printf("Exported %d jobs to %s.", len(spec.Jobs), output)
		return nil
	},
}
