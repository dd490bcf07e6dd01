// Package makeflow renders a workflow specification as a Makeflow rules
// file, one rule per job. Workflows exported this way can be handed to a
// stock makeflow binary instead of the daemon.
package makeflow

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/common/util"
)

const (
	separator      = "->"
	fileLineFormat = "%s:%s\n"
	cmdLineFormat  = "\t%s %s\n"
)

// Export renders every job in the specification as a Makeflow rule: a file
// line mapping each path to its basename, then the tab-indented command.
// The rule format places outputs before the colon and inputs after it.
func Export(spec *models.WorkflowSpec) string {
	var rules strings.Builder
	for i := range spec.Jobs {
		rules.WriteString(formatJob(&spec.Jobs[i]))
	}
	return rules.String()
}

// Filename is the conventional file name for an exported workflow. The
// workflow name is escaped so it is always usable as a file name.
func Filename(spec *models.WorkflowSpec) string {
	name := spec.Name
	if name == "" {
		name = "unnamed"
	}
	return util.EscapeFileName(name) + ".makeflow"
}

func formatJob(job *models.JobSpec) string {
	return formatFileLine(job.Inputs, job.Outputs) + formatCmdLine(job.Cmd, job.Args)
}

func formatFileLine(inputs, outputs models.PathList) string {
	return fmt.Sprintf(fileLineFormat, formatFiles(outputs), formatFiles(inputs))
}

func formatFiles(list models.PathList) string {
	mappings := make([]string, len(list.Items))
	for i, entry := range list.Items {
		mappings[i] = entry.Path + separator + filepath.Base(entry.Path)
	}
	return strings.Join(mappings, " ")
}

func formatCmdLine(cmd string, args models.ArgList) string {
	return fmt.Sprintf(cmdLineFormat, cmd, formatArgs(args))
}

// formatArgs renders argument values through basename unconditionally;
// Makeflow resolves every file into the rule's sandbox by basename, so
// absolute paths would point outside it.
func formatArgs(args models.ArgList) string {
	argString := ""
	for _, arg := range args.Items {
		value := filepath.Base(fmt.Sprintf("%v", arg.Value))
		argString = fmt.Sprintf("%s %s %s", argString, arg.Flag, value)
	}
	return argString
}
