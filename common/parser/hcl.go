package parser

import (
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/lyonslab/yerba/common/models"
)

// hclFilename names the parsed file in hcl diagnostics.
const hclFilename = "workflow.hcl"

// The HCL form of a workflow. Paths ending in "/" declare directory
// entries; everything else maps onto the canonical specification
// one to one.
type hclWorkflowFile struct {
	Workflow hclWorkflow `hcl:"workflow,block"`
}

type hclWorkflow struct {
	Name     string   `hcl:"name,label"`
	Priority int      `hcl:"priority,optional"`
	Logfile  string   `hcl:"logfile,optional"`
	Jobs     []hclJob `hcl:"job,block"`
}

type hclJob struct {
	Cmd         string      `hcl:"cmd"`
	Script      string      `hcl:"script,optional"`
	Args        []hclArg    `hcl:"arg,block"`
	Inputs      []string    `hcl:"inputs,optional"`
	Outputs     []string    `hcl:"outputs,optional"`
	Description string      `hcl:"description,optional"`
	Overwrite   bool        `hcl:"overwrite,optional"`
	Options     *hclOptions `hcl:"options,block"`
}

type hclArg struct {
	Flag    string `hcl:"flag,label"`
	Value   string `hcl:"value"`
	Shorten bool   `hcl:"shorten,optional"`
}

type hclOptions struct {
	AcceptedReturnCodes *[]int `hcl:"accepted_return_codes,optional"`
	AllowZeroLength     *bool  `hcl:"allow_zero_length,optional"`
	Retries             *int   `hcl:"retries,optional"`
}

// parseFromHCL decodes the HCL workflow form. The file's directory is
// exposed to expressions as the workdir string variable, so a workflow can
// interpolate "${workdir}/reads.fq" instead of hard-coding paths.
func (p *WorkflowParser) parseFromHCL(config []byte, workdir string) (*models.WorkflowSpec, error) {
	file, diags := hclparse.NewParser().ParseHCL(config, hclFilename)
	if diags.HasErrors() {
		return nil, hclError(diags)
	}
	evalContext := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"workdir": cty.StringVal(workdir),
		},
	}
	parsed := &hclWorkflowFile{}
	diags = gohcl.DecodeBody(file.Body, evalContext, parsed)
	if diags.HasErrors() {
		return nil, hclError(diags)
	}
	return parsed.Workflow.toSpec(), nil
}

func hclError(diags hcl.Diagnostics) error {
	var result *multierror.Error
	for _, err := range diags.Errs() {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (w *hclWorkflow) toSpec() *models.WorkflowSpec {
	spec := &models.WorkflowSpec{
		Name:     w.Name,
		Priority: w.Priority,
		Logfile:  w.Logfile,
	}
	for _, job := range w.Jobs {
		spec.Jobs = append(spec.Jobs, job.toSpec())
	}
	return spec
}

func (j *hclJob) toSpec() models.JobSpec {
	spec := models.JobSpec{
		Cmd:         j.Cmd,
		Script:      j.Script,
		Inputs:      models.PathList{Items: pathEntries(j.Inputs)},
		Outputs:     models.PathList{Items: pathEntries(j.Outputs)},
		Description: j.Description,
	}
	if j.Overwrite {
		spec.Overwrite = 1
	}
	for _, arg := range j.Args {
		shorten := 0
		if arg.Shorten {
			shorten = 1
		}
		spec.Args.Items = append(spec.Args.Items, models.Arg{
			Flag:    arg.Flag,
			Value:   arg.Value,
			Shorten: shorten,
		})
	}
	if j.Options != nil {
		spec.Options = &models.OptionsSpec{
			AcceptedReturnCodes: j.Options.AcceptedReturnCodes,
			AllowZeroLength:     j.Options.AllowZeroLength,
			Retries:             j.Options.Retries,
		}
	}
	return spec
}

func pathEntries(paths []string) []models.PathEntry {
	var entries []models.PathEntry
	for _, path := range paths {
		if strings.HasSuffix(path, "/") {
			entries = append(entries, models.NewDirEntry(strings.TrimSuffix(path, "/")))
		} else {
			entries = append(entries, models.NewPathEntry(path))
		}
	}
	return entries
}
