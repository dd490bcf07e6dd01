package parser_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/common/parser"
)

// The same alignment workflow written in every supported format. All four
// must normalize to the same canonical specification.

const workflowJSON = `{
  "name": "align",
  "priority": 2,
  "logfile": "/data/align.log",
  "jobs": [
    {
      "cmd": "bwa",
      "args": [["-t", 4], ["-o", "/data/aligned.bam", 1]],
      "inputs": ["/data/reads.fq", ["/data/ref", true]],
      "outputs": ["/data/aligned.bam"]
    },
    {
      "cmd": "samtools",
      "script": "sort.sh",
      "args": [],
      "inputs": ["/data/aligned.bam"],
      "outputs": ["/data/sorted.bam"],
      "description": "Sort the alignment",
      "overwrite": 1,
      "options": {"accepted-return-codes": [0, 1], "allow-zero-length": false, "retries": 2}
    }
  ]
}`

const workflowYAML = `
name: align
priority: 2
logfile: /data/align.log
jobs:
  - cmd: bwa
    args:
      - ["-t", 4]
      - ["-o", "/data/aligned.bam", 1]
    inputs:
      - /data/reads.fq
      - ["/data/ref", true]
    outputs:
      - /data/aligned.bam
  - cmd: samtools
    script: sort.sh
    args: []
    inputs:
      - /data/aligned.bam
    outputs:
      - /data/sorted.bam
    description: Sort the alignment
    overwrite: 1
    options:
      accepted-return-codes: [0, 1]
      allow-zero-length: false
      retries: 2
`

const workflowJsonnet = `
local workdir = std.extVar("workdir");
{
  name: "align",
  priority: 2,
  logfile: workdir + "/align.log",
  jobs: [
    {
      cmd: "bwa",
      args: [["-t", 4], ["-o", workdir + "/aligned.bam", 1]],
      inputs: [workdir + "/reads.fq", [workdir + "/ref", true]],
      outputs: [workdir + "/aligned.bam"],
    },
    {
      cmd: "samtools",
      script: "sort.sh",
      args: [],
      inputs: [workdir + "/aligned.bam"],
      outputs: [workdir + "/sorted.bam"],
      description: "Sort the alignment",
      overwrite: 1,
      options: {"accepted-return-codes": [0, 1], "allow-zero-length": false, retries: 2},
    },
  ],
}`

const workflowHCL = `
workflow "align" {
  priority = 2
  logfile  = "${workdir}/align.log"

  job {
    cmd = "bwa"

    arg "-t" {
      value = "4"
    }
    arg "-o" {
      value   = "${workdir}/aligned.bam"
      shorten = true
    }

    inputs  = ["${workdir}/reads.fq", "${workdir}/ref/"]
    outputs = ["${workdir}/aligned.bam"]
  }

  job {
    cmd         = "samtools"
    script      = "sort.sh"
    inputs      = ["${workdir}/aligned.bam"]
    outputs     = ["${workdir}/sorted.bam"]
    description = "Sort the alignment"
    overwrite   = true

    options {
      accepted_return_codes = [0, 1]
      allow_zero_length     = false
      retries               = 2
    }
  }
}`

const workdir = "/data"

func parseReference(t *testing.T) *models.WorkflowSpec {
	spec, err := parser.NewWorkflowParser().Parse([]byte(workflowJSON), parser.FormatJSON, workdir)
	require.NoError(t, err)
	return spec
}

func TestWorkflowParserJSON(t *testing.T) {
	spec := parseReference(t)
	require.Nil(t, spec.Validate())
	require.Equal(t, "align", spec.Name)
	require.Equal(t, 2, spec.Priority)
	require.Equal(t, "/data/align.log", spec.Logfile)
	require.Len(t, spec.Jobs, 2)

	align := spec.Jobs[0]
	require.Equal(t, "bwa", align.Cmd)
	require.Equal(t, " -t 4 -o aligned.bam", renderArgs(align))
	require.Equal(t, []string{"/data/reads.fq", "/data/ref/"}, pathKeys(align.Inputs))
	require.Equal(t, []string{"/data/aligned.bam"}, pathKeys(align.Outputs))

	sort := spec.Jobs[1]
	require.Equal(t, "samtools", sort.Cmd)
	require.Equal(t, "sort.sh", sort.Script)
	require.Equal(t, "Sort the alignment", sort.Description)
	require.Equal(t, 1, sort.Overwrite)
	options := sort.Options.Merge()
	require.Equal(t, []int{0, 1}, options.AcceptedReturnCodes)
	require.False(t, options.AllowZeroLength)
	require.Equal(t, 2, options.Retries)
}

func TestWorkflowParserYAML(t *testing.T) {
	spec, err := parser.NewWorkflowParser().Parse([]byte(workflowYAML), parser.FormatYAML, workdir)
	if err != nil {
		t.Fatalf("Error parsing workflow: %s", err)
	}
	t.Run("YAML", testWorkflowAgainstReference(spec, parseReference(t)))
}

func TestWorkflowParserJsonnet(t *testing.T) {
	spec, err := parser.NewWorkflowParser().Parse([]byte(workflowJsonnet), parser.FormatJsonnet, workdir)
	if err != nil {
		t.Fatalf("Error parsing workflow: %s", err)
	}
	t.Run("JSONNET", testWorkflowAgainstReference(spec, parseReference(t)))
}

func TestWorkflowParserHCL(t *testing.T) {
	spec, err := parser.NewWorkflowParser().Parse([]byte(workflowHCL), parser.FormatHCL, workdir)
	if err != nil {
		t.Fatalf("Error parsing workflow: %s", err)
	}
	t.Run("HCL", testWorkflowAgainstReference(spec, parseReference(t)))
}

// testWorkflowAgainstReference compares the fields that shape execution;
// arguments are compared rendered, since formats differ in how they carry
// scalar values.
func testWorkflowAgainstReference(spec *models.WorkflowSpec, reference *models.WorkflowSpec) func(t *testing.T) {
	return func(t *testing.T) {
		if spec.Name != reference.Name {
			t.Error("Workflow name mismatch")
		}
		if spec.Priority != reference.Priority {
			t.Error("Workflow priority mismatch")
		}
		if spec.Logfile != reference.Logfile {
			t.Error("Workflow logfile mismatch")
		}
		if len(spec.Jobs) != len(reference.Jobs) {
			t.Fatal("Job count mismatch")
		}
		for i := 0; i < len(spec.Jobs); i++ {
			candidate := spec.Jobs[i]
			referenceJob := reference.Jobs[i]
			if candidate.Cmd != referenceJob.Cmd {
				t.Error("Job command mismatch")
			}
			if candidate.Script != referenceJob.Script {
				t.Error("Job script mismatch")
			}
			if candidate.Description != referenceJob.Description {
				t.Error("Job description mismatch")
			}
			if candidate.Overwrite != referenceJob.Overwrite {
				t.Error("Job overwrite mismatch")
			}
			if renderArgs(candidate) != renderArgs(referenceJob) {
				t.Errorf("Job argument mismatch: %q should match reference %q",
					renderArgs(candidate), renderArgs(referenceJob))
			}
			require.Equal(t, pathKeys(referenceJob.Inputs), pathKeys(candidate.Inputs))
			require.Equal(t, pathKeys(referenceJob.Outputs), pathKeys(candidate.Outputs))
			require.Equal(t, referenceJob.Options.Merge(), candidate.Options.Merge())
		}
	}
}

func renderArgs(job models.JobSpec) string {
	rendered := ""
	for _, arg := range job.Args.Items {
		rendered += arg.Render()
	}
	return rendered
}

func pathKeys(list models.PathList) []string {
	keys := make([]string, len(list.Items))
	for i, entry := range list.Items {
		keys[i] = entry.Key()
	}
	return keys
}

func TestFormatForPath(t *testing.T) {
	for path, expected := range map[string]parser.Format{
		"workflow.json":    parser.FormatJSON,
		"workflow.yaml":    parser.FormatYAML,
		"workflow.yml":     parser.FormatYAML,
		"workflow.jsonnet": parser.FormatJsonnet,
		"workflow.hcl":     parser.FormatHCL,
	} {
		format, err := parser.FormatForPath(path)
		require.NoError(t, err)
		require.Equal(t, expected, format)
	}
	_, err := parser.FormatForPath("workflow.txt")
	require.Error(t, err)
}

func TestWorkflowParserErrors(t *testing.T) {
	p := parser.NewWorkflowParser()
	_, err := p.Parse([]byte(`{"jobs": [}`), parser.FormatJSON, workdir)
	require.Error(t, err)
	_, err = p.Parse([]byte(`local x = ;`), parser.FormatJsonnet, workdir)
	require.Error(t, err)
	_, err = p.Parse([]byte("workflow \"broken\" {\n  job {\n  }\n}"), parser.FormatHCL, workdir)
	require.Error(t, err)
}
