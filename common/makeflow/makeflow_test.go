package makeflow_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lyonslab/yerba/common/makeflow"
	"github.com/lyonslab/yerba/common/models"
)

func TestExport(t *testing.T) {
	spec := &models.WorkflowSpec{
		Name: "align",
		Jobs: []models.JobSpec{
			{
				Cmd: "bwa",
				Args: models.ArgList{Items: []models.Arg{
					{Flag: "-t", Value: 4},
					{Flag: "-o", Value: "/data/aligned.bam", Shorten: 1},
				}},
				Inputs: models.PathList{Items: []models.PathEntry{
					models.NewPathEntry("/data/reads.fq"),
					models.NewPathEntry("/data/ref"),
				}},
				Outputs: models.PathList{Items: []models.PathEntry{
					models.NewPathEntry("/data/aligned.bam"),
				}},
			},
			{
				Cmd: "samtools",
				Inputs: models.PathList{Items: []models.PathEntry{
					models.NewPathEntry("/data/aligned.bam"),
				}},
				Outputs: models.PathList{Items: []models.PathEntry{
					models.NewPathEntry("/data/sorted.bam"),
				}},
			},
		},
	}

	// Each rule is the outputs, a colon, the inputs, then the tab-indented
	// command. Argument values are always reduced to their basename.
	expected := "/data/aligned.bam->aligned.bam:/data/reads.fq->reads.fq /data/ref->ref\n" +
		"\tbwa  -t 4 -o aligned.bam\n" +
		"/data/sorted.bam->sorted.bam:/data/aligned.bam->aligned.bam\n" +
		"\tsamtools \n"
	require.Equal(t, expected, makeflow.Export(spec))
}

func TestExportEmptyWorkflow(t *testing.T) {
	require.Equal(t, "", makeflow.Export(&models.WorkflowSpec{Name: "empty"}))
}

func TestFilename(t *testing.T) {
	require.Equal(t, "align.makeflow", makeflow.Filename(&models.WorkflowSpec{Name: "align"}))
	require.Equal(t, "unnamed.makeflow", makeflow.Filename(&models.WorkflowSpec{}))
	require.Equal(t, "read+aligner.makeflow", makeflow.Filename(&models.WorkflowSpec{Name: "read aligner"}))
}
