package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-jsonnet"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/lyonslab/yerba/common/models"
)

// Format identifies the on-disk encoding of a workflow file.
type Format string

const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatJsonnet Format = "jsonnet"
	FormatHCL     Format = "hcl"
)

// jsonnetFilename names the evaluated snippet in jsonnet error messages.
const jsonnetFilename = "workflow.jsonnet"

// FormatForPath returns the format implied by a workflow file's extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".jsonnet":
		return FormatJsonnet, nil
	case ".hcl":
		return FormatHCL, nil
	default:
		return "", errors.Errorf("error: cannot determine the workflow file format of %q", filepath.Base(path))
	}
}

// WorkflowParser loads workflow files in any supported format and
// normalizes them to the canonical workflow specification. The daemon only
// ever sees the canonical JSON form; all other formats exist client-side.
type WorkflowParser struct{}

func NewWorkflowParser() *WorkflowParser {
	return &WorkflowParser{}
}

// ParseFile reads and parses the workflow file at path. The file's
// directory is exposed to formats that support interpolation as the
// workdir variable, so workflows can name their files relative to
// wherever the workflow file lives.
func (p *WorkflowParser) ParseFile(path string) (*models.WorkflowSpec, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading workflow file %q", path)
	}
	workdir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrapf(err, "error resolving the directory of %q", path)
	}
	return p.Parse(data, format, workdir)
}

// Parse parses a raw workflow file.
func (p *WorkflowParser) Parse(config []byte, format Format, workdir string) (*models.WorkflowSpec, error) {
	var (
		err  error
		spec *models.WorkflowSpec
	)
	switch format {
	case FormatJSON:
		spec, err = p.parseFromJSON(config)
	case FormatYAML:
		spec, err = p.parseFromYAML(config)
	case FormatJsonnet:
		spec, err = p.parseFromJsonnet(config, workdir)
	case FormatHCL:
		spec, err = p.parseFromHCL(config, workdir)
	default:
		return nil, errors.Errorf("error: unsupported workflow file format: %s", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling workflow from %s", format)
	}
	return spec, nil
}

func (p *WorkflowParser) parseFromJSON(config []byte) (*models.WorkflowSpec, error) {
	spec := &models.WorkflowSpec{}
	err := json.Unmarshal(config, spec)
	if err != nil {
		return nil, errors.Wrap(err, "error unmarshalling json")
	}
	return spec, nil
}

func (p *WorkflowParser) parseFromYAML(config []byte) (*models.WorkflowSpec, error) {
	var raw interface{}
	err := yaml.Unmarshal(config, &raw)
	if err != nil {
		return nil, errors.Wrap(err, "error unmarshalling yml")
	}
	raw = p.normalizeMapValues(raw)
	canonical, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "error converting yml to json")
	}
	return p.parseFromJSON(canonical)
}

func (p *WorkflowParser) parseFromJsonnet(config []byte, workdir string) (*models.WorkflowSpec, error) {
	vm := jsonnet.MakeVM()
	vm.ExtVar("workdir", workdir)
	json, err := vm.EvaluateSnippet(jsonnetFilename, string(config[:]))
	if err != nil {
		return nil, errors.Wrap(err, "error parsing jsonnet")
	}
	return p.parseFromJSON([]byte(json))
}

// normalizeMapValues iterates through all properties (including nested
// properties) and converts every map[interface{}]interface{} to a
// map[string]interface{}, to make the output of the yaml parser consistent
// with the JSON parser in the go standard lib. Scalar values keep their
// types, since the workflow specification has numeric fields.
func (p *WorkflowParser) normalizeMapValues(v interface{}) interface{} {
	switch v := v.(type) {
	case []interface{}:
		return p.normalizeInterfaceArray(v)
	case map[interface{}]interface{}:
		return p.cleanupInterfaceMap(v)
	default:
		return v
	}
}

func (p *WorkflowParser) normalizeInterfaceArray(in []interface{}) []interface{} {
	res := make([]interface{}, len(in))
	for i, v := range in {
		res[i] = p.normalizeMapValues(v)
	}
	return res
}

func (p *WorkflowParser) cleanupInterfaceMap(in map[interface{}]interface{}) map[string]interface{} {
	res := make(map[string]interface{})
	for k, v := range in {
		res[fmt.Sprintf("%v", k)] = p.normalizeMapValues(v)
	}
	return res
}
