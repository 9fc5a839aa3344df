package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation can be used with errors.Is to detect payload validation
// failures.
var ErrValidation = errors.New("validation failed")

// Validator holds the compiled JSON Schemas for each job type's input
// payload and worker result.
type Validator struct {
	inputSchemas  map[string]*jsonschema.Schema
	resultSchemas map[string]*jsonschema.Schema
}

// NewValidator loads all *.json files from schemaDir and compiles the
// input_schema and result_schema of each job type. File names follow
// <job_type>.v1.json.
func NewValidator(schemaDir string) (*Validator, error) {
	entries, err := os.ReadDir(schemaDir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %q: %w", schemaDir, err)
	}
	inputSchemas := make(map[string]*jsonschema.Schema)
	resultSchemas := make(map[string]*jsonschema.Schema)

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		jobType := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		jobType = strings.TrimSuffix(jobType, ".v1")
		path := filepath.Join(schemaDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		var file struct {
			InputSchema  json.RawMessage `json:"input_schema"`
			ResultSchema json.RawMessage `json:"result_schema"`
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %q: %w", path, err)
		}
		if len(file.InputSchema) == 0 || len(file.ResultSchema) == 0 {
			return nil, fmt.Errorf("%q: missing input_schema or result_schema", path)
		}
		inputID := "https://mealforge.dev/schemas/" + jobType + ".input"
		resultID := "https://mealforge.dev/schemas/" + jobType + ".result"
		inputSchemas[jobType], err = jsonschema.CompileString(inputID, string(file.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("compile input schema %q: %w", jobType, err)
		}
		resultSchemas[jobType], err = jsonschema.CompileString(resultID, string(file.ResultSchema))
		if err != nil {
			return nil, fmt.Errorf("compile result schema %q: %w", jobType, err)
		}
	}

	return &Validator{inputSchemas: inputSchemas, resultSchemas: resultSchemas}, nil
}

// ValidateInput performs hard reject: the job is never created and the
// ledger is never touched when the payload does not match the job type's
// input schema.
func (v *Validator) ValidateInput(jobType string, input json.RawMessage) error {
	schema, ok := v.inputSchemas[jobType]
	if !ok {
		return fmt.Errorf("%w: unknown job type %q", ErrValidation, jobType)
	}
	var doc interface{}
	if err := json.Unmarshal(input, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ValidateResult performs a soft check on the worker-reported result.
// Callers log a mismatch instead of rejecting the completion.
func (v *Validator) ValidateResult(jobType string, result json.RawMessage) error {
	schema, ok := v.resultSchemas[jobType]
	if !ok {
		return fmt.Errorf("%w: unknown job type %q", ErrValidation, jobType)
	}
	var doc interface{}
	if err := json.Unmarshal(result, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
