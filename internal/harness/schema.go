package harness

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// SchemaError is a single schema violation in a scenario file.
type SchemaError struct {
	File    string `json:"file"`
	Line    int    `json:"line,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e SchemaError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.File)
	if e.Line > 0 {
		fmt.Fprintf(&buf, ":%d", e.Line)
	}
	if e.Path != "" {
		fmt.Fprintf(&buf, ": %s", e.Path)
	}
	fmt.Fprintf(&buf, ": %s", e.Message)
	return buf.String()
}

// Schema validates scenario documents against the embedded CUE schema.
// A Schema is not safe for concurrent use; CUE values share their context.
type Schema struct {
	ctx      *cue.Context
	scenario cue.Value
}

// NewSchema compiles the embedded scenario schema.
func NewSchema() (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compiling scenario schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Scenario"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("looking up #Scenario: %w", err)
	}
	return &Schema{ctx: ctx, scenario: def}, nil
}

// ValidateFile reads path and validates it. See Validate.
func (s *Schema) ValidateFile(path string) ([]SchemaError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return s.Validate(path, data)
}

// Validate checks YAML scenario data against the schema. Schema violations
// are returned as a list; the error is reserved for YAML that cannot be
// parsed at all.
func (s *Schema) Validate(filename string, data []byte) ([]SchemaError, error) {
	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	doc := s.ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("failed to build YAML document: %w", err)
	}

	unified := s.scenario.Unify(doc)
	err = unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil, nil
	}

	var out []SchemaError
	for _, e := range cueerrors.Errors(err) {
		se := SchemaError{
			File:    filename,
			Path:    strings.Join(e.Path(), "."),
			Message: e.Error(),
		}
		for _, pos := range cueerrors.Positions(e) {
			if pos.Filename() == filename {
				se.Line = pos.Line()
				break
			}
		}
		out = append(out, se)
	}
	return out, nil
}
