package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/ambient/internal/harness"
)

// FileValidation is the validation outcome for one file.
type FileValidation struct {
	Path   string                `json:"path"`
	Valid  bool                  `json:"valid"`
	Errors []harness.SchemaError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario.yaml>...",
		Short: "Validate scenario files",
		Long: `Validate scenario files against the scenario schema.

Each file is checked twice: structurally against the embedded CUE schema,
then semantically by the scenario loader (unique scope names, fields each
op requires).

Exit codes:
  0 - All files valid
  1 - One or more files invalid
  2 - Command error (unreadable file, etc.)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, args)
		},
	}

	return cmd
}

func runValidate(cmd *cobra.Command, opts *RootOptions, paths []string) error {
	out := opts.formatter(cmd)

	schema, err := harness.NewSchema()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario schema", err)
	}

	results := make([]FileValidation, 0, len(paths))
	allValid := true
	for _, path := range paths {
		fv, err := validateFile(schema, path)
		if err != nil {
			_ = out.Error(CodeIO, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to validate", err)
		}
		results = append(results, fv)
		allValid = allValid && fv.Valid
		out.VerboseLog("validated %s: %d error(s)", path, len(fv.Errors))
	}

	if out.JSON() {
		if err := out.Result(allValid, results); err != nil {
			return err
		}
	} else {
		for _, fv := range results {
			if fv.Valid {
				fmt.Fprintf(out.Writer, "✓ %s\n", fv.Path)
				continue
			}
			fmt.Fprintf(out.Writer, "✗ %s\n", fv.Path)
			for _, e := range fv.Errors {
				fmt.Fprintf(out.Writer, "  %s\n", e.Error())
			}
		}
	}

	if !allValid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

// validateFile runs schema validation and, when that passes, the loader's
// semantic checks. The error is reserved for files that cannot be read or
// parsed at all.
func validateFile(schema *harness.Schema, path string) (FileValidation, error) {
	fv := FileValidation{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return fv, fmt.Errorf("failed to read %s: %w", path, err)
	}

	errs, err := schema.Validate(path, data)
	if err != nil {
		fv.Errors = []harness.SchemaError{{File: path, Message: err.Error()}}
		return fv, nil
	}
	if len(errs) > 0 {
		fv.Errors = errs
		return fv, nil
	}

	if _, err := harness.ParseScenario(data); err != nil {
		fv.Errors = []harness.SchemaError{{File: path, Message: err.Error()}}
		return fv, nil
	}

	fv.Valid = true
	return fv, nil
}
