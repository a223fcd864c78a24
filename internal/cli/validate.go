package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/evactor/internal/actors"
	"github.com/roach88/evactor/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Actors   []string                   `json:"actors,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <actors-dir>",
		Short: "Validate actor manifests",
		Long: `Validate the CUE actor manifests in a directory.

Each file is compiled, checked against the built-in actors, and bound to
the registered Go actions. Actor types that fold each other's events are
reported as warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loadResult, loadErrors := LoadManifests(dir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)

	builtins, err := builtinManifests()
	if err != nil {
		return outputValidateError(formatter, ErrCodeBuildFailed, err.Error(), nil)
	}

	result := validateManifests(loadResult.Manifests, builtins, formatter)
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			result.Errors = append(result.Errors, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    lineOf(loadErr),
			})
		}
	}

	if len(result.Errors) > 0 {
		result.Valid = false
		return outputValidationErrors(formatter, result)
	}
	result.Valid = true
	return outputValidateSuccess(formatter, result)
}

// validateManifests checks manifests as a set next to the built-in actors
// they do not redefine, binds each valid one, and analyzes the combined
// set for cycles.
func validateManifests(manifests, builtins []*compiler.Manifest, formatter *OutputFormatter) ValidationResult {
	var result ValidationResult

	defined := make(map[string]bool, len(manifests))
	for _, m := range manifests {
		defined[m.Type] = true
	}
	var known []string
	all := append([]*compiler.Manifest(nil), manifests...)
	for _, b := range builtins {
		if !defined[b.Type] {
			known = append(known, b.Type)
			all = append(all, b)
		}
	}

	failed := make(map[string]bool)
	for _, e := range compiler.ValidateSet(manifests, known) {
		result.Errors = append(result.Errors, e)
		failed[e.Type] = true
	}

	acts := actors.Actions()
	for _, m := range manifests {
		formatter.VerboseLog("Validating actor: %s", m.Type)
		result.Actors = append(result.Actors, m.Type)
		if failed[m.Type] {
			continue
		}
		_, err := compiler.Bind(m, acts)
		var verrs compiler.ValidationErrors
		switch {
		case err == nil:
		case errors.As(err, &verrs):
			for _, e := range verrs {
				e.Type = m.Type
				if e.Line == 0 {
					e.Line = m.Pos.Line()
				}
				result.Errors = append(result.Errors, e)
			}
		default:
			result.Errors = append(result.Errors, compiler.ValidationError{
				Type:    m.Type,
				Field:   "actor",
				Message: err.Error(),
				Code:    ErrCodeGeneric,
				Line:    m.Pos.Line(),
			})
		}
	}

	if len(manifests) == 0 && len(result.Errors) == 0 {
		result.Errors = append(result.Errors, compiler.ValidationError{
			Field:   "actor",
			Message: "no actor manifests found",
			Code:    ErrCodeGeneric,
		})
	}

	result.Warnings = compiler.AnalyzeCycles(all)
	return result
}

func lineOf(err *LoadError) int {
	if err.Pos.IsValid() {
		return err.Pos.Line()
	}
	return 0
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "! %s\n", w.Message)
	}
	fmt.Fprintf(formatter.Writer, "✓ All manifests valid (%d actor(s))\n", len(result.Actors))
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		field := err.Field
		if err.Type != "" {
			field = err.Type + "." + field
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, field, err.Message)
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

// ValidateActorsDir validates every manifest in a directory without
// printing anything.
func ValidateActorsDir(dir string) ([]compiler.ValidationError, error) {
	loadResult, loadErrors := LoadManifests(dir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}
	builtins, err := builtinManifests()
	if err != nil {
		return nil, err
	}
	silent := &OutputFormatter{Format: "text", Writer: io.Discard}
	return validateManifests(loadResult.Manifests, builtins, silent).Errors, nil
}
