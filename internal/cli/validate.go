package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lineage/internal/compiler"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/workflows"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	WorkChains []string                   `json:"workchains,omitempty"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Validate workchain specs",
		Long: `Validate the CUE workchain specs in a directory.

Checks syntax, port types against the known data subtypes, exit codes and
outline structure. Workchains that share a name with a library workchain
are also checked for steps and conditions the library does not bind.

Example:
  lineage validate ./specs
  lineage validate ./specs --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loadResult, loadErrors := compiler.LoadDir(specsDir, compiler.LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *compiler.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputValidateError(formatter, compiler.ErrCodeGeneric, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsDir)

	var validationErrors []compiler.ValidationError
	for _, err := range loadErrors {
		validationErrors = append(validationErrors, loadValidationError(err))
	}

	names, errs := ValidateWorkChains(loadResult.WorkChains, formatter)
	validationErrors = append(validationErrors, errs...)
	if len(names) == 0 && len(validationErrors) == 0 {
		validationErrors = append(validationErrors, compiler.ValidationError{
			Field:   "specs",
			Message: "no workchains found in specs",
			Code:    compiler.ErrCodeGeneric,
		})
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}
	return outputValidateSuccess(formatter, names)
}

// ValidateWorkChains validates compiled specs and returns their names.
func ValidateWorkChains(specs []*ir.WorkChainSpec, formatter *OutputFormatter) ([]string, []compiler.ValidationError) {
	reg := ir.NewRegistry()
	var names []string
	var allErrors []compiler.ValidationError

	for _, spec := range specs {
		formatter.VerboseLog("Validating workchain: %s", spec.Name)
		names = append(names, spec.Name)
		allErrors = append(allErrors, compiler.Validate(spec, reg)...)

		if steps, conds, ok := workflows.BoundNames(spec.Name); ok {
			allErrors = append(allErrors, compiler.ValidateBindings(spec, steps, conds)...)
		}
	}
	return names, allErrors
}

// loadValidationError converts a load or compile error.
func loadValidationError(err error) compiler.ValidationError {
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		field := "load"
		if loadErr.Pos.IsValid() {
			field = fmt.Sprintf("%s:%d", loadErr.Pos.Filename(), loadErr.Pos.Line())
		}
		return compiler.ValidationError{Field: field, Message: loadErr.Message, Code: loadErr.Code}
	}
	return compiler.ValidationError{Field: "load", Message: err.Error(), Code: compiler.ErrCodeGeneric}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, names []string) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, WorkChains: names})
	}

	fmt.Fprintf(formatter.Writer, "✓ All specs valid (%d workchain(s))\n", len(names))
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
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

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "%s\n", err.Field)
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
