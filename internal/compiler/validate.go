package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
)

// Validation error codes (E100-E199)
const (
	ErrWorkChainName   = "E101" // name missing
	ErrOutline         = "E102" // empty or malformed outline
	ErrExitCode        = "E103" // bad or duplicate exit code
	ErrPortType        = "E104" // port type is not a known data subtype
	ErrPort            = "E105" // bad or duplicate port name
	ErrUnboundStep     = "E106" // outline names a step the definition does not bind
	ErrUnboundCond     = "E107" // outline names a condition the definition does not bind
	ErrPortDefaultType = "E108" // default value does not fit the port type
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled workchain spec against structural rules
// and, when reg is set, the data subtypes its ports name.
// Returns all errors found (does not fail-fast).
func Validate(spec *ir.WorkChainSpec, reg *ir.Registry) []ValidationError {
	var errs []ValidationError
	for _, e := range spec.Validate() {
		errs = append(errs, ValidationError{Field: e.Field, Message: e.Message, Code: MapFieldToErrorCode(e.Field)})
	}
	if reg == nil {
		return errs
	}

	check := func(kind string, ports []ir.PortSpec) {
		for i, p := range ports {
			if p.Type == "" {
				continue
			}
			f := fmt.Sprintf("%s[%d].type", kind, i)
			info, ok := reg.Lookup(p.Type)
			if !ok || info.Type != ir.NodeData {
				errs = append(errs, ValidationError{
					Field:   f,
					Message: fmt.Sprintf("port %q names unknown data type %q", p.Name, p.Type),
					Code:    ErrPortType,
				})
				continue
			}
			if p.Default == nil {
				continue
			}
			if st, err := process.SubtypeFor(p.Default); err == nil && !ir.MatchesSubtype(st, p.Type) {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s[%d].default", kind, i),
					Message: fmt.Sprintf("default of port %q builds %s, not %s", p.Name, st, p.Type),
					Code:    ErrPortDefaultType,
				})
			}
		}
	}
	check("inputs", spec.Inputs)
	check("outputs", spec.Outputs)
	return errs
}

// ValidateBindings reports outline steps and conditions missing from the
// bound names.
func ValidateBindings(spec *ir.WorkChainSpec, steps, conds []string) []ValidationError {
	var errs []ValidationError
	have := func(names []string, n string) bool {
		for _, x := range names {
			if x == n {
				return true
			}
		}
		return false
	}
	for _, s := range spec.StepNames() {
		if !have(steps, s) {
			errs = append(errs, ValidationError{Field: "outline", Message: fmt.Sprintf("step %q is not bound", s), Code: ErrUnboundStep})
		}
	}
	for _, c := range spec.ConditionNames() {
		if !have(conds, c) {
			errs = append(errs, ValidationError{Field: "outline", Message: fmt.Sprintf("condition %q is not bound", c), Code: ErrUnboundCond})
		}
	}
	return errs
}

// MapFieldToErrorCode maps a validation or compile error field to an
// error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "name":
		return ErrWorkChainName
	case strings.HasPrefix(field, "outline"):
		return ErrOutline
	case strings.HasPrefix(field, "exit_codes"):
		return ErrExitCode
	case strings.HasPrefix(field, "inputs"), strings.HasPrefix(field, "outputs"):
		if strings.HasSuffix(field, ".default") {
			return ErrPortDefaultType
		}
		return ErrPort
	default:
		return ErrCodeGeneric
	}
}
