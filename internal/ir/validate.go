package ir

import (
	"fmt"
)

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a WorkChainSpec against structural rules.
// Returns all errors (not fail-fast) so authors see every problem at once.
func (s *WorkChainSpec) Validate() []ValidationError {
	var errs []ValidationError

	if s.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "name is required"})
	}

	errs = append(errs, validatePorts("inputs", s.Inputs)...)
	errs = append(errs, validatePorts("outputs", s.Outputs)...)

	seenStatus := make(map[int]string)
	seenLabel := make(map[string]bool)
	for i, ec := range s.ExitCodes {
		field := fmt.Sprintf("exit_codes[%d]", i)
		if ec.Status <= 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".status",
				Message: fmt.Sprintf("exit status must be positive, got %d", ec.Status),
			})
		}
		if prev, ok := seenStatus[ec.Status]; ok {
			errs = append(errs, ValidationError{
				Field:   field + ".status",
				Message: fmt.Sprintf("status %d already used by %s", ec.Status, prev),
			})
		}
		seenStatus[ec.Status] = ec.Label
		if seenLabel[ec.Label] {
			errs = append(errs, ValidationError{
				Field:   field + ".label",
				Message: fmt.Sprintf("duplicate exit code label: %q", ec.Label),
			})
		}
		seenLabel[ec.Label] = true
	}

	if len(s.Outline) == 0 {
		errs = append(errs, ValidationError{Field: "outline", Message: "outline must not be empty"})
	}
	errs = append(errs, validateOutline("outline", s.Outline)...)

	return errs
}

func validatePorts(field string, ports []PortSpec) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	for i, p := range ports {
		if !IsIdentifier(p.Name) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d].name", field, i),
				Message: fmt.Sprintf("invalid port name %q", p.Name),
			})
		}
		if seen[p.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d].name", field, i),
				Message: fmt.Sprintf("duplicate port name: %q", p.Name),
			})
		}
		seen[p.Name] = true
	}
	return errs
}

func validateOutline(field string, items []OutlineItem) []ValidationError {
	var errs []ValidationError
	for i, item := range items {
		f := fmt.Sprintf("%s[%d]", field, i)
		switch item.Kind {
		case OutlineStep:
			if item.Name == "" {
				errs = append(errs, ValidationError{Field: f, Message: "step requires a name"})
			}
		case OutlineIf:
			if len(item.Branches) == 0 {
				errs = append(errs, ValidationError{Field: f, Message: "if requires a condition"})
			}
			for j, b := range item.Branches {
				bf := fmt.Sprintf("%s.branches[%d]", f, j)
				if b.Cond == "" {
					errs = append(errs, ValidationError{Field: bf, Message: "branch requires a condition"})
				}
				errs = append(errs, validateOutline(bf+".body", b.Body)...)
			}
			errs = append(errs, validateOutline(f+".else", item.Else)...)
		case OutlineWhile:
			if item.Cond == "" {
				errs = append(errs, ValidationError{Field: f, Message: "while requires a condition"})
			}
			errs = append(errs, validateOutline(f+".body", item.Body)...)
		case OutlineReturn:
			if item.Status < 0 {
				errs = append(errs, ValidationError{Field: f, Message: "return status must not be negative"})
			}
		default:
			errs = append(errs, ValidationError{Field: f, Message: fmt.Sprintf("unknown outline kind %q", item.Kind)})
		}
	}
	return errs
}

// StepNames returns every step name referenced in the outline.
func (s *WorkChainSpec) StepNames() []string {
	var names []string
	walkOutline(s.Outline, func(it OutlineItem) {
		if it.Kind == OutlineStep {
			names = append(names, it.Name)
		}
	})
	return names
}

// ConditionNames returns every condition name referenced in the outline.
func (s *WorkChainSpec) ConditionNames() []string {
	var names []string
	walkOutline(s.Outline, func(it OutlineItem) {
		switch it.Kind {
		case OutlineIf:
			for _, b := range it.Branches {
				names = append(names, b.Cond)
			}
		case OutlineWhile:
			names = append(names, it.Cond)
		}
	})
	return names
}

func walkOutline(items []OutlineItem, fn func(OutlineItem)) {
	for _, it := range items {
		fn(it)
		for _, b := range it.Branches {
			walkOutline(b.Body, fn)
		}
		walkOutline(it.Else, fn)
		walkOutline(it.Body, fn)
	}
}
