package process

import (
	"fmt"
	"sort"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
)

// ExitCode is a named exit status. Status 0 means success.
type ExitCode struct {
	Status  int    `json:"status"`
	Label   string `json:"label"`
	Message string `json:"message"`
}

// Built-in exit codes raised by the runner itself.
var (
	ExitOK            = ExitCode{Status: 0, Label: "OK"}
	ExitInvalidOutput = ExitCode{Status: 10, Label: "ERROR_INVALID_OUTPUT", Message: "the process returned an invalid output"}
	ExitMissingOutput = ExitCode{Status: 11, Label: "ERROR_MISSING_OUTPUT", Message: "the process did not register a required output"}
)

// Port declares one input or output.
type Port struct {
	Name     string
	Required bool
	// ValidTypes are accepted subtype prefixes. Empty accepts any data node.
	ValidTypes []string
	// Default builds a data node when an optional input is omitted.
	Default ir.IRValue
	Help    string
}

// Accepts reports whether a node of subtype fits the port.
func (p Port) Accepts(subtype string) bool {
	if len(p.ValidTypes) == 0 {
		return true
	}
	for _, t := range p.ValidTypes {
		if ir.MatchesSubtype(subtype, t) {
			return true
		}
	}
	return false
}

// Spec declares the ports and exit codes of a process.
type Spec struct {
	Inputs    []Port
	Outputs   []Port
	ExitCodes []ExitCode
	// DynamicOutputs accepts outputs that no port declares.
	DynamicOutputs bool
}

// SpecFromIR converts compiled port and exit code declarations.
func SpecFromIR(s *ir.WorkChainSpec) *Spec {
	conv := func(ports []ir.PortSpec) []Port {
		out := make([]Port, 0, len(ports))
		for _, p := range ports {
			port := Port{Name: p.Name, Required: p.Required, Default: p.Default, Help: p.Help}
			if p.Type != "" {
				port.ValidTypes = []string{p.Type}
			}
			out = append(out, port)
		}
		return out
	}
	spec := &Spec{Inputs: conv(s.Inputs), Outputs: conv(s.Outputs)}
	for _, ec := range s.ExitCodes {
		spec.ExitCodes = append(spec.ExitCodes, ExitCode{Status: ec.Status, Label: ec.Label, Message: ec.Message})
	}
	return spec
}

func (s *Spec) input(name string) (Port, bool) {
	for _, p := range s.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

func (s *Spec) output(name string) (Port, bool) {
	for _, p := range s.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// ExitCode returns the declared exit code with the given label.
func (s *Spec) ExitCode(label string) (ExitCode, bool) {
	for _, ec := range append([]ExitCode{ExitInvalidOutput, ExitMissingOutput}, s.ExitCodes...) {
		if ec.Label == label {
			return ec, true
		}
	}
	return ExitCode{}, false
}

// ExitCodeByStatus returns the declared exit code with the given status.
// Undeclared statuses yield a code without label.
func (s *Spec) ExitCodeByStatus(status int) ExitCode {
	if status == 0 {
		return ExitOK
	}
	for _, ec := range append([]ExitCode{ExitInvalidOutput, ExitMissingOutput}, s.ExitCodes...) {
		if ec.Status == status {
			return ec
		}
	}
	return ExitCode{Status: status}
}

// MustExitCode returns the declared exit code or panics. For step code
// referring to codes declared alongside it.
func (s *Spec) MustExitCode(label string) ExitCode {
	ec, ok := s.ExitCode(label)
	if !ok {
		panic(fmt.Sprintf("exit code %q not declared", label))
	}
	return ec
}

// PrepareInputs validates inputs against the input ports and fills
// defaults. Inputs must be data nodes; they may still be unstored.
func (s *Spec) PrepareInputs(f NodeFactory, in Inputs) (Inputs, error) {
	out := make(Inputs, len(in))
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		n := in[name]
		port, ok := s.input(name)
		if !ok {
			return nil, ir.Errorf(ir.CodeValidation, "unexpected input %q", name)
		}
		if n == nil {
			return nil, ir.Errorf(ir.CodeValidation, "input %q is nil", name)
		}
		if n.Type() != ir.NodeData {
			return nil, ir.Errorf(ir.CodeValidation, "input %q must be a data node, got %s", name, n.Type())
		}
		if !port.Accepts(n.Subtype()) {
			return nil, ir.Errorf(ir.CodeValidation, "input %q does not accept %s", name, n.Subtype())
		}
		out[name] = n
	}

	for _, port := range s.Inputs {
		if _, ok := out[port.Name]; ok {
			continue
		}
		if port.Default != nil {
			subtype := ""
			if len(port.ValidTypes) > 0 {
				subtype = port.ValidTypes[0]
			}
			n, err := NewDataAs(f, subtype, port.Default)
			if err != nil {
				return nil, fmt.Errorf("default for input %q: %w", port.Name, err)
			}
			out[port.Name] = n
			continue
		}
		if port.Required {
			return nil, ir.Errorf(ir.CodeValidation, "missing required input %q", port.Name)
		}
	}
	return out, nil
}

// CheckOutput validates one output as it is registered: the label must be
// an identifier and, unless outputs are dynamic, a declared port that
// accepts the node's subtype.
func (s *Spec) CheckOutput(name string, n *graph.Node) error {
	if !ir.IsIdentifier(name) {
		return ir.Errorf(ir.CodeValidation, "output label %q is not an identifier", name)
	}
	port, ok := s.output(name)
	if !ok {
		if s.DynamicOutputs {
			return nil
		}
		return ir.Errorf(ir.CodeValidation, "output %q is not declared", name)
	}
	if !port.Accepts(n.Subtype()) {
		return ir.Errorf(ir.CodeValidation, "output %q does not accept %s", name, n.Subtype())
	}
	return nil
}

// CheckOutputs validates registered outputs. It returns the exit code the
// process must finish with when they do not fit, or ExitOK.
func (s *Spec) CheckOutputs(outputs map[string]*graph.Node) ExitCode {
	for _, port := range s.Outputs {
		if port.Required {
			if _, ok := outputs[port.Name]; !ok {
				return ExitMissingOutput
			}
		}
	}
	for name, n := range outputs {
		port, ok := s.output(name)
		if !ok {
			if s.DynamicOutputs {
				continue
			}
			return ExitInvalidOutput
		}
		if n == nil || n.Type() != ir.NodeData || !port.Accepts(n.Subtype()) {
			return ExitInvalidOutput
		}
	}
	return ExitOK
}
