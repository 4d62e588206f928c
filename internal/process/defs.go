package process

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/outline"
)

// Node subtypes of the built-in process kinds.
const (
	SubtypeWorkChain    = "process.workflow.workchain"
	SubtypeCalcFunction = "process.calculation.calcfunction"
	SubtypeCalcJob      = "process.calculation.calcjob"
)

// Inputs maps input labels to data nodes.
type Inputs map[string]*graph.Node

// Definition describes a runnable process.
type Definition interface {
	// Name is the registry key, recorded as process_type and process_label.
	Name() string
	// Subtype is the node subtype of process instances.
	Subtype() string
	// Ports declares inputs, outputs and exit codes.
	Ports() *Spec
}

// StepFunc is a workchain step. It may submit children and register
// awaitables on wc; returning an *ExitError finishes the workchain with
// that exit code.
type StepFunc func(wc *WorkChain) error

// CondFunc is a workchain condition.
type CondFunc func(wc *WorkChain) (bool, error)

// WorkChainDef is a workchain: an outline over named steps and conditions.
type WorkChainDef struct {
	Label      string
	Spec       *Spec
	Outline    outline.Outline
	Steps      map[string]StepFunc
	Conditions map[string]CondFunc
}

func (d *WorkChainDef) Name() string    { return d.Label }
func (d *WorkChainDef) Subtype() string { return SubtypeWorkChain }
func (d *WorkChainDef) Ports() *Spec    { return specOrEmpty(d.Spec) }

// Validate checks that every outline name is bound.
func (d *WorkChainDef) Validate() error {
	steps := make([]string, 0, len(d.Steps))
	for name := range d.Steps {
		steps = append(steps, name)
	}
	conds := make([]string, 0, len(d.Conditions))
	for name := range d.Conditions {
		conds = append(conds, name)
	}
	if err := d.Outline.Validate(steps, conds); err != nil {
		return fmt.Errorf("workchain %s: %w", d.Label, err)
	}
	return nil
}

// CalcFunctionDef is a calculation run synchronously on the runner.
type CalcFunctionDef struct {
	Label string
	Spec  *Spec
	Func  func(ctx context.Context, c *Calc) error
}

func (d *CalcFunctionDef) Name() string    { return d.Label }
func (d *CalcFunctionDef) Subtype() string { return SubtypeCalcFunction }
func (d *CalcFunctionDef) Ports() *Spec    { return specOrEmpty(d.Spec) }

// JobSpec is a prepared remote job.
type JobSpec struct {
	// Command runs through the shell in the job directory.
	Command string
	// Files are uploaded into the job directory before Command runs.
	Files map[string][]byte
	// Retrieve lists job directory files fetched after Command exits.
	Retrieve []string
}

// JobResult is what a finished remote job produced.
type JobResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Files    map[string][]byte
}

// CalcJobDef is a calculation executed as a remote command. Prepare runs
// on the runner before the job is submitted; Parse turns the retrieved
// result into outputs.
type CalcJobDef struct {
	Label string
	Spec  *Spec
	// Computer is the label of the computer jobs run on.
	Computer string
	Prepare func(c *Calc) (*JobSpec, error)
	Parse   func(c *Calc, res *JobResult) error
}

func (d *CalcJobDef) Name() string    { return d.Label }
func (d *CalcJobDef) Subtype() string { return SubtypeCalcJob }
func (d *CalcJobDef) Ports() *Spec    { return specOrEmpty(d.Spec) }

func specOrEmpty(s *Spec) *Spec {
	if s == nil {
		return &Spec{}
	}
	return s
}

// Registry maps process names to definitions. Each runner owns one.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. Names are unique; workchains are validated.
func (r *Registry) Register(d Definition) error {
	if d.Name() == "" {
		return ir.Errorf(ir.CodeValidation, "process definition has no name")
	}
	if wc, ok := d.(*WorkChainDef); ok {
		if err := wc.Validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[d.Name()]; ok {
		return ir.Errorf(ir.CodeIntegrity, "process %q already registered", d.Name())
	}
	r.defs[d.Name()] = d
	return nil
}

// MustRegister registers definitions and panics on error.
func (r *Registry) MustRegister(defs ...Definition) *Registry {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	if !ok {
		return nil, ir.NotExistent("process", name)
	}
	return d, nil
}

// Names lists registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for name := range r.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
