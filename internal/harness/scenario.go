package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a graph fixture test.
// Scenarios build a provenance graph by hand, run processes through the
// runner, optionally delete part of the graph, and assert on the result.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Caching enables calculation caching in the scenario store.
	Caching bool `yaml:"caching,omitempty"`

	// Nodes are stored in order. Links may only reference earlier nodes.
	Nodes []NodeStep `yaml:"nodes,omitempty"`

	// Groups are created after the nodes.
	Groups []GroupStep `yaml:"groups,omitempty"`

	// Runs execute processes to completion, in order.
	Runs []RunStep `yaml:"runs,omitempty"`

	// Delete deletes a closure of nodes after the runs.
	Delete *DeleteStep `yaml:"delete,omitempty"`

	// Assertions validate the final graph.
	// Supported types: process, exists, deleted, link, cached, query
	Assertions []Assertion `yaml:"assertions"`
}

// NodeStep describes one fixture node.
type NodeStep struct {
	// ID is the scenario-local reference of the node.
	ID string `yaml:"id"`

	// Subtype is the full node subtype, e.g. "data.core.int".
	Subtype string `yaml:"subtype"`

	Label string `yaml:"label,omitempty"`

	// Value sets the "value" attribute of core data nodes.
	Value any `yaml:"value,omitempty"`

	Attributes map[string]any `yaml:"attributes,omitempty"`
	Extras     map[string]any `yaml:"extras,omitempty"`

	// Inputs links earlier data nodes into this process: label to ref.
	Inputs map[string]string `yaml:"inputs,omitempty"`

	// Caller is the workflow that called this process.
	Caller string `yaml:"caller,omitempty"`

	// CreatedBy links this data node as an output of an earlier
	// calculation.
	CreatedBy *OutputRef `yaml:"created_by,omitempty"`

	// ReturnedBy links this data node as an output of an earlier workflow.
	ReturnedBy *OutputRef `yaml:"returned_by,omitempty"`

	// Returns links earlier data nodes as outputs of this workflow: label
	// to ref.
	Returns map[string]string `yaml:"returns,omitempty"`

	// Sealed seals the process node after storing it.
	Sealed bool `yaml:"sealed,omitempty"`
}

// OutputRef names a producing process and the link label.
type OutputRef struct {
	Process string `yaml:"process"`
	Label   string `yaml:"label"`
}

// GroupStep creates a group holding fixture nodes.
type GroupStep struct {
	Label   string   `yaml:"label"`
	Members []string `yaml:"members"`
}

// RunStep runs a registered process.
type RunStep struct {
	// ID references the process node; "<id>.<output>" references its
	// outputs.
	ID string `yaml:"id"`

	// Process is the registry name.
	Process string `yaml:"process"`

	// Inputs maps input labels to values. A string "@ref" passes an
	// existing node; anything else becomes a new data node.
	Inputs map[string]any `yaml:"inputs,omitempty"`
}

// DeleteStep deletes roots and their closure.
type DeleteStep struct {
	Roots  []string `yaml:"roots"`
	DryRun bool     `yaml:"dry_run,omitempty"`

	// Nil toggles keep their default (follow).
	CreateForward   *bool `yaml:"create_forward,omitempty"`
	CallCalcForward *bool `yaml:"call_calc_forward,omitempty"`
	CallWorkForward *bool `yaml:"call_work_forward,omitempty"`
}

// Assertion validates the final graph.
type Assertion struct {
	// Type specifies the assertion type:
	// - "process": ref terminated with state, exit_status and outputs
	// - "exists": every ref is still stored
	// - "deleted": every ref is gone (count checks the closure size)
	// - "link": a link of link_type and label joins from to to
	// - "cached": ref was served from the cache of from
	// - "query": the query returns count rows or exactly refs
	Type string `yaml:"type"`

	Ref  string   `yaml:"ref,omitempty"`
	Refs []string `yaml:"refs,omitempty"`

	State      string         `yaml:"state,omitempty"`
	ExitStatus *int           `yaml:"exit_status,omitempty"`
	Outputs    map[string]any `yaml:"outputs,omitempty"`

	From     string `yaml:"from,omitempty"`
	To       string `yaml:"to,omitempty"`
	LinkType string `yaml:"link_type,omitempty"`
	Label    string `yaml:"label,omitempty"`

	// Query is a query path document (see queryir.DecodeYAML).
	Query yaml.Node `yaml:"query,omitempty"`
	Count *int      `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertProcess = "process"
	AssertExists  = "exists"
	AssertDeleted = "deleted"
	AssertLink    = "link"
	AssertCached  = "cached"
	AssertQuery   = "query"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that refs
// point backwards.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Nodes) == 0 && len(s.Runs) == 0 {
		return fmt.Errorf("nodes or runs are required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	known := make(map[string]bool)
	need := func(where, ref string) error {
		if !known[ref] {
			return fmt.Errorf("%s: unknown or later node %q", where, ref)
		}
		return nil
	}
	for i, n := range s.Nodes {
		where := fmt.Sprintf("nodes[%d]", i)
		if n.ID == "" {
			return fmt.Errorf("%s: id is required", where)
		}
		if known[n.ID] {
			return fmt.Errorf("%s: duplicate id %q", where, n.ID)
		}
		if n.Subtype == "" {
			return fmt.Errorf("%s: subtype is required", where)
		}
		for _, ref := range n.Inputs {
			if err := need(where+".inputs", ref); err != nil {
				return err
			}
		}
		for _, ref := range n.Returns {
			if err := need(where+".returns", ref); err != nil {
				return err
			}
		}
		if n.Caller != "" {
			if err := need(where+".caller", n.Caller); err != nil {
				return err
			}
		}
		if n.CreatedBy != nil {
			if err := need(where+".created_by", n.CreatedBy.Process); err != nil {
				return err
			}
			if n.CreatedBy.Label == "" {
				return fmt.Errorf("%s.created_by: label is required", where)
			}
		}
		if n.ReturnedBy != nil {
			if err := need(where+".returned_by", n.ReturnedBy.Process); err != nil {
				return err
			}
			if n.ReturnedBy.Label == "" {
				return fmt.Errorf("%s.returned_by: label is required", where)
			}
		}
		known[n.ID] = true
	}

	for i, g := range s.Groups {
		where := fmt.Sprintf("groups[%d]", i)
		if g.Label == "" {
			return fmt.Errorf("%s: label is required", where)
		}
		for _, ref := range g.Members {
			if err := need(where+".members", ref); err != nil {
				return err
			}
		}
	}

	for i, r := range s.Runs {
		where := fmt.Sprintf("runs[%d]", i)
		if r.ID == "" || r.Process == "" {
			return fmt.Errorf("%s: id and process are required", where)
		}
		if known[r.ID] {
			return fmt.Errorf("%s: duplicate id %q", where, r.ID)
		}
		known[r.ID] = true
	}

	if s.Delete != nil && len(s.Delete.Roots) == 0 {
		return fmt.Errorf("delete: roots are required")
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertProcess:
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for process", index)
		}
	case AssertExists, AssertDeleted:
		if len(a.Refs) == 0 && a.Count == nil {
			return fmt.Errorf("assertions[%d]: refs or count is required for %s", index, a.Type)
		}
	case AssertLink:
		if a.From == "" || a.To == "" || a.LinkType == "" {
			return fmt.Errorf("assertions[%d]: from, to and link_type are required for link", index)
		}
	case AssertCached:
		if a.Ref == "" || a.From == "" {
			return fmt.Errorf("assertions[%d]: ref and from are required for cached", index)
		}
	case AssertQuery:
		if a.Query.Kind == 0 {
			return fmt.Errorf("assertions[%d]: query is required for query", index)
		}
		if a.Count == nil && a.Refs == nil {
			return fmt.Errorf("assertions[%d]: count or refs is required for query", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
