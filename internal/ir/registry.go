package ir

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Attribute keys written by the runner on process nodes.
const (
	AttrProcessState  = "process_state"
	AttrProcessStatus = "process_status"
	AttrProcessLabel  = "process_label"
	AttrExitStatus    = "exit_status"
	AttrExitMessage   = "exit_message"
	AttrException     = "exception"
	AttrCheckpoints   = "checkpoints"
	AttrPaused        = "paused"
	AttrSealed        = "sealed"

	// AttrProcessType names the process definition. It is fixed at store
	// time and so takes part in the node hash.
	AttrProcessType = "process_type"
)

// Extra keys with reserved meaning.
const (
	ExtraCachedFrom = "_cached_from"
)

// ProcessUpdatableAttributes are the attributes of a stored process node
// that may still change until the node is sealed.
var ProcessUpdatableAttributes = []string{
	AttrProcessState,
	AttrProcessStatus,
	AttrProcessLabel,
	AttrExitStatus,
	AttrExitMessage,
	AttrException,
	AttrCheckpoints,
	AttrPaused,
	AttrSealed,
}

// SubtypeInfo describes one registered node subtype.
type SubtypeInfo struct {
	// Name is the dotted registry key, e.g. "data.core.int".
	Name string

	// Type is the node category.
	Type NodeType

	// Abstract subtypes cannot be stored.
	Abstract bool

	// Updatable lists attributes mutable after store and before sealing.
	Updatable []string

	// Cacheable subtypes participate in hash-based caching.
	Cacheable bool
}

// IsUpdatable reports whether attribute key may change after store.
func (s SubtypeInfo) IsUpdatable(key string) bool {
	return slices.Contains(s.Updatable, key)
}

// Registry maps subtype names to their descriptors.
// Registries are explicit objects owned by a store; there is no global.
type Registry struct {
	mu       sync.RWMutex
	subtypes map[string]SubtypeInfo
}

// NewRegistry returns a registry preloaded with the built-in subtypes.
func NewRegistry() *Registry {
	r := &Registry{subtypes: make(map[string]SubtypeInfo)}
	for _, info := range builtinSubtypes() {
		r.subtypes[info.Name] = info
	}
	return r
}

func builtinSubtypes() []SubtypeInfo {
	data := func(name string) SubtypeInfo {
		return SubtypeInfo{Name: name, Type: NodeData}
	}
	return []SubtypeInfo{
		{Name: "data", Type: NodeData, Abstract: true},
		data("data.core.int"),
		data("data.core.float"),
		data("data.core.str"),
		data("data.core.bool"),
		data("data.core.dict"),
		data("data.core.list"),
		data("data.core.folder"),
		data("data.core.singlefile"),
		data("data.core.remote"),
		{Name: "process.calculation", Type: NodeCalculation, Abstract: true},
		{Name: "process.workflow", Type: NodeWorkflow, Abstract: true},
		{
			Name:      "process.calculation.calcfunction",
			Type:      NodeCalculation,
			Updatable: ProcessUpdatableAttributes,
			Cacheable: true,
		},
		{
			Name:      "process.calculation.calcjob",
			Type:      NodeCalculation,
			Updatable: ProcessUpdatableAttributes,
			Cacheable: true,
		},
		{
			Name:      "process.workflow.workchain",
			Type:      NodeWorkflow,
			Updatable: ProcessUpdatableAttributes,
		},
		{
			Name:      "process.workflow.workfunction",
			Type:      NodeWorkflow,
			Updatable: ProcessUpdatableAttributes,
		},
	}
}

// Register adds or replaces a subtype. The name's first segment must agree
// with its node type ("data." for data, "process." for processes).
func (r *Registry) Register(info SubtypeInfo) error {
	if !ValidNodeTypes[info.Type] {
		return Errorf(CodeValidation, "subtype %q has invalid node type %q", info.Name, info.Type)
	}
	wantPrefix := "data."
	if info.Type.IsProcess() {
		wantPrefix = "process."
	}
	if !strings.HasPrefix(info.Name, wantPrefix) {
		return Errorf(CodeValidation, "subtype %q must start with %q", info.Name, wantPrefix)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.subtypes[info.Name] = info
	return nil
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (SubtypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.subtypes[name]
	return info, ok
}

// Storable returns the descriptor for name or a StoringNotAllowed error
// for abstract or unknown subtypes.
func (r *Registry) Storable(name string) (SubtypeInfo, error) {
	info, ok := r.Lookup(name)
	if !ok {
		return SubtypeInfo{}, &Error{Code: CodeStoringNotAllowed, Message: "unknown subtype", Entity: name}
	}
	if info.Abstract {
		return SubtypeInfo{}, &Error{Code: CodeStoringNotAllowed, Message: "abstract subtype cannot be stored", Entity: name}
	}
	return info, nil
}

// Names returns all registered subtype names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.subtypes))
	for name := range r.subtypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MatchesSubtype reports whether subtype equals filter or lies beneath it
// in the dotted hierarchy ("data.core" matches "data.core.int").
func MatchesSubtype(subtype, filter string) bool {
	return subtype == filter || strings.HasPrefix(subtype, filter+".")
}

// String implements fmt.Stringer.
func (s SubtypeInfo) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.Type)
}
