package graph

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/lineage/internal/ir"
)

// Clock supplies wall-clock time for ctime/mtime.
type Clock func() time.Time

// DefaultClock returns the current UTC time.
func DefaultClock() time.Time {
	return time.Now().UTC()
}

// Node is a vertex of the provenance graph.
//
// An unstored node is freely mutable. Once stored, attributes are frozen
// except for the subtype's updatable keys, which stay writable until the
// node is sealed. Extras, label and description are always writable.
// Mutations of a stored node are recorded as dirty and persisted by the
// store on flush.
type Node struct {
	pk          int64
	uuid        string
	info        ir.SubtypeInfo
	label       string
	description string
	ctime       time.Time
	mtime       time.Time
	version     int64
	attributes  ir.IRObject
	extras      ir.IRObject
	hash        string
	userPK      int64
	computerPK  int64
	files       map[string][]byte
	incoming    []PendingLink
	stored      bool
	clock       Clock
	dirty       Dirty
}

// Dirty records which parts of a stored node changed since the last flush.
type Dirty struct {
	Attributes map[string]bool
	Extras     map[string]bool
	Label      bool
	Desc       bool
}

// Empty reports whether nothing needs flushing.
func (d Dirty) Empty() bool {
	return len(d.Attributes) == 0 && len(d.Extras) == 0 && !d.Label && !d.Desc
}

// PendingLink is an incoming link recorded on an unstored target.
type PendingLink struct {
	Source *Node
	Type   ir.LinkType
	Label  string
}

// NodeOption configures a new Node.
type NodeOption func(*Node)

// WithUUID sets an explicit UUID instead of a random one.
func WithUUID(id string) NodeOption {
	return func(n *Node) { n.uuid = id }
}

// WithClock overrides the time source for ctime/mtime.
func WithClock(c Clock) NodeOption {
	return func(n *Node) { n.clock = c }
}

// WithLabel sets the initial label.
func WithLabel(label string) NodeOption {
	return func(n *Node) { n.label = label }
}

// WithAttributes sets the initial attributes.
func WithAttributes(attrs ir.IRObject) NodeOption {
	return func(n *Node) { n.attributes = attrs.Clone() }
}

// NewNode creates an unstored node of the given subtype.
// The subtype must be registered; abstract subtypes are accepted here and
// rejected when stored.
func NewNode(reg *ir.Registry, subtype string, opts ...NodeOption) (*Node, error) {
	info, ok := reg.Lookup(subtype)
	if !ok {
		return nil, &ir.Error{Code: ir.CodeStoringNotAllowed, Message: "unknown subtype", Entity: subtype}
	}

	n := &Node{
		info:       info,
		attributes: ir.IRObject{},
		extras:     ir.IRObject{},
		files:      make(map[string][]byte),
		clock:      DefaultClock,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.uuid == "" {
		n.uuid = uuid.NewString()
	}
	n.ctime = n.clock()
	n.mtime = n.ctime
	return n, nil
}

// Record is the persisted form of a node, used by the store to rebuild nodes.
type Record struct {
	PK          int64
	UUID        string
	Subtype     string
	Label       string
	Description string
	Ctime       time.Time
	Mtime       time.Time
	Version     int64
	Attributes  ir.IRObject
	Extras      ir.IRObject
	Hash        string
	UserPK      int64
	ComputerPK  int64
}

// Restore rebuilds a stored node from its record.
func Restore(reg *ir.Registry, rec Record, clock Clock) (*Node, error) {
	info, ok := reg.Lookup(rec.Subtype)
	if !ok {
		return nil, fmt.Errorf("restore node %s: unknown subtype %q", rec.UUID, rec.Subtype)
	}
	if clock == nil {
		clock = DefaultClock
	}
	attrs := rec.Attributes
	if attrs == nil {
		attrs = ir.IRObject{}
	}
	extras := rec.Extras
	if extras == nil {
		extras = ir.IRObject{}
	}
	return &Node{
		pk:          rec.PK,
		uuid:        rec.UUID,
		info:        info,
		label:       rec.Label,
		description: rec.Description,
		ctime:       rec.Ctime,
		mtime:       rec.Mtime,
		version:     rec.Version,
		attributes:  attrs,
		extras:      extras,
		hash:        rec.Hash,
		userPK:      rec.UserPK,
		computerPK:  rec.ComputerPK,
		files:       make(map[string][]byte),
		stored:      true,
		clock:       clock,
	}, nil
}

// Record returns the persisted form of the node.
func (n *Node) Record() Record {
	return Record{
		PK:          n.pk,
		UUID:        n.uuid,
		Subtype:     n.info.Name,
		Label:       n.label,
		Description: n.description,
		Ctime:       n.ctime,
		Mtime:       n.mtime,
		Version:     n.version,
		Attributes:  n.attributes.Clone(),
		Extras:      n.extras.Clone(),
		Hash:        n.hash,
		UserPK:      n.userPK,
		ComputerPK:  n.computerPK,
	}
}

func (n *Node) PK() int64 { return n.pk }
func (n *Node) UUID() string { return n.uuid }
func (n *Node) Subtype() string { return n.info.Name }
func (n *Node) Type() ir.NodeType { return n.info.Type }
func (n *Node) Info() ir.SubtypeInfo { return n.info }
func (n *Node) Label() string { return n.label }
func (n *Node) Description() string { return n.description }
func (n *Node) Ctime() time.Time { return n.ctime }
func (n *Node) Mtime() time.Time { return n.mtime }
func (n *Node) Version() int64 { return n.version }
func (n *Node) Hash() string { return n.hash }
func (n *Node) UserPK() int64 { return n.userPK }
func (n *Node) ComputerPK() int64 { return n.computerPK }
func (n *Node) IsStored() bool { return n.stored }
func (n *Node) Incoming() []PendingLink { return slices.Clone(n.incoming) }
func (n *Node) Dirty() Dirty { return n.dirty }
func (n *Node) String() string { return fmt.Sprintf("%s<%s>", n.info.Name, n.uuid) }

// IsSealed reports whether the node's updatable attributes are frozen too.
func (n *Node) IsSealed() bool {
	v, ok := n.attributes[ir.AttrSealed].(ir.IRBool)
	return ok && bool(v)
}

// Attributes returns a copy of all attributes.
func (n *Node) Attributes() ir.IRObject {
	return n.attributes.Clone()
}

// Attribute returns a copy of one attribute.
func (n *Node) Attribute(key string) (ir.IRValue, bool) {
	v, ok := n.attributes[key]
	if !ok {
		return nil, false
	}
	return ir.CloneValue(v), true
}

// checkAttributeWrite enforces the freeze rules for attribute key.
func (n *Node) checkAttributeWrite(key string) error {
	if !n.stored {
		return nil
	}
	if !n.info.IsUpdatable(key) {
		return &ir.Error{
			Code:    ir.CodeModificationNotAllowed,
			Message: fmt.Sprintf("attribute %q of a stored node is immutable", key),
			Entity:  n.uuid,
		}
	}
	if n.IsSealed() {
		return &ir.Error{
			Code:    ir.CodeModificationNotAllowed,
			Message: fmt.Sprintf("node is sealed, cannot change %q", key),
			Entity:  n.uuid,
		}
	}
	return nil
}

// SetAttribute sets an attribute, subject to the freeze rules.
func (n *Node) SetAttribute(key string, value ir.IRValue) error {
	if err := n.checkAttributeWrite(key); err != nil {
		return err
	}
	n.attributes[key] = ir.CloneValue(value)
	n.markAttribute(key)
	return nil
}

// DeleteAttribute removes an attribute, subject to the freeze rules.
func (n *Node) DeleteAttribute(key string) error {
	if err := n.checkAttributeWrite(key); err != nil {
		return err
	}
	if _, ok := n.attributes[key]; !ok {
		return ir.NotExistent("attribute", key)
	}
	delete(n.attributes, key)
	n.markAttribute(key)
	return nil
}

// Seal freezes the updatable attributes of a stored node.
func (n *Node) Seal() error {
	if n.IsSealed() {
		return nil
	}
	if !n.stored {
		return &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "only stored nodes can be sealed", Entity: n.uuid}
	}
	n.attributes[ir.AttrSealed] = ir.IRBool(true)
	n.markAttribute(ir.AttrSealed)
	return nil
}

// Extras returns a copy of all extras.
func (n *Node) Extras() ir.IRObject {
	return n.extras.Clone()
}

// Extra returns a copy of one extra.
func (n *Node) Extra(key string) (ir.IRValue, bool) {
	v, ok := n.extras[key]
	if !ok {
		return nil, false
	}
	return ir.CloneValue(v), true
}

// SetExtra sets an extra. Extras are writable in every state.
func (n *Node) SetExtra(key string, value ir.IRValue) {
	n.extras[key] = ir.CloneValue(value)
	n.markExtra(key)
}

// DeleteExtra removes an extra.
func (n *Node) DeleteExtra(key string) error {
	if _, ok := n.extras[key]; !ok {
		return ir.NotExistent("extra", key)
	}
	delete(n.extras, key)
	n.markExtra(key)
	return nil
}

// SetLabel sets the label.
func (n *Node) SetLabel(label string) {
	n.label = label
	n.touch()
	if n.stored {
		n.dirty.Label = true
	}
}

// SetDescription sets the description.
func (n *Node) SetDescription(desc string) {
	n.description = desc
	n.touch()
	if n.stored {
		n.dirty.Desc = true
	}
}

// SetComputer assigns the computer a calculation runs on.
func (n *Node) SetComputer(pk int64) error {
	if n.stored {
		return &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "computer of a stored node is immutable", Entity: n.uuid}
	}
	n.computerPK = pk
	return nil
}

// SetUser assigns the creating user.
func (n *Node) SetUser(pk int64) error {
	if n.stored {
		return &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "user of a stored node is immutable", Entity: n.uuid}
	}
	n.userPK = pk
	return nil
}

// PutFile adds a file to the node repository. Only unstored nodes accept files.
func (n *Node) PutFile(path string, content []byte) error {
	if n.stored {
		return &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "repository of a stored node is immutable", Entity: n.uuid}
	}
	if path == "" || path[0] == '/' {
		return ir.Errorf(ir.CodeValidation, "invalid repository path %q", path)
	}
	n.files[path] = slices.Clone(content)
	n.touch()
	return nil
}

// Files returns the unstored repository contents.
func (n *Node) Files() map[string][]byte {
	return maps.Clone(n.files)
}

// AddIncoming records an incoming link on an unstored node.
// Conflicts with links already recorded on this node are rejected here;
// conflicts with stored links are checked by the store.
func (n *Node) AddIncoming(source *Node, lt ir.LinkType, label string) error {
	if n.stored {
		return &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "use the store to link stored nodes", Entity: n.uuid}
	}
	if source == nil {
		return ir.Errorf(ir.CodeValidation, "link source is nil")
	}
	if err := ValidateLink(source.Type(), n.Type(), source.UUID(), n.UUID(), lt, label); err != nil {
		return err
	}
	existing := make([]Edge, 0, len(n.incoming))
	for _, l := range n.incoming {
		existing = append(existing, Edge{Source: l.Source.UUID(), Target: n.uuid, Type: l.Type, Label: l.Label})
	}
	if err := CheckConflicts(Edge{Source: source.UUID(), Target: n.uuid, Type: lt, Label: label}, existing, nil); err != nil {
		return err
	}
	n.incoming = append(n.incoming, PendingLink{Source: source, Type: lt, Label: label})
	return nil
}

// StoredState is what the store committed for a node.
type StoredState struct {
	PK   int64
	Hash string
	// Attributes and Extras replace the in-memory maps when non-nil
	// (a cache hit copies results from the cached node).
	Attributes ir.IRObject
	Extras     ir.IRObject
}

// MarkStored is called by the store after the node row is committed.
func (n *Node) MarkStored(st StoredState) {
	n.pk = st.PK
	n.hash = st.Hash
	if st.Attributes != nil {
		n.attributes = st.Attributes.Clone()
	}
	if st.Extras != nil {
		n.extras = st.Extras.Clone()
	}
	n.stored = true
	n.incoming = nil
	n.files = make(map[string][]byte)
	n.dirty = Dirty{}
}

// ClearDirty is called by the store after a flush commits.
func (n *Node) ClearDirty() {
	n.dirty = Dirty{}
}

func (n *Node) markAttribute(key string) {
	n.touch()
	if !n.stored {
		return
	}
	if n.dirty.Attributes == nil {
		n.dirty.Attributes = make(map[string]bool)
	}
	n.dirty.Attributes[key] = true
}

func (n *Node) markExtra(key string) {
	n.touch()
	if !n.stored {
		return
	}
	if n.dirty.Extras == nil {
		n.dirty.Extras = make(map[string]bool)
	}
	n.dirty.Extras[key] = true
}

// touch advances mtime strictly and bumps the version.
func (n *Node) touch() {
	now := n.clock()
	if !now.After(n.mtime) {
		now = n.mtime.Add(time.Microsecond)
	}
	n.mtime = now
	n.version++
}

// HashableAttributes returns the attributes that contribute to the content
// hash: everything except the subtype's updatable keys.
func (n *Node) HashableAttributes() ir.IRObject {
	out := make(ir.IRObject, len(n.attributes))
	for k, v := range n.attributes {
		if n.info.IsUpdatable(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// nodeJSON is the external JSON shape of a node.
type nodeJSON struct {
	PK          int64       `json:"pk"`
	UUID        string      `json:"uuid"`
	NodeType    ir.NodeType `json:"node_type"`
	Subtype     string      `json:"subtype"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
	Ctime       time.Time   `json:"ctime"`
	Mtime       time.Time   `json:"mtime"`
	Version     int64       `json:"version"`
	Attributes  ir.IRObject `json:"attributes"`
	Extras      ir.IRObject `json:"extras"`
	Hash        string      `json:"hash,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeJSON{
		PK:          n.pk,
		UUID:        n.uuid,
		NodeType:    n.info.Type,
		Subtype:     n.info.Name,
		Label:       n.label,
		Description: n.description,
		Ctime:       n.ctime,
		Mtime:       n.mtime,
		Version:     n.version,
		Attributes:  n.attributes,
		Extras:      n.extras,
		Hash:        n.hash,
	})
}
