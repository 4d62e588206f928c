package queryir

import "github.com/roach88/lineage/internal/ir"

// Relation joins a vertex to an earlier vertex of the path.
type Relation string

const (
	// Node relations. The vertex is the subject: "v input_of t" means v is
	// an input of t.
	InputOf      Relation = "input_of"
	OutputOf     Relation = "output_of"
	AncestorOf   Relation = "ancestor_of"
	DescendantOf Relation = "descendant_of"

	// Membership relations between nodes and groups.
	MemberOf Relation = "member_of" // node in group t
	GroupOf  Relation = "group_of"  // group containing node t

	// Comment relations.
	CommentOf   Relation = "comment_of"   // comment on node t
	WithComment Relation = "with_comment" // node carrying comment t

	// Computer relations.
	ComputerOf   Relation = "computer_of"   // computer of node t
	WithComputer Relation = "with_computer" // node run on computer t

	// User relations.
	UserOf   Relation = "user_of"   // creator of node, group or comment t
	WithUser Relation = "with_user" // node, group or comment created by user t
)

// relationKinds maps each relation to the allowed (vertex kind, target kind) pairs.
var relationKinds = map[Relation][][2]ir.EntityKind{
	InputOf:      {{ir.EntityNode, ir.EntityNode}},
	OutputOf:     {{ir.EntityNode, ir.EntityNode}},
	AncestorOf:   {{ir.EntityNode, ir.EntityNode}},
	DescendantOf: {{ir.EntityNode, ir.EntityNode}},
	MemberOf:     {{ir.EntityNode, ir.EntityGroup}},
	GroupOf:      {{ir.EntityGroup, ir.EntityNode}},
	CommentOf:    {{ir.EntityComment, ir.EntityNode}},
	WithComment:  {{ir.EntityNode, ir.EntityComment}},
	ComputerOf:   {{ir.EntityComputer, ir.EntityNode}},
	WithComputer: {{ir.EntityNode, ir.EntityComputer}},
	UserOf: {
		{ir.EntityUser, ir.EntityNode},
		{ir.EntityUser, ir.EntityGroup},
		{ir.EntityUser, ir.EntityComment},
	},
	WithUser: {
		{ir.EntityNode, ir.EntityUser},
		{ir.EntityGroup, ir.EntityUser},
		{ir.EntityComment, ir.EntityUser},
	},
}

// HasEdge reports whether the relation joins through the links table, which
// makes edge filters and edge projections available.
func (r Relation) HasEdge() bool {
	return r == InputOf || r == OutputOf
}

// IsTransitive reports whether the relation follows link paths of any length.
func (r Relation) IsTransitive() bool {
	return r == AncestorOf || r == DescendantOf
}

// Vertex is one step of a query path.
type Vertex struct {
	// Kind selects the entity table. Defaults to node.
	Kind ir.EntityKind `json:"kind,omitempty" yaml:"kind,omitempty"`

	// NodeType restricts node vertices to one node type.
	NodeType ir.NodeType `json:"node_type,omitempty" yaml:"node_type,omitempty"`

	// Subtypes restricts node vertices to subtypes matching any of these
	// prefixes on dot boundaries ("data.core" matches "data.core.int").
	Subtypes []string `json:"subtypes,omitempty" yaml:"subtypes,omitempty"`

	// Tag names the vertex. Auto-derived when empty.
	Tag string `json:"tag,omitempty" yaml:"tag,omitempty"`

	// Relation and With join the vertex to the earlier vertex tagged With.
	Relation Relation `json:"relation,omitempty" yaml:"relation,omitempty"`
	With     string   `json:"with,omitempty" yaml:"with,omitempty"`

	// Distance joins by position instead: d > 0 means output_of and d < 0
	// input_of the vertex |d| places back.
	Distance int `json:"distance,omitempty" yaml:"distance,omitempty"`

	Filters     Predicate `json:"-" yaml:"-"`
	EdgeFilters Predicate `json:"-" yaml:"-"`

	Project     []string `json:"project,omitempty" yaml:"project,omitempty"`
	EdgeProject []string `json:"edge_project,omitempty" yaml:"edge_project,omitempty"`
}

// OrderBy sorts results by a field of a tagged vertex.
type OrderBy struct {
	Tag   string `json:"tag" yaml:"tag"`
	Field string `json:"field" yaml:"field"`
	Desc  bool   `json:"desc,omitempty" yaml:"desc,omitempty"`
}

// Path is a declarative query: an ordered list of joined vertices.
type Path struct {
	Vertices []Vertex
	Order    []OrderBy
	Limit    int
	Offset   int
	Distinct bool
}

// Predicate is a filter expression.
//
// This is a sealed interface: only And, Or, Not and Compare implement it,
// so backend compilers can switch exhaustively.
type Predicate interface {
	predicateNode()
}

// And is true when every predicate is true. Empty is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or is true when any predicate is true. Empty is always false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Operator is a comparison operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpGt       Operator = ">"
	OpLt       Operator = "<"
	OpGte      Operator = ">="
	OpLte      Operator = "<="
	OpIn       Operator = "in"
	OpLike     Operator = "like"
	OpILike    Operator = "ilike"
	OpContains Operator = "contains"
	OpHasKey   Operator = "has_key"
	OpOfLength Operator = "of_length"
	OpLonger   Operator = "longer"
	OpShorter  Operator = "shorter"
)

// ValidOperators lists the supported comparison operators.
var ValidOperators = map[Operator]bool{
	OpEq: true, OpGt: true, OpLt: true, OpGte: true, OpLte: true,
	OpIn: true, OpLike: true, OpILike: true,
	OpContains: true, OpHasKey: true,
	OpOfLength: true, OpLonger: true, OpShorter: true,
}

// IsJSONOnly reports whether the operator needs a JSON operand.
func (o Operator) IsJSONOnly() bool {
	switch o {
	case OpContains, OpHasKey, OpOfLength, OpLonger, OpShorter:
		return true
	}
	return false
}

// Compare tests one field against a value.
//
// Field is a column name ("uuid", "label", "pk") or a JSON path into
// attributes or extras ("attributes.a.b", "extras.x").
type Compare struct {
	Field string
	Op    Operator
	Value ir.IRValue
}

func (Compare) predicateNode() {}

// Field is a parsed column reference.
type Field struct {
	Column string
	// Path holds the JSON keys below a JSON column; nil for plain columns.
	Path []string
}

// IsJSON reports whether the field is (inside) a JSON column.
func (f Field) IsJSON() bool {
	return jsonColumns[f.Column]
}

func (f Field) String() string {
	s := f.Column
	for _, p := range f.Path {
		s += "." + p
	}
	return s
}

// Star projects the whole entity.
const Star = "*"

// DefaultProjection is projected on the last vertex when no vertex of the
// path projects anything.
const DefaultProjection = Star

// entityColumns is the column catalog per entity kind, in storage order.
var entityColumns = map[ir.EntityKind][]string{
	ir.EntityNode: {"id", "uuid", "subtype", "label", "description", "ctime", "mtime",
		"version", "attributes", "extras", "node_hash", "user_id", "computer_id"},
	ir.EntityGroup:   {"id", "uuid", "label", "type_string", "description", "user_id", "time", "extras"},
	ir.EntityComment: {"id", "uuid", "node_id", "user_id", "content", "ctime", "mtime"},
	ir.EntityComputer: {"id", "uuid", "label", "hostname", "description", "transport_type",
		"work_dir", "safe_open_interval_ms", "username", "key_file", "port"},
	ir.EntityUser: {"id", "email", "first_name", "last_name", "institution"},
}

// extraColumns are queryable but not part of the stored entity scan.
var extraColumns = map[ir.EntityKind][]string{
	ir.EntityNode: {"node_type"},
}

// EdgeColumns are the queryable columns of a link.
var EdgeColumns = []string{"id", "input_id", "output_id", "type", "label"}

var jsonColumns = map[string]bool{"attributes": true, "extras": true}

// EntityColumns returns the stored columns of an entity kind in scan order.
func EntityColumns(kind ir.EntityKind) []string {
	return append([]string(nil), entityColumns[kind]...)
}

// Table returns the SQL table of an entity kind.
func Table(kind ir.EntityKind) string {
	switch kind {
	case ir.EntityNode:
		return "nodes"
	case ir.EntityGroup:
		return "groups"
	case ir.EntityComment:
		return "comments"
	case ir.EntityComputer:
		return "computers"
	case ir.EntityUser:
		return "users"
	}
	return ""
}
