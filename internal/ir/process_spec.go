package ir

// ProcessState is the lifecycle state recorded on process nodes.
type ProcessState string

const (
	StateCreated  ProcessState = "created"
	StateRunning  ProcessState = "running"
	StateWaiting  ProcessState = "waiting"
	StateFinished ProcessState = "finished"
	StateExcepted ProcessState = "excepted"
	StateKilled   ProcessState = "killed"
)

// IsTerminal reports whether no further transitions are possible.
func (s ProcessState) IsTerminal() bool {
	return s == StateFinished || s == StateExcepted || s == StateKilled
}

// WorkChainSpec is a compiled workchain declaration.
type WorkChainSpec struct {
	Name      string         `json:"name"`
	Inputs    []PortSpec     `json:"inputs"`
	Outputs   []PortSpec     `json:"outputs"`
	ExitCodes []ExitCodeSpec `json:"exit_codes"`
	Outline   []OutlineItem  `json:"outline"`
}

// PortSpec declares one input or output port.
type PortSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // subtype filter, "" accepts any data node
	Required bool   `json:"required"`
	// Default is used to build a data node when an optional input is omitted.
	Default IRValue `json:"default,omitempty"`
	Help    string  `json:"help,omitempty"`
}

// ExitCodeSpec declares a named non-zero exit status.
type ExitCodeSpec struct {
	Label   string `json:"label"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// OutlineKind discriminates outline items.
type OutlineKind string

const (
	OutlineStep   OutlineKind = "step"
	OutlineIf     OutlineKind = "if"
	OutlineWhile  OutlineKind = "while"
	OutlineReturn OutlineKind = "return"
)

// OutlineItem is one node in a declarative outline tree.
//
// Exactly the fields for Kind are set:
//   - step: Name
//   - if: Branches (first is "if", rest "elif") and Else
//   - while: Cond and Body
//   - return: Status
type OutlineItem struct {
	Kind     OutlineKind     `json:"kind"`
	Name     string          `json:"name,omitempty"`
	Cond     string          `json:"cond,omitempty"`
	Branches []OutlineBranch `json:"branches,omitempty"`
	Else     []OutlineItem   `json:"else,omitempty"`
	Body     []OutlineItem   `json:"body,omitempty"`
	Status   int             `json:"status,omitempty"`
}

// OutlineBranch is a guarded block of an if item.
type OutlineBranch struct {
	Cond string        `json:"cond"`
	Body []OutlineItem `json:"body"`
}
