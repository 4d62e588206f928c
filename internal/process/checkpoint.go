package process

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/outline"
)

// Checkpoint is the persisted state of a non-terminal process. It is
// written to the checkpoints attribute as canonical JSON after every
// transition.
type Checkpoint struct {
	// Name is the definition the process runs.
	Name    string             `json:"name"`
	State   ir.ProcessState    `json:"state"`
	Stepper outline.Checkpoint `json:"stepper"`
	Vars    ir.IRObject        `json:"ctx"`
	// Awaiting lists unresolved awaitables in registration order.
	Awaiting []Awaitable `json:"awaiting"`
	Paused   bool        `json:"paused"`
	Steps    int         `json:"steps"`
	// Outputs maps output labels to data node uuids.
	Outputs map[string]string `json:"outputs"`
}

// Encode renders the checkpoint as canonical JSON.
func (c *Checkpoint) Encode() (string, error) {
	cp := *c
	if cp.Vars == nil {
		cp.Vars = ir.IRObject{}
	}
	if cp.Awaiting == nil {
		cp.Awaiting = []Awaitable{}
	}
	if cp.Outputs == nil {
		cp.Outputs = map[string]string{}
	}
	if cp.Stepper.Cursor == nil {
		cp.Stepper.Cursor = []int{}
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	v, err := ir.UnmarshalIRValue(raw)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	canon, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	return string(canon), nil
}

// Digest returns the content digest of the encoded checkpoint.
func (c *Checkpoint) Digest() (string, error) {
	s, err := c.Encode()
	if err != nil {
		return "", err
	}
	return ir.CheckpointDigest([]byte(s)), nil
}

// DecodeCheckpoint parses an encoded checkpoint.
func DecodeCheckpoint(data string) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, ir.Errorf(ir.CodeValidation, "decode checkpoint: %v", err)
	}
	if c.Name == "" {
		return nil, ir.Errorf(ir.CodeValidation, "checkpoint has no process name")
	}
	if c.Vars == nil {
		c.Vars = ir.IRObject{}
	}
	if c.Outputs == nil {
		c.Outputs = map[string]string{}
	}
	return &c, nil
}

// OutputUUIDs maps registered outputs to uuids for a checkpoint.
func OutputUUIDs(outputs map[string]*graph.Node) map[string]string {
	out := make(map[string]string, len(outputs))
	for label, n := range outputs {
		out[label] = n.UUID()
	}
	return out
}
