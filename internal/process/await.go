package process

import (
	"fmt"

	"github.com/roach88/lineage/internal/ir"
)

// AwaitMode selects how a resolved child is recorded in the context.
type AwaitMode string

const (
	// AwaitAssign stores the child uuid under the key.
	AwaitAssign AwaitMode = "assign"
	// AwaitAppend appends the child uuid to a list under the key.
	AwaitAppend AwaitMode = "append"
)

// Handle identifies a submitted child process.
type Handle struct {
	UUID string `json:"uuid"`
	PK   int64  `json:"pk"`
}

func (h Handle) String() string { return h.UUID }

// Awaitable is a pending child the parent waits for.
type Awaitable struct {
	Key   string    `json:"key"`
	Child string    `json:"child"`
	Mode  AwaitMode `json:"mode"`
}

func (a Awaitable) String() string {
	return fmt.Sprintf("%s(%s<-%s)", a.Mode, a.Key, a.Child)
}

// ToContext waits for h and stores its uuid in ctx[key].
func ToContext(key string, h Handle) Awaitable {
	return Awaitable{Key: key, Child: h.UUID, Mode: AwaitAssign}
}

// Append waits for h and appends its uuid to the list in ctx[key].
func Append(key string, h Handle) Awaitable {
	return Awaitable{Key: key, Child: h.UUID, Mode: AwaitAppend}
}

// Resolve records the child in vars according to the mode.
func (a Awaitable) Resolve(vars ir.IRObject) {
	child := ir.IRString(a.Child)
	if a.Mode != AwaitAppend {
		vars[a.Key] = child
		return
	}
	list, _ := vars[a.Key].(ir.IRArray)
	vars[a.Key] = append(append(ir.IRArray{}, list...), child)
}
