package workflows

import (
	"context"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
)

// Calcfunction names.
const (
	Add      = "add"
	Multiply = "multiply"
)

func intPorts(names ...string) []process.Port {
	out := make([]process.Port, 0, len(names))
	for _, n := range names {
		out = append(out, process.Port{Name: n, Required: true, ValidTypes: []string{"data.core.int"}})
	}
	return out
}

// AddDef adds two integers.
var AddDef = &process.CalcFunctionDef{
	Label: Add,
	Spec:  &process.Spec{Inputs: intPorts("x", "y"), Outputs: intPorts("sum")},
	Func: func(_ context.Context, c *process.Calc) error {
		x, err := c.Int("x")
		if err != nil {
			return err
		}
		y, err := c.Int("y")
		if err != nil {
			return err
		}
		return c.OutValue("sum", ir.IRInt(x+y))
	},
}

// MultiplyDef multiplies two integers.
var MultiplyDef = &process.CalcFunctionDef{
	Label: Multiply,
	Spec:  &process.Spec{Inputs: intPorts("x", "y"), Outputs: intPorts("result")},
	Func: func(_ context.Context, c *process.Calc) error {
		x, err := c.Int("x")
		if err != nil {
			return err
		}
		y, err := c.Int("y")
		if err != nil {
			return err
		}
		return c.OutValue("result", ir.IRInt(x*y))
	},
}
