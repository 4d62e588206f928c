package workflows

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
)

// Calcjob names.
const (
	ArithmeticAdd = "arithmetic.add"
	Shell         = "shell"
)

const (
	arithmeticInput  = "aiida.in"
	arithmeticOutput = "aiida.out"
)

var jobExitCodes = []process.ExitCode{
	{Status: 310, Label: "ERROR_READING_OUTPUT_FILE", Message: "the output file could not be read"},
	{Status: 311, Label: "ERROR_INVALID_OUTPUT_FILE", Message: "the output file could not be parsed"},
	{Status: 312, Label: "ERROR_NONZERO_EXIT", Message: "the job exited with a non-zero status"},
}

// ArithmeticAddDef adds two integers with a shell script on computer.
func ArithmeticAddDef(computer string) *process.CalcJobDef {
	return &process.CalcJobDef{
		Label:    ArithmeticAdd,
		Computer: computer,
		Spec: &process.Spec{
			Inputs:    intPorts("x", "y"),
			Outputs:   intPorts("sum"),
			ExitCodes: jobExitCodes,
		},
		Prepare: func(c *process.Calc) (*process.JobSpec, error) {
			x, err := c.Int("x")
			if err != nil {
				return nil, err
			}
			y, err := c.Int("y")
			if err != nil {
				return nil, err
			}
			script := fmt.Sprintf("echo $((%d + %d))\n", x, y)
			return &process.JobSpec{
				Command:  fmt.Sprintf("sh %s > %s", arithmeticInput, arithmeticOutput),
				Files:    map[string][]byte{arithmeticInput: []byte(script)},
				Retrieve: []string{arithmeticOutput},
			}, nil
		},
		Parse: func(c *process.Calc, res *process.JobResult) error {
			if res.ExitCode != 0 {
				return c.Exit("ERROR_NONZERO_EXIT")
			}
			data, ok := res.Files[arithmeticOutput]
			if !ok {
				return c.Exit("ERROR_READING_OUTPUT_FILE")
			}
			sum, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
			if err != nil {
				return c.Exit("ERROR_INVALID_OUTPUT_FILE")
			}
			return c.OutValue("sum", ir.IRInt(sum))
		},
	}
}

// ShellDef runs an arbitrary shell command on computer. Optional inputs
// upload files (a dict of name to content) and name the files to
// retrieve (a list). The exit code and stdout are always recorded.
func ShellDef(computer string) *process.CalcJobDef {
	return &process.CalcJobDef{
		Label:    Shell,
		Computer: computer,
		Spec: &process.Spec{
			Inputs: []process.Port{
				{Name: "command", Required: true, ValidTypes: []string{"data.core.str"}},
				{Name: "files", ValidTypes: []string{"data.core.dict"}},
				{Name: "retrieve", ValidTypes: []string{"data.core.list"}},
			},
			Outputs: []process.Port{
				{Name: "exit_code", Required: true, ValidTypes: []string{"data.core.int"}},
				{Name: "stdout", Required: true, ValidTypes: []string{"data.core.str"}},
				{Name: "stderr", ValidTypes: []string{"data.core.str"}},
				{Name: "retrieved", ValidTypes: []string{"data.core.dict"}},
			},
			ExitCodes: jobExitCodes,
		},
		Prepare: func(c *process.Calc) (*process.JobSpec, error) {
			cmd, err := process.String(c.Input("command"))
			if err != nil {
				return nil, err
			}
			job := &process.JobSpec{Command: cmd, Files: map[string][]byte{}}
			if n := c.Input("files"); n != nil {
				v, _ := process.Value(n)
				files, _ := v.(ir.IRObject)
				for _, name := range files.SortedKeys() {
					content, ok := files[name].(ir.IRString)
					if !ok {
						return nil, ir.Errorf(ir.CodeValidation, "file %q must hold a string", name)
					}
					job.Files[name] = []byte(content)
				}
			}
			if n := c.Input("retrieve"); n != nil {
				v, _ := process.Value(n)
				list, _ := v.(ir.IRArray)
				for _, item := range list {
					name, ok := item.(ir.IRString)
					if !ok {
						return nil, ir.Errorf(ir.CodeValidation, "retrieve entries must be strings")
					}
					job.Retrieve = append(job.Retrieve, string(name))
				}
			}
			return job, nil
		},
		Parse: func(c *process.Calc, res *process.JobResult) error {
			if err := c.OutValue("exit_code", ir.IRInt(res.ExitCode)); err != nil {
				return err
			}
			if err := c.OutValue("stdout", ir.IRString(res.Stdout)); err != nil {
				return err
			}
			if len(res.Stderr) > 0 {
				if err := c.OutValue("stderr", ir.IRString(res.Stderr)); err != nil {
					return err
				}
			}
			if len(res.Files) > 0 {
				names := make([]string, 0, len(res.Files))
				for name := range res.Files {
					names = append(names, name)
				}
				sort.Strings(names)
				retrieved := make(ir.IRObject, len(names))
				for _, name := range names {
					retrieved[name] = ir.IRString(res.Files[name])
				}
				if err := c.OutValue("retrieved", retrieved); err != nil {
					return err
				}
			}
			if res.ExitCode != 0 {
				return c.Exit("ERROR_NONZERO_EXIT")
			}
			return nil
		},
	}
}
