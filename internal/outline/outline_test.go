package outline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
)

func TestFromSpec(t *testing.T) {
	spec := []ir.OutlineItem{
		{Kind: ir.OutlineStep, Name: "setup"},
		{Kind: ir.OutlineWhile, Cond: "more", Body: []ir.OutlineItem{
			{Kind: ir.OutlineIf,
				Branches: []ir.OutlineBranch{{Cond: "odd", Body: []ir.OutlineItem{{Kind: ir.OutlineStep, Name: "a"}}}},
				Else:     []ir.OutlineItem{{Kind: ir.OutlineReturn, Status: 301}},
			},
		}},
	}

	o, err := FromSpec(spec)
	require.NoError(t, err)
	want := New(
		Step("setup"),
		While("more", If("odd", Step("a")).Else(Return(301))),
	)
	assert.Equal(t, want, o)
	assert.Equal(t, spec, o.Spec())

	_, err = FromSpec([]ir.OutlineItem{{Kind: "goto"}})
	assert.True(t, ir.IsValidation(err))
	_, err = FromSpec([]ir.OutlineItem{{Kind: ir.OutlineIf}})
	assert.True(t, ir.IsValidation(err))
}

func TestNames(t *testing.T) {
	o := New(
		Step("b"),
		If("c1", Step("a")).ElseIf("c2", Step("b")),
		While("c0", Step("c")),
	)
	assert.Equal(t, []string{"a", "b", "c"}, o.StepNames())
	assert.Equal(t, []string{"c0", "c1", "c2"}, o.ConditionNames())
}

func TestValidate(t *testing.T) {
	o := New(Step("a"), While("w", Step("b")))

	assert.NoError(t, o.Validate([]string{"a", "b"}, []string{"w"}))
	assert.ErrorContains(t, o.Validate([]string{"a"}, []string{"w"}), `unknown step "b"`)
	assert.ErrorContains(t, o.Validate([]string{"a", "b"}, nil), `unknown condition "w"`)
	assert.ErrorContains(t, New().Validate(nil, nil), "must not be empty")
	assert.ErrorContains(t, New(While("w")).Validate(nil, []string{"w"}), "empty body")
}
