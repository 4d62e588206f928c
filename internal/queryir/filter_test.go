package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lineage/internal/ir"
)

func TestParseFilter_ScalarMeansEquality(t *testing.T) {
	p, err := ParseFilter(map[string]any{"label": "x"})
	require.NoError(t, err)
	assert.Equal(t, Compare{Field: "label", Op: OpEq, Value: ir.IRString("x")}, p)
}

func TestParseFilter_OperatorsAreAndedSorted(t *testing.T) {
	p, err := ParseFilter(map[string]any{"attributes.x": map[string]any{">": 1, "<": 5}})
	require.NoError(t, err)
	assert.Equal(t, And{Predicates: []Predicate{
		Compare{Field: "attributes.x", Op: OpLt, Value: ir.IRInt(5)},
		Compare{Field: "attributes.x", Op: OpGt, Value: ir.IRInt(1)},
	}}, p)
}

func TestParseFilter_OrAndNegation(t *testing.T) {
	p, err := ParseFilter(map[string]any{
		"or": []any{
			map[string]any{"attributes.value": map[string]any{"in": []any{1, 2}}},
			map[string]any{"~": map[string]any{"uuid": map[string]any{"like": "ab%"}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Or{Predicates: []Predicate{
		Compare{Field: "attributes.value", Op: OpIn, Value: ir.IRArray{ir.IRInt(1), ir.IRInt(2)}},
		Not{Predicate: Compare{Field: "uuid", Op: OpLike, Value: ir.IRString("ab%")}},
	}}, p)
}

func TestParseFilter_BangNegatesOperator(t *testing.T) {
	p, err := ParseFilter(map[string]any{"extras": map[string]any{"!has_key": "tag"}})
	require.NoError(t, err)
	assert.Equal(t, Not{Predicate: Compare{Field: "extras", Op: OpHasKey, Value: ir.IRString("tag")}}, p)
}

func TestParseFilter_Errors(t *testing.T) {
	tests := []struct {
		name string
		m    map[string]any
	}{
		{"unknown operator", map[string]any{"label": map[string]any{"~=": "x"}}},
		{"or not a list", map[string]any{"or": map[string]any{}}},
		{"or element not a map", map[string]any{"or": []any{"x"}}},
		{"negation not a map", map[string]any{"~": "x"}},
		{"empty operator map", map[string]any{"label": map[string]any{}}},
		{"unsupported value", map[string]any{"label": struct{}{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(tt.m)
			require.Error(t, err)
			assert.True(t, ir.IsValidation(err))
		})
	}
}

func TestParseField(t *testing.T) {
	f, err := ParseField(ir.EntityNode, "attributes.a.b")
	require.NoError(t, err)
	assert.Equal(t, Field{Column: "attributes", Path: []string{"a", "b"}}, f)
	assert.True(t, f.IsJSON())
	assert.Equal(t, "attributes.a.b", f.String())

	f, err = ParseField(ir.EntityNode, "node_type")
	require.NoError(t, err)
	assert.False(t, f.IsJSON())

	_, err = ParseField(ir.EntityUser, "attributes")
	assert.Error(t, err, "users have no attributes")

	_, err = ParseField(ir.EntityNode, `extras.a"b`)
	assert.Error(t, err)
}
