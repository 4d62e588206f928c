package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeHashDeterminism(t *testing.T) {
	in := NodeHashInput{
		Subtype:    "data.core.int",
		Attributes: IRObject{"value": IRInt(3)},
	}

	h1, err := NodeHash(in)
	require.NoError(t, err)
	h2, err := NodeHash(in)
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "NodeHash must be deterministic")
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestNodeHashChangesWithContent(t *testing.T) {
	base := NodeHashInput{Subtype: "data.core.int", Attributes: IRObject{"value": IRInt(3)}}

	tests := []struct {
		name string
		in   NodeHashInput
	}{
		{"subtype", NodeHashInput{Subtype: "data.core.float", Attributes: base.Attributes}},
		{"attribute", NodeHashInput{Subtype: base.Subtype, Attributes: IRObject{"value": IRInt(4)}}},
		{"int vs float", NodeHashInput{Subtype: base.Subtype, Attributes: IRObject{"value": IRFloat(3.5)}}},
		{"files", NodeHashInput{Subtype: base.Subtype, Attributes: base.Attributes, Files: map[string]string{"a.txt": "k"}}},
		{"inputs", NodeHashInput{Subtype: base.Subtype, Attributes: base.Attributes, Inputs: map[string]string{"x": "h"}}},
	}

	baseHash := MustNodeHash(base)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, baseHash, MustNodeHash(tt.in))
		})
	}
}

func TestNodeHashIgnoresMapOrder(t *testing.T) {
	a := NodeHashInput{
		Subtype: "process.calculation.calcfunction",
		Inputs:  map[string]string{"x": "1", "y": "2"},
	}
	b := NodeHashInput{
		Subtype: "process.calculation.calcfunction",
		Inputs:  map[string]string{"y": "2", "x": "1"},
	}
	assert.Equal(t, MustNodeHash(a), MustNodeHash(b))
}

func TestNodeHashNilAttributesEqualsEmpty(t *testing.T) {
	assert.Equal(t,
		MustNodeHash(NodeHashInput{Subtype: "data.core.dict"}),
		MustNodeHash(NodeHashInput{Subtype: "data.core.dict", Attributes: IRObject{}}))
}

func TestNodeHashRejectsNonCanonical(t *testing.T) {
	_, err := NodeHash(NodeHashInput{Subtype: "data.core.float", Attributes: IRObject{"value": IRFloat(nan())}})
	require.Error(t, err)
	assert.Panics(t, func() {
		MustNodeHash(NodeHashInput{Subtype: "data.core.float", Attributes: IRObject{"value": IRFloat(nan())}})
	})
}

func TestDomainSeparation(t *testing.T) {
	data := []byte("payload")
	assert.NotEqual(t, hashWithDomain(DomainObject, data), hashWithDomain(DomainCheckpoint, data))
	assert.Equal(t, ObjectKey(data), hashWithDomain(DomainObject, data))
	assert.Equal(t, CheckpointDigest(data), hashWithDomain(DomainCheckpoint, data))
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}
