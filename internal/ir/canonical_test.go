package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", IRString("hello"), `"hello"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(42), "42"},
		{"negative int", IRInt(-100), "-100"},
		{"zero", IRInt(0), "0"},
		{"max int64", IRInt(9223372036854775807), "9223372036854775807"},
		{"min int64", IRInt(-9223372036854775808), "-9223372036854775808"},
		{"bool true", IRBool(true), "true"},
		{"bool false", IRBool(false), "false"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
		{"array of ints", IRArray{IRInt(1), IRInt(2), IRInt(3)}, "[1,2,3]"},
		{"simple object", IRObject{"a": IRInt(1)}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := IRObject{
		"zebra": IRInt(1),
		"alpha": IRInt(2),
		"beta":  IRInt(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+E000 vs U+10000 - UTF-16 order differs from UTF-8
	// This is THE critical test for RFC 8785 compliance
	obj := IRObject{
		"\uE000": IRInt(1), // UTF-16: 0xE000
		"𐀀":      IRInt(2), // UTF-16: 0xD800, 0xDC00 (surrogate pair)
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)

	// UTF-16 order: 0xD800 < 0xE000, so 𐀀 comes first
	// The key with U+10000 (𐀀) should appear before U+E000 ()
	expected := `{"𐀀":2,"` + "\uE000" + `":1}`
	assert.Equal(t, expected, string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	tests := []struct {
		name     string
		input    IRValue
		expected string
	}{
		{
			name:     "less than",
			input:    IRString("<script>"),
			expected: `"<script>"`,
		},
		{
			name:     "greater than",
			input:    IRString("</script>"),
			expected: `"</script>"`,
		},
		{
			name:     "ampersand",
			input:    IRString("a & b"),
			expected: `"a & b"`,
		},
		{
			name:     "all html chars",
			input:    IRString("<script>alert('xss')</script>"),
			expected: `"<script>alert('xss')</script>"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))

			// Verify NO HTML escaping sequences present
			assert.NotContains(t, string(result), "\\u003c") // <
			assert.NotContains(t, string(result), "\\u003e") // >
			assert.NotContains(t, string(result), "\\u0026") // &
		})
	}
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	// "é" can be represented as:
	// - U+00E9 (precomposed, NFC form)
	// - U+0065 U+0301 (e + combining acute accent, NFD form)
	// NFC normalizes both to U+00E9
	composed := "caf\u00E9"      // café with precomposed é
	decomposed := "cafe\u0301"   // café with e + combining accent

	result1, err := MarshalCanonical(IRString(composed))
	require.NoError(t, err)

	result2, err := MarshalCanonical(IRString(decomposed))
	require.NoError(t, err)

	// Both should produce identical canonical output
	assert.Equal(t, result1, result2, "NFC normalization should make these equal")
}

func TestMarshalCanonicalCompactOutput(t *testing.T) {
	obj := IRObject{
		"array": IRArray{IRInt(1), IRInt(2)},
		"bool":  IRBool(true),
		"int":   IRInt(42),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)

	// No whitespace
	assert.NotContains(t, string(result), " ")
	assert.NotContains(t, string(result), "\n")
	assert.NotContains(t, string(result), "\t")
}

func TestMarshalCanonicalWithGoTypes(t *testing.T) {
	// Test that raw Go types also work
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"int64", int64(42), "42"},
		{"int", 42, "42"},
		{"bool", true, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalStringEscaping(t *testing.T) {
	// Standard JSON escapes should still work
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(IRString(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalU2028U2029NotEscaped(t *testing.T) {
	// RFC 8785: U+2028 (LINE SEPARATOR) and U+2029 (PARAGRAPH SEPARATOR) should NOT be escaped.
	// Only control characters (U+0000-U+001F), backslash, and quote should be escaped.
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "U+2028 LINE SEPARATOR",
			input:    "hello\u2028world",
			expected: "\"hello\u2028world\"",
		},
		{
			name:     "U+2029 PARAGRAPH SEPARATOR",
			input:    "hello\u2029world",
			expected: "\"hello\u2029world\"",
		},
		{
			name:     "both U+2028 and U+2029",
			input:    "a\u2028b\u2029c",
			expected: "\"a\u2028b\u2029c\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(IRString(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))

			// CRITICAL: Must NOT contain escaped forms
			assert.NotContains(t, string(result), `\u2028`, "U+2028 should not be escaped per RFC 8785")
			assert.NotContains(t, string(result), `\u2029`, "U+2029 should not be escaped per RFC 8785")
		})
	}
}

// FuzzMarshalCanonicalIdempotent tests the idempotency property via fuzzing
func FuzzMarshalCanonicalIdempotent(f *testing.F) {
	// Seed with various JSON patterns
	f.Add(`{"a":1,"b":"test"}`)
	f.Add(`[1,2,3]`)
	f.Add(`"hello"`)
	f.Add(`42`)
	f.Add(`true`)
	f.Add(`{"nested":{"deep":{"value":123}}}`)

	f.Fuzz(func(t *testing.T, jsonStr string) {
		// Parse as IRValue (skip if invalid)
		val, err := UnmarshalIRValue([]byte(jsonStr))
		if err != nil {
			t.Skip()
		}

		// Marshal canonically
		canonical1, err := MarshalCanonical(val)
		if err != nil {
			t.Skip()
		}

		// Unmarshal and marshal again
		val2, err := UnmarshalIRValue(canonical1)
		require.NoError(t, err)

		canonical2, err := MarshalCanonical(val2)
		require.NoError(t, err)

		// Must be identical (idempotency)
		assert.Equal(t, canonical1, canonical2, "canonical marshaling must be idempotent")
	})
}

func TestMarshalCanonicalFloats(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected string
	}{
		{"zero", 0, "0"},
		{"integral", 3, "3"},
		{"fraction", 0.5, "0.5"},
		{"negative", -2.25, "-2.25"},
		{"shortest round trip", 0.1 + 0.2, "0.30000000000000004"},
		{"large integral", 1e20, "100000000000000000000"},
		{"exponent threshold", 1e21, "1e+21"},
		{"small", 0.000001, "0.000001"},
		{"small exponent", 1e-7, "1e-7"},
		{"mantissa with exponent", 1.5e-10, "1.5e-10"},
		{"large with mantissa", 1.2345e25, "1.2345e+25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(IRFloat(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalRejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(IRFloat(math.Inf(-1)))
	require.Error(t, err)
	_, err = MarshalCanonical(IRObject{"x": IRFloat(math.NaN())})
	require.Error(t, err)
}

func TestMarshalCanonicalNull(t *testing.T) {
	result, err := MarshalCanonical(IRObject{"exit_message": IRNull{}})
	require.NoError(t, err)
	assert.Equal(t, `{"exit_message":null}`, string(result))
}
