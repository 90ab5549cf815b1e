package ir

import (
	"encoding/json"
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
		{"max int64", IRInt(9223372036854775807), "9223372036854775807"},
		{"min int64", IRInt(-9223372036854775808), "-9223372036854775808"},
		{"bool", IRBool(true), "true"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
		{"plain go map", map[string]any{"b": 1, "a": "x"}, `{"a":"x","b":1}`},
		{"plain go slice", []any{int64(1), "two", false}, `[1,"two",false]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNestedSortedKeys(t *testing.T) {
	obj := IRObject{
		"z": IRObject{"b": IRInt(1), "a": IRInt(2)},
		"a": IRInt(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as the surrogate pair D800 DC00, which sorts before
	// U+E000 in UTF-16 but after it in UTF-8.
	obj := IRObject{
		"\uE000":     IRInt(1),
		"\U00010000": IRInt(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"quote and backslash", `a"b\c`, `"a\"b\\c"`},
		{"short escapes", "\b\f\n\r\t", `"\b\f\n\r\t"`},
		{"other control", "\x01\x1f", `"\u0001\u001f"`},
		{"html is literal", "<a>&</a>", `"<a>&</a>"`},
		{"line separator is literal", "x\u2028y\u2029", "\"x\u2028y\u2029\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(IRString(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to the precomposed é.
	decomposed, err := MarshalCanonical(IRString("cafe\u0301"))
	require.NoError(t, err)
	precomposed, err := MarshalCanonical(IRString("caf\u00e9"))
	require.NoError(t, err)
	assert.Equal(t, precomposed, decomposed)
}

func TestMarshalCanonicalRejects(t *testing.T) {
	_, err := MarshalCanonical(3.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	_, err = MarshalCanonical(nil)
	require.Error(t, err)

	_, err = MarshalCanonical(IRObject{"nested": IRArray{nil}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `value for key "nested"`)

	_, err = MarshalCanonical(IRString("bad\xffbyte"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid UTF-8")

	_, err = MarshalCanonicalVerbatim(IRObject{"k\xfe": IRString("v")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid UTF-8")
}

func TestMarshalCanonicalVerbatimKeepsForm(t *testing.T) {
	out, err := MarshalCanonicalVerbatim(IRObject{"b": IRString("cafe\u0301"), "a": IRInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1,\"b\":\"cafe\u0301\"}", string(out))

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "cafe\u0301", back["b"])
}

func TestMarshalCanonicalDeterministicAcrossMapIteration(t *testing.T) {
	build := func() IRObject {
		obj := IRObject{}
		for _, k := range []string{"delta", "alpha", "charlie", "bravo", "echo"} {
			obj[k] = IRString(k)
		}
		return obj
	}

	first, err := MarshalCanonical(build())
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := MarshalCanonical(build())
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}
