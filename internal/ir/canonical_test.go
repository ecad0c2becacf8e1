package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"b": "2", "a": "1", "c": []any{true, nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"1","b":"2","c":[true,null]}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical("<a href=\"x\">&</a>")
	require.NoError(t, err)
	assert.Equal(t, `"<a href=\"x\">&</a>"`, string(got))
}

func TestMarshalCanonical_LineSeparatorsStayLiteral(t *testing.T) {
	got, err := MarshalCanonical("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(got))
}

func TestMarshalCanonical_NFCNormalizes(t *testing.T) {
	got, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(got))
}

func TestMarshalCanonical_Numbers(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"big":   json.Number("9007199254740993"),
		"float": 1.5,
		"whole": 3.0,
		"int":   7,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"big":9007199254740993,"float":1.5,"int":7,"whole":3}`, string(got))
}

func TestMarshalCanonical_RejectsUnsupported(t *testing.T) {
	_, err := MarshalCanonical(struct{}{})
	assert.Error(t, err)
}

func TestMarshalCanonical_UTF16KeyOrder(t *testing.T) {
	// U+FF61 sorts before U+1F600 in UTF-8 but after it in UTF-16 code units.
	got, err := MarshalCanonical(map[string]any{"\U0001F600": "1", "\uFF61": "2"})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":\"1\",\"\uFF61\":\"2\"}", string(got))
}

func TestParseDocument_KeepsLargeIntegers(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"id": 9007199254740993, "nested": {"name": "x"}}`))
	require.NoError(t, err)

	assert.Equal(t, json.Number("9007199254740993"), doc["id"])
	nested, ok := doc.Object("nested")
	require.True(t, ok)
	assert.Equal(t, "x", nested["name"])
}

func TestParseDocument_RejectsNonObject(t *testing.T) {
	_, err := ParseDocument([]byte(`[1,2]`))
	assert.Error(t, err)

	_, err = ParseDocument([]byte(`null`))
	assert.Error(t, err)
}
