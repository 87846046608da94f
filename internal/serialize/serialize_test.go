package serialize

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMarshal_PlainValueHasNoMeta(t *testing.T) {
	text, err := Marshal(map[string]any{"name": "World"})
	require.NoError(t, err)
	require.JSONEq(t, `{"json":{"name":"World"}}`, text)
}

func TestMarshal_Annotations(t *testing.T) {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	text, err := Marshal(map[string]any{
		"created": when,
		"nested":  map[string]any{"big": big.NewInt(9007199254740993)},
		"list":    []any{1.5, math.Inf(1)},
		"a.b":     Undefined{},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{
		"json": {
			"created": "2024-05-01T12:00:00.000Z",
			"nested": {"big": "9007199254740993"},
			"list": [1.5, "Infinity"],
			"a.b": null
		},
		"meta": {"values": {
			"created": ["Date"],
			"nested.big": ["bigint"],
			"list.1": ["number"],
			"a\\.b": ["undefined"]
		}}
	}`, text)
}

func TestMarshal_RootAnnotation(t *testing.T) {
	text, err := Marshal(Set{"a", time.Unix(0, 0)})
	require.NoError(t, err)
	require.JSONEq(t, `{"json":["a","1970-01-01T00:00:00.000Z"],"meta":{"values":["set",{"1":["Date"]}]}}`, text)
}

func TestUnmarshal_RestoresAnnotatedValues(t *testing.T) {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := map[string]any{
		"created": when,
		"tags":    Set{"x", "y"},
		"index":   Map{{Key: 1.0, Value: when}},
		"count":   big.NewInt(42),
		"plain":   "text",
	}
	text, err := Marshal(in)
	require.NoError(t, err)

	out, err := Unmarshal(text)
	require.NoError(t, err)
	got := out.(map[string]any)

	require.True(t, when.Equal(got["created"].(time.Time)))
	require.Equal(t, Set{"x", "y"}, got["tags"])
	require.Equal(t, 0, big.NewInt(42).Cmp(got["count"].(*big.Int)))
	require.Equal(t, "text", got["plain"])

	index := got["index"].(Map)
	require.Len(t, index, 1)
	require.Equal(t, 1.0, index[0].Key)
	require.True(t, when.Equal(index[0].Value.(time.Time)))
}

func TestUnmarshal_ClientEnvelope(t *testing.T) {
	out, err := Unmarshal(`{"json":{"n":"NaN","d":"2020-01-01T00:00:00.000Z"},"meta":{"values":{"n":["number"],"d":["Date"]}}}`)
	require.NoError(t, err)
	got := out.(map[string]any)
	require.True(t, math.IsNaN(got["n"].(float64)))
	require.Equal(t, 2020, got["d"].(time.Time).Year())
}

func TestUnmarshal_WithoutMeta(t *testing.T) {
	out, err := Unmarshal(`{"json":{"n":1}}`)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"n": 1.0}, out)
}

func TestUnmarshal_Errors(t *testing.T) {
	for _, text := range []string{
		`not json`,
		`{"json":"x","meta":{"values":["regexp"]}}`,
		`{"json":{"a":1},"meta":{"values":{"a.b":["Date"]}}}`,
		`{"json":"nope","meta":{"values":["bigint"]}}`,
	} {
		_, err := Unmarshal(text)
		require.Error(t, err, "text=%s", text)
	}
}

func TestMarshal_StructsAreFlattened(t *testing.T) {
	type greeting struct {
		Message string `json:"message"`
	}
	text, err := Marshal(greeting{Message: "hi"})
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(text), &env))
	require.JSONEq(t, `{"message":"hi"}`, string(env["json"]))
}
