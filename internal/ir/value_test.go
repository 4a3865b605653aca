package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"mask":     "1010",
		"amount":   int64(3),
		"wrap":     true,
		"segments": []any{1, 2.0},
	})
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, String("1010"), obj["mask"])
	assert.Equal(t, Int(3), obj["amount"])
	assert.Equal(t, Bool(true), obj["wrap"])
	assert.Equal(t, List{Int(1), Int(2)}, obj["segments"])
}

func TestFromAny_RejectsFractionAndNull(t *testing.T) {
	_, err := FromAny(0.25)
	assert.Error(t, err)

	_, err = FromAny(nil)
	assert.Error(t, err)

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestObjectAccessors(t *testing.T) {
	obj := Object{"n": Int(7), "s": String("x"), "b": Bool(true)}

	n, ok := obj.Int("n")
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)

	_, ok = obj.Int("s")
	assert.False(t, ok)

	s, ok := obj.String("s")
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	b, ok := obj.Bool("b")
	assert.True(t, ok)
	assert.True(t, b)
}

func TestObjectJSONRoundTrip(t *testing.T) {
	obj := Object{"b": List{Int(1), String("two")}, "a": Bool(false)}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":false,"b":[1,"two"]}`, string(data))

	var decoded Object
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, obj, decoded)
}

func TestObjectUnmarshalRejectsFloat(t *testing.T) {
	var obj Object
	err := json.Unmarshal([]byte(`{"a":1.5}`), &obj)
	assert.Error(t, err)
}

func TestSortedKeysUTF16(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...) which sorts before
	// U+FF21 (0xFF21) in UTF-16 but after it in UTF-8.
	obj := Object{"\uFF21": Int(1), "\U0001F600": Int(2), "a": Int(3)}
	assert.Equal(t, []string{"a", "\U0001F600", "\uFF21"}, obj.SortedKeys())
}

func TestToMap(t *testing.T) {
	obj := Object{"n": Int(1), "l": List{Bool(true)}}
	assert.Equal(t, map[string]any{"n": int64(1), "l": []any{true}}, obj.ToMap())
}
