package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCore_CanonicalJSON(t *testing.T) {
	t.Run("Should sort object keys recursively", func(t *testing.T) {
		v := map[string]any{
			"b": 1,
			"a": map[string]any{"z": true, "y": "x"},
		}
		assert.Equal(t, `{"a":{"y":"x","z":true},"b":1}`, string(CanonicalJSON(v)))
	})

	t.Run("Should preserve array order", func(t *testing.T) {
		v := map[string]any{"items": []any{"c", "a", "b"}}
		assert.Equal(t, `{"items":["c","a","b"]}`, string(CanonicalJSON(v)))
	})

	t.Run("Should normalize structs through their json tags", func(t *testing.T) {
		type spec struct {
			Name string            `json:"name"`
			Tags map[string]string `json:"tags"`
		}
		a := CanonicalJSON(spec{Name: "wf", Tags: map[string]string{"b": "2", "a": "1"}})
		assert.Equal(t, `{"name":"wf","tags":{"a":"1","b":"2"}}`, string(a))
	})

	t.Run("Should render nil as null", func(t *testing.T) {
		assert.Equal(t, "null", string(CanonicalJSON(nil)))
	})
}

func TestCore_ContentHash(t *testing.T) {
	t.Run("Should be order-independent across map keys", func(t *testing.T) {
		a := ContentHash(map[string]any{"x": 1, "y": []any{"a", "b"}})
		b := ContentHash(map[string]any{"y": []any{"a", "b"}, "x": 1})
		assert.Equal(t, a, b)
	})

	t.Run("Should change when a single field flips", func(t *testing.T) {
		a := ContentHash(map[string]any{"enabled": true})
		b := ContentHash(map[string]any{"enabled": false})
		assert.NotEqual(t, a, b)
	})

	t.Run("Should be a 64-char hex digest", func(t *testing.T) {
		h := ContentHash(map[string]any{})
		require.Len(t, h, 64)
	})
}

func TestCore_ID(t *testing.T) {
	t.Run("Should generate unique parseable ids", func(t *testing.T) {
		a := NewID()
		b := NewID()
		require.NotEqual(t, a, b)
		parsed, err := ParseID(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	})

	t.Run("Should reject non-uuid input", func(t *testing.T) {
		_, err := ParseID("not-a-uuid")
		require.Error(t, err)
	})
}
