package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"sort"
)

// WriteCanonicalJSON writes a canonical JSON representation of v into b.
// Object keys are sorted recursively so the output is stable across map
// iteration order; arrays preserve order. Structs are first flattened
// through encoding/json so their json tags decide field names.
func WriteCanonicalJSON(b *bytes.Buffer, v any) {
	switch t := v.(type) {
	case map[string]any:
		writeCanonicalMap(b, t)
	case []any:
		writeCanonicalSlice(b, t)
	case json.RawMessage:
		writeNormalizedRaw(b, t)
	case string, float64, bool, nil,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32:
		writeMarshaled(b, t)
	default:
		rv := reflect.ValueOf(v)
		if !rv.IsValid() {
			b.WriteString("null")
			return
		}
		switch {
		case rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String:
			writeReflectedMap(b, rv)
		case rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array:
			writeReflectedSlice(b, rv)
		default:
			// Structs and pointers round-trip through encoding/json into a
			// generic value so nested maps get sorted too.
			writeNormalized(b, v)
		}
	}
}

func writeMarshaled(b *bytes.Buffer, v any) {
	bs, err := json.Marshal(v)
	if err != nil {
		b.WriteString("null")
		return
	}
	b.Write(bs)
}

func writeNormalized(b *bytes.Buffer, v any) {
	bs, err := json.Marshal(v)
	if err != nil {
		b.WriteString("null")
		return
	}
	writeNormalizedRaw(b, bs)
}

func writeNormalizedRaw(b *bytes.Buffer, raw []byte) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		b.Write(raw)
		return
	}
	WriteCanonicalJSON(b, generic)
}

func writeCanonicalMap(b *bytes.Buffer, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeMarshaled(b, k)
		b.WriteByte(':')
		WriteCanonicalJSON(b, m[k])
	}
	b.WriteByte('}')
}

func writeCanonicalSlice(b *bytes.Buffer, s []any) {
	b.WriteByte('[')
	for i, e := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		WriteCanonicalJSON(b, e)
	}
	b.WriteByte(']')
}

func writeReflectedMap(b *bytes.Buffer, rv reflect.Value) {
	keys := rv.MapKeys()
	sk := make([]string, 0, len(keys))
	for i := range keys {
		sk = append(sk, keys[i].String())
	}
	sort.Strings(sk)
	b.WriteByte('{')
	for i, k := range sk {
		if i > 0 {
			b.WriteByte(',')
		}
		writeMarshaled(b, k)
		b.WriteByte(':')
		WriteCanonicalJSON(b, rv.MapIndex(reflect.ValueOf(k)).Interface())
	}
	b.WriteByte('}')
}

func writeReflectedSlice(b *bytes.Buffer, rv reflect.Value) {
	b.WriteByte('[')
	n := rv.Len()
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		WriteCanonicalJSON(b, rv.Index(i).Interface())
	}
	b.WriteByte(']')
}

// CanonicalJSON returns the canonical JSON bytes for v.
func CanonicalJSON(v any) []byte {
	var b bytes.Buffer
	WriteCanonicalJSON(&b, v)
	return b.Bytes()
}

// ContentHash returns the SHA-256 hex digest of the canonical JSON form of
// v. It fingerprints workflow specs for version tracking: two specs hash
// equal iff their canonical forms are byte-identical.
func ContentHash(v any) string {
	sum := sha256.Sum256(CanonicalJSON(v))
	return hex.EncodeToString(sum[:])
}
