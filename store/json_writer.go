package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// jsonObjectWriter builds a JSON object whose members keep the order they
// were written in. The zero value is an empty object.
type jsonObjectWriter struct {
	members [][]byte // encoded "key":value pairs or embedded member lists
	err     error
}

func (w *jsonObjectWriter) add(member []byte) *jsonObjectWriter {
	if len(member) > 0 {
		w.members = append(w.members, member)
	}
	return w
}

// Embed adds the members of an encoded JSON object.
func (w *jsonObjectWriter) Embed(object []byte) *jsonObjectWriter {
	if w.err != nil {
		return w
	}
	object = bytes.TrimSpace(object)
	if len(object) < 2 || object[0] != '{' || object[len(object)-1] != '}' {
		w.err = fmt.Errorf("cannot embed %q: not a JSON object", object)
		return w
	}
	return w.add(bytes.TrimSpace(object[1 : len(object)-1]))
}

// EmbedFrom adds the members of v, which must encode to a JSON object.
func (w *jsonObjectWriter) EmbedFrom(v any) *jsonObjectWriter {
	if w.err != nil {
		return w
	}
	object, err := json.Marshal(v)
	if err != nil {
		w.err = fmt.Errorf("cannot embed %T: %w", v, err)
		return w
	}
	return w.Embed(object)
}

// Append adds the member key with value encoded by json.Marshal.
func (w *jsonObjectWriter) Append(key string, value any) *jsonObjectWriter {
	if w.err != nil {
		return w
	}
	k, _ := json.Marshal(key)
	v, err := json.Marshal(value)
	if err != nil {
		w.err = fmt.Errorf("cannot encode %q: %w", key, err)
		return w
	}
	return w.add(append(append(k, ':'), v...))
}

// Optional is Append, skipped when value is the zero value of its type.
func (w *jsonObjectWriter) Optional(key string, value any) *jsonObjectWriter {
	if v := reflect.ValueOf(value); !v.IsValid() || v.IsZero() {
		return w
	}
	return w.Append(key, value)
}

// MarshalJSON returns the object, or the first error met while building it.
func (w *jsonObjectWriter) MarshalJSON() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	var b bytes.Buffer
	b.WriteByte('{')
	b.Write(bytes.Join(w.members, []byte{','}))
	b.WriteByte('}')
	return b.Bytes(), nil
}
