// Package jsonval implements a small typed JSON value tree with
// path-qualified errors, used in place of a flat offset-addressed token
// stream: every node knows how it was reached from the document root, so
// a validation failure anywhere can describe exactly where it occurred.
package jsonval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Kind identifies the dynamic type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a single node of a parsed JSON document together with the
// path that reaches it from the document root.
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	Str    string
	Array  []*Value
	// Object holds the members in no particular order (input key order
	// is not preserved); lookups are linear, which is fine for request
	// objects with a handful of keys.
	Object []KV
	Path   Path
}

// KV is one key/value pair of a JSON object.
type KV struct {
	Key   string
	Value *Value
}

// Path is a sequence of object keys and array indices locating a Value
// within its document, root-first.
type Path []interface{}

// String renders a path the way a JSON accessor would: `key[3].other`,
// or "$" for the root.
func (p Path) String() string {
	var b strings.Builder
	for _, seg := range p {
		switch s := seg.(type) {
		case string:
			if b.Len() == 0 {
				b.WriteString(s)
			} else {
				b.WriteByte('.')
				b.WriteString(s)
			}
		case int:
			fmt.Fprintf(&b, "[%d]", s)
		}
	}
	if b.Len() == 0 {
		return "$"
	}
	return b.String()
}

func (p Path) child(seg interface{}) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = seg
	return out
}

// Error reports a JSON-path-qualified problem with a value.
type Error struct {
	Path    Path
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func newError(path Path, format string, args ...interface{}) *Error {
	return &Error{Path: path, Message: fmt.Sprintf(format, args...)}
}

// Parse decodes a single JSON document from buf into a Value tree,
// rejecting any trailing bytes after the document.
func Parse(buf []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, newError(nil, "invalid JSON: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, newError(nil, "trailing data after JSON value")
	}
	return build(raw, nil), nil
}

func build(raw interface{}, path Path) *Value {
	switch v := raw.(type) {
	case nil:
		return &Value{Kind: KindNull, Path: path}
	case bool:
		return &Value{Kind: KindBool, Bool: v, Path: path}
	case json.Number:
		f, _ := v.Float64()
		return &Value{Kind: KindNumber, Number: f, Path: path}
	case string:
		return &Value{Kind: KindString, Str: v, Path: path}
	case []interface{}:
		arr := make([]*Value, len(v))
		for i, e := range v {
			arr[i] = build(e, path.child(i))
		}
		return &Value{Kind: KindArray, Array: arr, Path: path}
	case map[string]interface{}:
		// encoding/json does not preserve object key order; walk the
		// raw document again would be needed for exact order fidelity.
		// Request objects are small and unordered fields are harmless
		// here because every consumer looks keys up by name.
		obj := make([]KV, 0, len(v))
		for k, e := range v {
			obj = append(obj, KV{Key: k, Value: build(e, path.child(k))})
		}
		return &Value{Kind: KindObject, Object: obj, Path: path}
	default:
		return &Value{Kind: KindNull, Path: path}
	}
}

// Get returns the member named key, or nil if absent.
func (v *Value) Get(key string) *Value {
	if v == nil || v.Kind != KindObject {
		return nil
	}
	for _, kv := range v.Object {
		if kv.Key == key {
			return kv.Value
		}
	}
	return nil
}

// AsObject asserts v is a JSON object.
func (v *Value) AsObject() ([]KV, error) {
	if v.Kind != KindObject {
		return nil, newError(v.Path, "expected object")
	}
	return v.Object, nil
}

// AsArray asserts v is a JSON array.
func (v *Value) AsArray() ([]*Value, error) {
	if v.Kind != KindArray {
		return nil, newError(v.Path, "expected array")
	}
	return v.Array, nil
}

// AsString asserts v is a JSON string.
func (v *Value) AsString() (string, error) {
	if v.Kind != KindString {
		return "", newError(v.Path, "expected string")
	}
	return v.Str, nil
}

// AsBool asserts v is a JSON bool.
func (v *Value) AsBool() (bool, error) {
	if v.Kind != KindBool {
		return false, newError(v.Path, "expected bool")
	}
	return v.Bool, nil
}

// AsUDouble asserts v is a non-negative JSON number.
func (v *Value) AsUDouble() (float64, error) {
	if v.Kind != KindNumber {
		return 0, newError(v.Path, "expected number")
	}
	if v.Number < 0 {
		return 0, newError(v.Path, "value must not be negative")
	}
	return v.Number, nil
}

// AsStringArray asserts v is an array of strings and returns its
// contents.
func (v *Value) AsStringArray() ([]string, error) {
	arr, err := v.AsArray()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		s, err := e.AsString()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// Unknown reports an error for a member the caller's schema did not
// recognize.
func Unknown(v *Value) error {
	return newError(v.Path, "unknown key")
}

// FormatUDoubleAsUint64 clamps an already-validated non-negative double
// to max, for callers that need a saturating rather than erroring
// ceiling (used by request.go's byte-limit fields).
func FormatUDoubleAsUint64(v float64, max uint64) uint64 {
	if v >= float64(max) {
		return max
	}
	return uint64(v)
}
