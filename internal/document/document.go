// Package document implements the opaque JSON-like payload tree carried by
// every wire message (spec §1, §9 "Dynamic typed document"). The data model
// itself is explicitly out of scope for the core protocol ("treat as an
// opaque tagged tree... only the payload shapes of §6 matter") — this
// package supplies just enough of it, modeled as a tagged sum type with
// dotted-path access, the way the teacher's message/types.go represents its
// own closed set of wire value kinds before handing them to a serializer.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt64
	KindDouble
	KindBool
	KindArray
	KindDocument
)

// Value is a tagged union over {string, int64, double, bool, array,
// sub-document}, mirroring the payload model described in spec §1/§9.
type Value struct {
	kind Kind
	str  string
	i64  int64
	f64  float64
	b    bool
	arr  []Value
	doc  *Document
}

// Null is the empty/absent value.
var Null = Value{kind: KindNull}

func String(v string) Value    { return Value{kind: KindString, str: v} }
func Int64(v int64) Value      { return Value{kind: KindInt64, i64: v} }
func Double(v float64) Value   { return Value{kind: KindDouble, f64: v} }
func Bool(v bool) Value        { return Value{kind: KindBool, b: v} }
func Array(v ...Value) Value   { return Value{kind: KindArray, arr: v} }
func Sub(d *Document) Value    { return Value{kind: KindDocument, doc: d} }

func (v Value) Kind() Kind { return v.kind }

// AsString returns the string payload and whether v holds a string.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsInt64 returns the integer payload and whether v holds an int64.
func (v Value) AsInt64() (int64, bool) {
	if v.kind != KindInt64 {
		return 0, false
	}
	return v.i64, true
}

// AsDouble returns the float payload and whether v holds a double.
func (v Value) AsDouble() (float64, bool) {
	if v.kind != KindDouble {
		return 0, false
	}
	return v.f64, true
}

// AsBool returns the boolean payload and whether v holds a bool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsArray returns the array payload and whether v holds an array.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// AsDocument returns the sub-document payload and whether v holds one.
func (v Value) AsDocument() (*Document, bool) {
	if v.kind != KindDocument {
		return nil, false
	}
	return v.doc, true
}

// Document is a {string -> Value} map with dotted-path lookup.
type Document struct {
	fields map[string]Value
}

// New creates an empty document.
func New() *Document {
	return &Document{fields: make(map[string]Value)}
}

// Set assigns a top-level field.
func (d *Document) Set(key string, v Value) *Document {
	d.fields[key] = v
	return d
}

// Get performs a direct (non-dotted) top-level lookup.
func (d *Document) Get(key string) (Value, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// GetPath resolves a dotted path ("a.b.c") as a fold over nested
// sub-documents, per the design note in spec §9.
func (d *Document) GetPath(path string) (Value, bool) {
	parts := strings.Split(path, ".")
	cur := d
	for i, part := range parts {
		v, ok := cur.fields[part]
		if !ok {
			return Null, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		sub, ok := v.AsDocument()
		if !ok {
			return Null, false
		}
		cur = sub
	}
	return Null, false
}

// Keys returns the document's field names, sorted (canonical order).
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.fields))
	for k := range d.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON emits a canonical object with keys in sorted order, per
// spec §1's "canonical sorted-key JSON serialization".
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(d.fields[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalValue(v Value) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindInt64:
		return []byte(strconv.FormatInt(v.i64, 10)), nil
	case KindDouble:
		return json.Marshal(v.f64)
	case KindBool:
		return json.Marshal(v.b)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := marshalValue(e)
			if err != nil {
				return nil, err
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindDocument:
		return v.doc.MarshalJSON()
	default:
		return nil, fmt.Errorf("document: unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON decodes an arbitrary JSON object into a Document. Readers
// must not assume key ordering (spec §6), so this simply walks whatever
// order encoding/json's decoder produces.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	d.fields = make(map[string]Value, len(raw))
	for k, rv := range raw {
		v, err := fromInterface(rv)
		if err != nil {
			return err
		}
		d.fields[k] = v
	}
	return nil
}

func fromInterface(rv interface{}) (Value, error) {
	switch x := rv.(type) {
	case nil:
		return Null, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int64(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Null, err
		}
		return Double(f), nil
	case []interface{}:
		vals := make([]Value, 0, len(x))
		for _, e := range x {
			v, err := fromInterface(e)
			if err != nil {
				return Null, err
			}
			vals = append(vals, v)
		}
		return Array(vals...), nil
	case map[string]interface{}:
		sub := New()
		for k, e := range x {
			v, err := fromInterface(e)
			if err != nil {
				return Null, err
			}
			sub.fields[k] = v
		}
		return Sub(sub), nil
	default:
		return Null, fmt.Errorf("document: unsupported JSON value %T", rv)
	}
}

// Empty returns true if the document is nil or has no fields, as in the {}
// payloads of one-way and no-argument reserved message kinds.
func (d *Document) Empty() bool {
	return d == nil || len(d.fields) == 0
}
