package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueNumber
	ValueString
	ValueList
	ValueMap
)

// Value is a JSON-like semantic value: null, bool, number, string,
// ordered list or ordered keyed map. Map keys keep insertion order so a
// value round-trips byte-for-byte through compact JSON.
type Value struct {
	kind ValueKind
	b    bool
	n    float64
	raw  string // number literal as read, keeps 1591800276004.8 intact
	s    string
	list []Value
	keys []string
	vals map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: ValueBool, b: b} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: ValueNumber, n: f} }

// Int returns a numeric value holding an integer.
func Int(i int64) Value { return Value{kind: ValueNumber, n: float64(i), raw: strconv.FormatInt(i, 10)} }

// String returns a string value.
func String(s string) Value { return Value{kind: ValueString, s: s} }

// List returns a list value.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: ValueList, list: items}
}

// NewMap returns an empty map value.
func NewMap() Value { return Value{kind: ValueMap, vals: map[string]Value{}} }

// Kind reports the variant.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == ValueNull }

// AsBool returns the boolean and whether v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == ValueBool }

// AsNumber returns the number and whether v is a number.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == ValueNumber }

// AsString returns the string and whether v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == ValueString }

// Items returns the elements of a list value.
func (v Value) Items() []Value { return v.list }

// Keys returns the keys of a map value in insertion order.
func (v Value) Keys() []string { return v.keys }

// Get returns the member key of a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != ValueMap {
		return Value{}, false
	}
	m, ok := v.vals[key]
	return m, ok
}

// Set adds or replaces a member of a map value, keeping first-insert order.
func (v *Value) Set(key string, m Value) {
	if v.kind != ValueMap {
		*v = NewMap()
	}
	if _, ok := v.vals[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.vals[key] = m
}

// Len returns the number of list items or map members.
func (v Value) Len() int {
	switch v.kind {
	case ValueList:
		return len(v.list)
	case ValueMap:
		return len(v.keys)
	}
	return 0
}

// Interface converts v into plain Go values (map[string]any, []any,
// float64, string, bool, nil).
func (v Value) Interface() any {
	switch v.kind {
	case ValueBool:
		return v.b
	case ValueNumber:
		return v.n
	case ValueString:
		return v.s
	case ValueList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case ValueMap:
		out := make(map[string]any, len(v.keys))
		for _, k := range v.keys {
			out[k] = v.vals[k].Interface()
		}
		return out
	}
	return nil
}

// ValueOf converts plain Go values into a Value. Maps are converted with
// sorted keys since Go maps carry no order.
func ValueOf(x any) (Value, error) {
	data, err := json.Marshal(x)
	if err != nil {
		return Value{}, err
	}
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	a, _ := json.Marshal(v)
	b, _ := json.Marshal(o)
	return bytes.Equal(a, b)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case ValueNull:
		buf.WriteString("null")
	case ValueBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case ValueNumber:
		if v.raw != "" {
			buf.WriteString(v.raw)
			return nil
		}
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return fmt.Errorf("unsupported number %v", v.n)
		}
		buf.WriteString(strconv.FormatFloat(v.n, 'f', -1, 64))
	case ValueString:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case ValueList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case ValueMap:
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.vals[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := decodeValue(dec)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected trailing data in JSON value")
	}
	*v = parsed
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Value{kind: ValueNumber, n: f, raw: t.String()}, nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return List(items...), nil
		case '{':
			m := NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key is not a string")
				}
				member, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				m.Set(key, member)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return m, nil
		}
	}
	return Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}

// Properties is the ordered, typed property bag of an Entry.
type Properties struct {
	m Value
}

// NewProperties returns an empty property bag.
func NewProperties() Properties { return Properties{m: NewMap()} }

// SortedProperties builds a bag from m with keys in lexical order.
func SortedProperties(m map[string]Value) Properties {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	p := NewProperties()
	for _, k := range keys {
		p.Set(k, m[k])
	}
	return p
}

// Set records key. Later calls for the same key replace the value in place.
func (p *Properties) Set(key string, v Value) {
	if p.m.kind != ValueMap {
		p.m = NewMap()
	}
	p.m.Set(key, v)
}

// Get returns a property.
func (p Properties) Get(key string) (Value, bool) { return p.m.Get(key) }

// Keys returns property names in insertion order.
func (p Properties) Keys() []string { return p.m.Keys() }

// Len returns the number of properties.
func (p Properties) Len() int { return p.m.Len() }

// String returns a string property or "".
func (p Properties) String(key string) string {
	v, _ := p.m.Get(key)
	s, _ := v.AsString()
	return s
}

// Number returns a numeric property.
func (p Properties) Number(key string) (float64, bool) {
	v, ok := p.m.Get(key)
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}

// MarshalJSON implements json.Marshaler. Empty bags encode as {}.
func (p Properties) MarshalJSON() ([]byte, error) {
	if p.m.kind != ValueMap {
		return []byte("{}"), nil
	}
	return p.m.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Properties) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	switch v.kind {
	case ValueNull:
		*p = NewProperties()
	case ValueMap:
		p.m = v
	default:
		return fmt.Errorf("properties must be an object")
	}
	return nil
}
