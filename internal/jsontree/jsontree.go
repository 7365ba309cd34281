// Package jsontree is an ordered JSON document model with get/set by path.
// Object keys keep their document order so rewriting a user's config file
// only changes the parts that were touched.
package jsontree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return "null"
}

// ErrNotObject is returned when a path walks through a non-object node.
var ErrNotObject = errors.New("jsontree: not an object")

type Node struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	arr  []*Node
	obj  *orderedmap.OrderedMap[string, *Node]
}

func NewNull() *Node { return &Node{kind: Null} }

func NewBool(v bool) *Node { return &Node{kind: Bool, b: v} }

func NewString(v string) *Node { return &Node{kind: String, str: v} }

func NewNumber(v json.Number) *Node { return &Node{kind: Number, num: v} }

func NewObject() *Node {
	return &Node{kind: Object, obj: orderedmap.New[string, *Node]()}
}

func NewArray(items ...*Node) *Node {
	return &Node{kind: Array, arr: items}
}

// StringArray builds an array of string nodes.
func StringArray(items []string) *Node {
	n := NewArray()
	for _, s := range items {
		n.arr = append(n.arr, NewString(s))
	}
	return n
}

func (n *Node) Kind() Kind {
	if n == nil {
		return Null
	}
	return n.kind
}

func (n *Node) IsObject() bool { return n.Kind() == Object }

func (n *Node) Str() string {
	if n.Kind() != String {
		return ""
	}
	return n.str
}

func (n *Node) BoolValue() bool {
	return n.Kind() == Bool && n.b
}

func (n *Node) NumberValue() json.Number {
	if n.Kind() != Number {
		return ""
	}
	return n.num
}

// Len is the number of object members or array items.
func (n *Node) Len() int {
	switch n.Kind() {
	case Object:
		return n.obj.Len()
	case Array:
		return len(n.arr)
	}
	return 0
}

// Keys returns object keys in document order.
func (n *Node) Keys() []string {
	if n.Kind() != Object {
		return nil
	}
	keys := make([]string, 0, n.obj.Len())
	for p := n.obj.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

func (n *Node) Items() []*Node {
	if n.Kind() != Array {
		return nil
	}
	return n.arr
}

func (n *Node) Field(key string) (*Node, bool) {
	if n.Kind() != Object {
		return nil, false
	}
	return n.obj.Get(key)
}

// SetField inserts or replaces a member. A replaced member keeps its position.
func (n *Node) SetField(key string, v *Node) error {
	if n.Kind() != Object {
		return ErrNotObject
	}
	if v == nil {
		v = NewNull()
	}
	n.obj.Set(key, v)
	return nil
}

func (n *Node) DeleteField(key string) bool {
	if n.Kind() != Object {
		return false
	}
	_, ok := n.obj.Delete(key)
	return ok
}

func (n *Node) Append(v *Node) {
	if n.kind == Array {
		n.arr = append(n.arr, v)
	}
}

// SplitPath splits a dotted key path, dropping empty segments.
func SplitPath(path string) []string {
	var keys []string
	for _, k := range strings.Split(path, ".") {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Get resolves a dotted path.
func (n *Node) Get(path string) (*Node, bool) {
	return n.Lookup(SplitPath(path)...)
}

func (n *Node) Lookup(keys ...string) (*Node, bool) {
	cur := n
	for _, k := range keys {
		next, ok := cur.Field(k)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, cur != nil
}

// Set writes v at a dotted path, creating intermediate objects.
func (n *Node) Set(path string, v *Node) error {
	return n.SetAt(SplitPath(path), v)
}

// SetAt writes v under keys, creating intermediate objects as needed. A null
// intermediate member is replaced by an object; any other non-object member
// yields ErrNotObject.
func (n *Node) SetAt(keys []string, v *Node) error {
	if len(keys) == 0 {
		return fmt.Errorf("jsontree: empty path")
	}
	parent, err := n.ensure(keys[:len(keys)-1])
	if err != nil {
		return err
	}
	return parent.SetField(keys[len(keys)-1], v)
}

// Ensure returns the object at keys, creating it and its parents.
func (n *Node) Ensure(path string) (*Node, error) {
	return n.ensure(SplitPath(path))
}

func (n *Node) ensure(keys []string) (*Node, error) {
	if n.Kind() != Object {
		return nil, ErrNotObject
	}
	cur := n
	for i, k := range keys {
		next, ok := cur.obj.Get(k)
		if !ok || next == nil || next.kind == Null {
			next = NewObject()
			cur.obj.Set(k, next)
		}
		if next.kind != Object {
			return nil, fmt.Errorf("%w: %s", ErrNotObject, strings.Join(keys[:i+1], "."))
		}
		cur = next
	}
	return cur, nil
}

// Delete removes the member at a dotted path.
func (n *Node) Delete(path string) bool {
	keys := SplitPath(path)
	if len(keys) == 0 {
		return false
	}
	return n.DeleteAt(keys)
}

func (n *Node) DeleteAt(keys []string) bool {
	parent, ok := n.Lookup(keys[:len(keys)-1]...)
	if !ok {
		return false
	}
	return parent.DeleteField(keys[len(keys)-1])
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{kind: n.kind, b: n.b, num: n.num, str: n.str}
	switch n.kind {
	case Array:
		c.arr = make([]*Node, len(n.arr))
		for i, it := range n.arr {
			c.arr[i] = it.Clone()
		}
	case Object:
		c.obj = orderedmap.New[string, *Node]()
		for p := n.obj.Oldest(); p != nil; p = p.Next() {
			c.obj.Set(p.Key, p.Value.Clone())
		}
	}
	return c
}

// Parse decodes a JSON document preserving object key order.
func Parse(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("jsontree: trailing data after document")
	}
	return n, nil
}

func decodeValue(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("jsontree: unexpected key token %v", kt)
				}
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.obj.Set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := NewArray()
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr.arr = append(arr.arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("jsontree: unexpected delimiter %v", t)
	case bool:
		return NewBool(t), nil
	case json.Number:
		return NewNumber(t), nil
	case string:
		return NewString(t), nil
	case nil:
		return NewNull(), nil
	}
	return nil, fmt.Errorf("jsontree: unexpected token %v", tok)
}

func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) encode(buf *bytes.Buffer) error {
	switch n.Kind() {
	case Null:
		buf.WriteString("null")
	case Bool:
		if n.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Number:
		if n.num == "" {
			buf.WriteString("0")
		} else {
			buf.WriteString(n.num.String())
		}
	case String:
		b, err := json.Marshal(n.str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case Array:
		buf.WriteByte('[')
		for i, it := range n.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := it.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		i := 0
		for p := n.obj.Oldest(); p != nil; p = p.Next() {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(p.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := p.Value.encode(buf); err != nil {
				return err
			}
			i++
		}
		buf.WriteByte('}')
	}
	return nil
}

func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

// Indent renders the document with two-space indentation and a trailing newline.
func (n *Node) Indent() ([]byte, error) {
	raw, err := n.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// FromValue converts plain Go values into a tree. Maps are emitted with
// sorted keys; use an ordered source when order matters.
func FromValue(v any) (*Node, error) {
	switch t := v.(type) {
	case nil:
		return NewNull(), nil
	case *Node:
		return t.Clone(), nil
	case bool:
		return NewBool(t), nil
	case string:
		return NewString(t), nil
	case json.Number:
		return NewNumber(t), nil
	case int:
		return NewNumber(json.Number(fmt.Sprint(t))), nil
	case int64:
		return NewNumber(json.Number(fmt.Sprint(t))), nil
	case float64:
		b, _ := json.Marshal(t)
		return NewNumber(json.Number(b)), nil
	case []string:
		return StringArray(t), nil
	case []any:
		arr := NewArray()
		for _, it := range t {
			c, err := FromValue(it)
			if err != nil {
				return nil, err
			}
			arr.arr = append(arr.arr, c)
		}
		return arr, nil
	case []map[string]any:
		arr := NewArray()
		for _, it := range t {
			c, err := FromValue(it)
			if err != nil {
				return nil, err
			}
			arr.arr = append(arr.arr, c)
		}
		return arr, nil
	case map[string]string:
		obj := NewObject()
		for _, k := range sortedKeys(t) {
			obj.obj.Set(k, NewString(t[k]))
		}
		return obj, nil
	case map[string]any:
		obj := NewObject()
		for _, k := range sortedKeys(t) {
			c, err := FromValue(t[k])
			if err != nil {
				return nil, err
			}
			obj.obj.Set(k, c)
		}
		return obj, nil
	}
	// Structs and other values go through encoding/json.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Value converts the tree back into plain Go values.
func (n *Node) Value() any {
	switch n.Kind() {
	case Bool:
		return n.b
	case Number:
		if i, err := n.num.Int64(); err == nil {
			return i
		}
		f, _ := n.num.Float64()
		return f
	case String:
		return n.str
	case Array:
		out := make([]any, len(n.arr))
		for i, it := range n.arr {
			out[i] = it.Value()
		}
		return out
	case Object:
		out := make(map[string]any, n.obj.Len())
		for p := n.obj.Oldest(); p != nil; p = p.Next() {
			out[p.Key] = p.Value.Value()
		}
		return out
	}
	return nil
}

// Decode unmarshals the tree into v via its JSON form.
func (n *Node) Decode(v any) error {
	data, err := n.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
