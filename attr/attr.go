// Package attr implements the declarative netlink attribute-list schema:
// a named, ordered table of (field name, payload codec) pairs that can pack
// and unpack itself as a sequence of 4-byte-aligned TLV entries.
//
// A Schema is an immutable descriptor, built once at package-init time by
// family packages such as ipvs and taskstats. An Instance is the thing that
// actually carries decoded or to-be-packed values; it is always tied to the
// Schema that produced it.
package attr

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/m-lab/gnl/scalar"
)

// Field is one (name, codec) pair supplied to NewSchema. Its 1-based key is
// its position in the field list.
type Field struct {
	Name  string
	Codec scalar.Codec
}

// F is a convenience constructor for Field.
func F(name string, codec scalar.Codec) Field {
	return Field{Name: name, Codec: codec}
}

type field struct {
	name  string
	codec scalar.Codec
}

// Schema is an immutable, ordered attribute-list descriptor. *Schema
// implements scalar.Codec, so a Schema can be used as the payload codec of
// a field in another schema (nested TLV) or of itself (a recursive field,
// see NewSchema).
type Schema struct {
	name      string
	fields    []field
	nameToKey map[string]int
}

// NewSchema builds a Schema named name from the fields returned by build.
// build is invoked with the not-yet-populated *Schema being constructed, so
// a field may reference the schema itself to declare a recursive structure
// (e.g. taskstats' AGGR_PID nesting) — the field list simply includes the
// self pointer as a codec; by the time Pack/Unpack are ever called on it,
// construction has long since finished.
func NewSchema(name string, build func(self *Schema) []Field) *Schema {
	s := &Schema{name: name, nameToKey: map[string]int{}}
	for i, f := range build(s) {
		if f.Name == "" {
			panic(fmt.Sprintf("attr: %s: field %d has an empty name", name, i+1))
		}
		key := i + 1
		upper := strings.ToUpper(f.Name)
		if _, dup := s.nameToKey[upper]; dup {
			panic(fmt.Sprintf("attr: %s: duplicate field name %q", name, f.Name))
		}
		s.fields = append(s.fields, field{name: f.Name, codec: f.Codec})
		s.nameToKey[upper] = key
	}
	return s
}

// Name returns the schema's declared name.
func (s *Schema) Name() string { return s.name }

// New builds an Instance of this schema, setting the given named fields.
// A nil value is equivalent to omitting the field. Unknown field names
// panic: they are a schema mis-use, not a runtime condition callers are
// expected to handle.
func (s *Schema) New(fields map[string]any) *Instance {
	inst := &Instance{schema: s, values: map[int]any{}}
	for name, v := range fields {
		inst.Set(name, v)
	}
	return inst
}

// Instance maps field keys to decoded or pending-to-pack values for one
// Schema. The zero value is not useful; construct via Schema.New or by
// unpacking wire bytes.
type Instance struct {
	schema *Schema
	values map[int]any
}

// Schema returns the schema this instance belongs to.
func (inst *Instance) Schema() *Schema { return inst.schema }

func (s *Schema) keyOf(key any) (int, error) {
	switch k := key.(type) {
	case int:
		if k < 1 || k > len(s.fields) {
			return 0, fmt.Errorf("attr: %s has no attribute key %d", s.name, k)
		}
		return k, nil
	case string:
		ik, ok := s.nameToKey[strings.ToUpper(k)]
		if !ok {
			return 0, fmt.Errorf("attr: %s has no attribute named %q", s.name, k)
		}
		return ik, nil
	default:
		return 0, fmt.Errorf("attr: attribute key must be int or string, got %T", key)
	}
}

// Set stores value under the named or numbered field. A nil value unsets
// the field (it will be omitted on pack). Referencing an unknown field
// panics (schema mis-use).
func (inst *Instance) Set(key any, value any) {
	k, err := inst.schema.keyOf(key)
	if err != nil {
		panic(err)
	}
	if value == nil {
		delete(inst.values, k)
		return
	}
	inst.values[k] = value
}

// Get returns the value stored under key (numeric or name). If the field
// was never set, Get returns def[0] if given, and otherwise panics — callers
// that expect a field might be legitimately absent should always pass a
// default, mirroring gnlpy's AttrListType.get(key, default). Looking up a
// name or key the schema doesn't declare at all always panics, default or
// not: that is a schema mis-use, not an absent-value condition.
func (inst *Instance) Get(key any, def ...any) any {
	k, err := inst.schema.keyOf(key)
	if err != nil {
		panic(err)
	}
	if v, ok := inst.values[k]; ok {
		return v
	}
	if len(def) > 0 {
		return def[0]
	}
	panic(fmt.Errorf("attr: %s.%v: no such attribute set", inst.schema.name, key))
}

// Has reports whether key was set on inst, without panicking.
func (inst *Instance) Has(key any) bool {
	k, err := inst.schema.keyOf(key)
	if err != nil {
		return false
	}
	_, ok := inst.values[k]
	return ok
}

// Pack implements scalar.Codec so a *Schema can be used as a nested or
// self-referential attribute-list payload codec.
func (s *Schema) Pack(v any) ([]byte, error) {
	inst, ok := v.(*Instance)
	if !ok {
		return nil, fmt.Errorf("attr: %s.Pack: %T is not *attr.Instance", s.name, v)
	}
	if inst.schema != s {
		return nil, fmt.Errorf("attr: %s.Pack: instance belongs to schema %s", s.name, inst.schema.name)
	}
	keys := make([]int, 0, len(inst.values))
	for k := range inst.values {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var out []byte
	for _, k := range keys {
		f := s.fields[k-1]
		payload, err := f.codec.Pack(inst.values[k])
		if err != nil {
			return nil, fmt.Errorf("attr: packing %s.%s: %w", s.name, f.name, err)
		}
		if len(payload) > 0xFFFB {
			return nil, fmt.Errorf("attr: %s.%s payload too large to address (%d bytes)", s.name, f.name, len(payload))
		}
		hdr := make([]byte, 4)
		// Bit 15 of the length (the nested-attribute flag) is never set, not even for a nested schema.
		binary.NativeEndian.PutUint16(hdr[0:2], uint16(len(payload)+4))
		binary.NativeEndian.PutUint16(hdr[2:4], uint16(k))
		out = append(out, hdr...)
		out = append(out, payload...)
		if pad := (4 - (len(payload) % 4)) % 4; pad > 0 {
			out = append(out, make([]byte, pad)...)
		}
	}
	return out, nil
}

// Unpack implements scalar.Codec, decoding a byte slice into an *Instance.
func (s *Schema) Unpack(b []byte) (any, error) {
	inst := &Instance{schema: s, values: map[int]any{}}
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, fmt.Errorf("attr: %s: truncated attribute header (%d bytes left)", s.name, len(b))
		}
		totalLen := binary.NativeEndian.Uint16(b[0:2]) & 0x7FFF // drop the nested-attribute flag (bit 15)
		key := binary.NativeEndian.Uint16(b[2:4])
		if totalLen < 4 {
			return nil, fmt.Errorf("attr: %s: attribute length %d below header size", s.name, totalLen)
		}
		if int(totalLen) > len(b) {
			return nil, fmt.Errorf("attr: %s: attribute length %d exceeds remaining %d bytes", s.name, totalLen, len(b))
		}
		if int(key) < 1 || int(key) > len(s.fields) {
			return nil, fmt.Errorf("attr: %s: unknown attribute type %d", s.name, key)
		}
		f := s.fields[key-1]
		payload := b[4:totalLen]
		val, err := f.codec.Unpack(payload)
		if err != nil {
			return nil, fmt.Errorf("attr: unpacking %s.%s: %w", s.name, f.name, err)
		}
		inst.values[int(key)] = val
		advance := (int(totalLen) + 3) &^ 3
		if advance > len(b) {
			return nil, fmt.Errorf("attr: %s: padded attribute length %d exceeds remaining %d bytes", s.name, advance, len(b))
		}
		b = b[advance:]
	}
	return inst, nil
}
