package encoding

import (
	"encoding/binary"
	"fmt"
	"time"

	"toposdb/src/helpers"
)

// Fixed IID segment lengths.
const (
	PrefixLength    = 1
	InfixLength     = 1
	TypeKeyLength   = 2
	ThingKeyLength  = 8
	TypeIIDLength   = PrefixLength + TypeKeyLength
	ThingIIDLength  = PrefixLength + TypeIIDLength + ThingKeyLength
	ValueKindLength = 1
)

// TypeIID identifies a type vertex: prefix(1) + key(2).
type TypeIID []byte

// NewTypeIID builds a type IID from its partition prefix and key.
func NewTypeIID(prefix Prefix, key uint16) TypeIID {
	buf := make([]byte, TypeIIDLength)
	buf[0] = byte(prefix)
	binary.BigEndian.PutUint16(buf[1:], key)
	return buf
}

func (t TypeIID) Prefix() Prefix { return Prefix(t[0]) }
func (t TypeIID) Key() uint16    { return binary.BigEndian.Uint16(t[1:]) }
func (t TypeIID) Bytes() []byte  { return t }
func (t TypeIID) String() string { return fmt.Sprintf("type<%#x:%d>", t[0], t.Key()) }

// ThingIID identifies an instance vertex. Entities, relations and roles use
// the fixed layout prefix(1) + typeIID(3) + key(8); attributes are
// content-addressed with a variable-length value suffix instead of the key.
type ThingIID []byte

// NewThingIID builds a fixed-layout thing IID.
func NewThingIID(prefix Prefix, typeIID TypeIID, key uint64) ThingIID {
	buf := make([]byte, ThingIIDLength)
	buf[0] = byte(prefix)
	copy(buf[1:], typeIID)
	binary.BigEndian.PutUint64(buf[1+TypeIIDLength:], key)
	return buf
}

func (t ThingIID) Prefix() Prefix { return Prefix(t[0]) }

// Type extracts the embedded type IID.
func (t ThingIID) Type() TypeIID {
	return TypeIID(helpers.CopyBytes(t[PrefixLength : PrefixLength+TypeIIDLength]))
}

// IsAttribute reports whether the IID is content-addressed.
func (t ThingIID) IsAttribute() bool { return t.Prefix() == PrefixAttribute }

// ValueKind returns the value-kind tag of an attribute IID.
func (t ThingIID) ValueKind() ValueKind {
	return ValueKind(t[PrefixLength+TypeIIDLength])
}

// ValueBytes returns the encoded value of an attribute IID.
func (t ThingIID) ValueBytes() []byte {
	return t[PrefixLength+TypeIIDLength+ValueKindLength:]
}

func (t ThingIID) Bytes() []byte  { return t }
func (t ThingIID) String() string { return fmt.Sprintf("thing<%#x:%x>", t[0], []byte(t[1:])) }

// ThingIIDPrefix returns the key prefix shared by every instance of a type,
// used to range-scan a type's instances.
func ThingIIDPrefix(thingPrefix Prefix, typeIID TypeIID) []byte {
	return helpers.JoinBytes(thingPrefix.Bytes(), typeIID.Bytes())
}

// Attribute IID constructors. Attribute vertices are addressed by their
// typed value: attr-prefix(1) + typeIID(3) + value-kind(1) + value-bytes.

func NewBoolAttributeIID(typeIID TypeIID, value bool) ThingIID {
	return attributeIID(typeIID, ValueBool, EncodeBool(value))
}

func NewLongAttributeIID(typeIID TypeIID, value int64) ThingIID {
	return attributeIID(typeIID, ValueLong, EncodeLong(value))
}

func NewDoubleAttributeIID(typeIID TypeIID, value float64) ThingIID {
	return attributeIID(typeIID, ValueDouble, EncodeDouble(value))
}

func NewStringAttributeIID(typeIID TypeIID, value string) (ThingIID, error) {
	encoded, err := EncodeString(value)
	if err != nil {
		return nil, err
	}
	return attributeIID(typeIID, ValueString, encoded), nil
}

func NewDateTimeAttributeIID(typeIID TypeIID, value time.Time) ThingIID {
	return attributeIID(typeIID, ValueDateTime, EncodeDateTime(value))
}

func attributeIID(typeIID TypeIID, kind ValueKind, valueBytes []byte) ThingIID {
	return ThingIID(helpers.JoinBytes(
		PrefixAttribute.Bytes(), typeIID.Bytes(), kind.Bytes(), valueBytes,
	))
}

// TypeEdgeIID is an edge key between two type vertices:
// sourceTypeIID + infix(1) + targetTypeIID.
type TypeEdgeIID []byte

func NewTypeEdgeIID(source TypeIID, infix Infix, target TypeIID) TypeEdgeIID {
	return TypeEdgeIID(helpers.JoinBytes(source.Bytes(), infix.Bytes(), target.Bytes()))
}

func (e TypeEdgeIID) Source() TypeIID {
	return TypeIID(helpers.CopyBytes(e[:TypeIIDLength]))
}

func (e TypeEdgeIID) Infix() Infix { return Infix(e[TypeIIDLength]) }

func (e TypeEdgeIID) Target() TypeIID {
	return TypeIID(helpers.CopyBytes(e[TypeIIDLength+InfixLength:]))
}

func (e TypeEdgeIID) IsOutwards() bool { return e.Infix().IsOutwards() }

// ThingEdgeIID is an edge key between two thing vertices:
// sourceIID + infix(1) + targetIID, with the role-type IID appended for
// role-player edges. Both directions decode totally; the source is always
// the vertex the key is stored under.
type ThingEdgeIID []byte

func NewThingEdgeIID(source ThingIID, infix Infix, target ThingIID) ThingEdgeIID {
	return ThingEdgeIID(helpers.JoinBytes(source.Bytes(), infix.Bytes(), target.Bytes()))
}

// NewRolePlayerEdgeIID builds an optimised relation-to-player edge carrying
// the role type after the player IID.
func NewRolePlayerEdgeIID(source ThingIID, infix Infix, target ThingIID, roleType TypeIID) ThingEdgeIID {
	return ThingEdgeIID(helpers.JoinBytes(source.Bytes(), infix.Bytes(), target.Bytes(), roleType.Bytes()))
}

func (e ThingEdgeIID) sourceLength() int {
	return thingIIDLengthAt(e, 0)
}

// Source decodes the vertex the edge is stored under.
func (e ThingEdgeIID) Source() ThingIID {
	return ThingIID(helpers.CopyBytes(e[:e.sourceLength()]))
}

// Infix decodes the edge kind and direction byte.
func (e ThingEdgeIID) Infix() Infix { return Infix(e[e.sourceLength()]) }

// Target decodes the vertex on the far side of the edge.
func (e ThingEdgeIID) Target() ThingIID {
	start := e.sourceLength() + InfixLength
	return ThingIID(helpers.CopyBytes(e[start : start+thingIIDLengthAt(e, start)]))
}

// RoleType decodes the trailing role-type IID of a role-player edge.
func (e ThingEdgeIID) RoleType() TypeIID {
	return TypeIID(helpers.CopyBytes(e[len(e)-TypeIIDLength:]))
}

func (e ThingEdgeIID) IsOutwards() bool { return e.Infix().IsOutwards() }

func (e ThingEdgeIID) Bytes() []byte { return e }

// thingIIDLengthAt computes the length of the thing IID starting at offset.
// Fixed-layout vertices occupy ThingIIDLength bytes; attribute IIDs extend
// to a value whose length is recoverable from the value-kind tag.
func thingIIDLengthAt(buf []byte, offset int) int {
	if Prefix(buf[offset]) != PrefixAttribute {
		return ThingIIDLength
	}
	kindAt := offset + PrefixLength + TypeIIDLength
	valueAt := kindAt + ValueKindLength
	switch ValueKind(buf[kindAt]) {
	case ValueBool:
		return valueAt - offset + 1
	case ValueLong, ValueDouble, ValueDateTime:
		return valueAt - offset + 8
	case ValueString:
		return valueAt - offset + 1 + int(buf[valueAt])
	}
	return len(buf) - offset
}

// ThingEdgePrefix returns the scan prefix for all edges of one kind and
// direction stored under a vertex.
func ThingEdgePrefix(source ThingIID, infix Infix) []byte {
	return helpers.JoinBytes(source.Bytes(), infix.Bytes())
}

// TypeEdgePrefix returns the scan prefix for all edges of one kind and
// direction stored under a type vertex.
func TypeEdgePrefix(source TypeIID, infix Infix) []byte {
	return helpers.JoinBytes(source.Bytes(), infix.Bytes())
}

// TypeIndexKey addresses the label index entry resolving a scoped label to
// a type IID.
func TypeIndexKey(label, scope string) []byte {
	scoped := label
	if scope != "" {
		scoped = scope + ":" + label
	}
	return helpers.JoinBytes(PrefixIndexType.Bytes(), []byte(scoped))
}

// RuleIndexKey addresses the persisted definition of a rule.
func RuleIndexKey(label string) []byte {
	return helpers.JoinBytes(PrefixIndexRule.Bytes(), []byte(label))
}
