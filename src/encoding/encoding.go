// Package encoding defines the byte layout of every key the graph writes to
// the key-value store: vertex and edge identifiers, attribute values, index
// entries and metadata records. Decoding a well-formed key never fails and
// never allocates more than the returned slices.
package encoding

// Prefix is the first byte of every key and selects the keyspace partition.
type Prefix byte

const (
	PrefixEntityType    Prefix = 0x10
	PrefixRelationType  Prefix = 0x11
	PrefixRoleType      Prefix = 0x12
	PrefixAttributeType Prefix = 0x13

	PrefixEntity    Prefix = 0x30
	PrefixRelation  Prefix = 0x31
	PrefixRole      Prefix = 0x32
	PrefixAttribute Prefix = 0x33

	PrefixIndexType Prefix = 0x50
	PrefixIndexRule Prefix = 0x51

	PrefixStatistics Prefix = 0x60
	PrefixSystem     Prefix = 0x70
)

// Bytes returns the prefix as a one-byte slice.
func (p Prefix) Bytes() []byte { return []byte{byte(p)} }

// IsType reports whether the prefix addresses a type vertex.
func (p Prefix) IsType() bool {
	return p >= PrefixEntityType && p <= PrefixAttributeType
}

// IsThing reports whether the prefix addresses a thing vertex.
func (p Prefix) IsThing() bool {
	return p >= PrefixEntity && p <= PrefixAttribute
}

// Infix is the edge-kind byte placed between the source and target IIDs of
// an edge key. Outward and inward copies of the same edge use paired values:
// the inward infix is the outward value with the high bit set, so direction
// decodes from a single byte.
type Infix byte

const infixInwardBit = 0x80

const (
	InfixSub     Infix = 0x01
	InfixOwns    Infix = 0x02
	InfixOwnsKey Infix = 0x03
	InfixPlays   Infix = 0x04
	InfixRelates Infix = 0x05

	InfixIsa Infix = 0x10

	InfixHas        Infix = 0x20
	InfixPlaying    Infix = 0x21
	InfixRelating   Infix = 0x22
	InfixRolePlayer Infix = 0x23
)

// Bytes returns the infix as a one-byte slice.
func (i Infix) Bytes() []byte { return []byte{byte(i)} }

// In returns the inward-direction variant of the infix.
func (i Infix) In() Infix { return i | infixInwardBit }

// Out returns the outward-direction variant of the infix.
func (i Infix) Out() Infix { return i &^ infixInwardBit }

// IsOutwards reports whether the infix is the outward copy of its edge.
func (i Infix) IsOutwards() bool { return i&infixInwardBit == 0 }

// Kind strips the direction bit.
func (i Infix) Kind() Infix { return i &^ infixInwardBit }

// IsTypeEdge reports whether the infix connects two type vertices.
func (i Infix) IsTypeEdge() bool {
	k := i.Kind()
	return k >= InfixSub && k <= InfixRelates
}

// IsThingEdge reports whether the infix connects two thing vertices.
func (i Infix) IsThingEdge() bool {
	k := i.Kind()
	return k >= InfixHas && k <= InfixRolePlayer
}

// ValueKind tags the value partition of an attribute type and the value
// bytes of an attribute vertex.
type ValueKind byte

const (
	ValueBool     ValueKind = 0x01
	ValueLong     ValueKind = 0x02
	ValueDouble   ValueKind = 0x03
	ValueString   ValueKind = 0x04
	ValueDateTime ValueKind = 0x05
)

// Bytes returns the value-kind tag as a one-byte slice.
func (v ValueKind) Bytes() []byte { return []byte{byte(v)} }

func (v ValueKind) String() string {
	switch v {
	case ValueBool:
		return "bool"
	case ValueLong:
		return "long"
	case ValueDouble:
		return "double"
	case ValueString:
		return "string"
	case ValueDateTime:
		return "datetime"
	}
	return "unknown"
}

// Comparable reports whether two value kinds order against each other.
// Longs and doubles share a numeric order; every other kind only compares
// to itself.
func (v ValueKind) Comparable(other ValueKind) bool {
	if v == other {
		return true
	}
	numeric := func(k ValueKind) bool { return k == ValueLong || k == ValueDouble }
	return numeric(v) && numeric(other)
}

// ThingPrefixForType maps a type-vertex prefix to the prefix its instances
// carry.
func ThingPrefixForType(p Prefix) Prefix {
	switch p {
	case PrefixEntityType:
		return PrefixEntity
	case PrefixRelationType:
		return PrefixRelation
	case PrefixRoleType:
		return PrefixRole
	case PrefixAttributeType:
		return PrefixAttribute
	}
	return 0
}
