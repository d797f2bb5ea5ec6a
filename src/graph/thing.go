package graph

import (
	"toposdb/src/encoding"
)

// Thing is a handle on an instance vertex.
type Thing struct {
	iid encoding.ThingIID
	typ *TypeVertex
}

func (t *Thing) IID() encoding.ThingIID { return t.iid }
func (t *Thing) Type() *TypeVertex      { return t.typ }

func (t *Thing) IsEntity() bool    { return t.iid.Prefix() == encoding.PrefixEntity }
func (t *Thing) IsRelation() bool  { return t.iid.Prefix() == encoding.PrefixRelation }
func (t *Thing) IsRole() bool      { return t.iid.Prefix() == encoding.PrefixRole }
func (t *Thing) IsAttribute() bool { return t.iid.Prefix() == encoding.PrefixAttribute }

// Value decodes the typed value of an attribute vertex.
func (t *Thing) Value() encoding.Value {
	if !t.IsAttribute() {
		return encoding.Value{}
	}
	return encoding.DecodeValue(t.iid.ValueKind(), t.iid.ValueBytes())
}

func (t *Thing) IsThing() bool       { return true }
func (t *Thing) IsType() bool        { return false }
func (t *Thing) AsThing() *Thing     { return t }
func (t *Thing) AsType() *TypeVertex { return nil }

func (t *Thing) String() string {
	if t.IsAttribute() {
		return t.typ.Label().Scoped() + "(" + t.Value().String() + ")"
	}
	return t.typ.Label().Scoped() + "(" + t.iid.String() + ")"
}
