package graph

import (
	"toposdb/src/encoding"
)

// TypeVertex is a vertex of the schema DAG. Fields are maintained by the
// SchemaGraph under its lock; handles are safe to read after retrieval.
type TypeVertex struct {
	iid       encoding.TypeIID
	label     Label
	abstract  bool
	root      bool
	valueKind encoding.ValueKind // attribute types only

	parent   *TypeVertex
	children []*TypeVertex

	owns     map[*TypeVertex]bool // attribute type -> declared as key
	plays    []*TypeVertex        // role types playable by instances
	relates  []*TypeVertex        // role types, relation types only
	relation *TypeVertex          // owning relation, role types only
}

func (t *TypeVertex) IID() encoding.TypeIID { return t.iid }
func (t *TypeVertex) Label() Label          { return t.label }
func (t *TypeVertex) IsAbstract() bool      { return t.abstract }
func (t *TypeVertex) IsRoot() bool          { return t.root }
func (t *TypeVertex) Parent() *TypeVertex   { return t.parent }

// ValueKind returns the value partition of an attribute type.
func (t *TypeVertex) ValueKind() encoding.ValueKind { return t.valueKind }

func (t *TypeVertex) IsEntityType() bool {
	return t.iid.Prefix() == encoding.PrefixEntityType
}

func (t *TypeVertex) IsRelationType() bool {
	return t.iid.Prefix() == encoding.PrefixRelationType
}

func (t *TypeVertex) IsRoleType() bool {
	return t.iid.Prefix() == encoding.PrefixRoleType
}

func (t *TypeVertex) IsAttributeType() bool {
	return t.iid.Prefix() == encoding.PrefixAttributeType
}

// Relation returns the owning relation type of a role type.
func (t *TypeVertex) Relation() *TypeVertex { return t.relation }

// Children returns the direct subtypes.
func (t *TypeVertex) Children() []*TypeVertex { return t.children }

// Subtypes returns the type and every transitive subtype.
func (t *TypeVertex) Subtypes() []*TypeVertex {
	out := []*TypeVertex{t}
	for _, c := range t.children {
		out = append(out, c.Subtypes()...)
	}
	return out
}

// SubtypeDepth returns the height of the subtree rooted at the type.
func (t *TypeVertex) SubtypeDepth() int64 {
	depth := int64(1)
	for _, c := range t.children {
		if d := c.SubtypeDepth() + 1; d > depth {
			depth = d
		}
	}
	return depth
}

// IsSubtypeOf reports whether the type equals ancestor or descends from it.
func (t *TypeVertex) IsSubtypeOf(ancestor *TypeVertex) bool {
	for cur := t; cur != nil; cur = cur.parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// Owns returns the attribute types ownable by instances, including
// inherited ownerships.
func (t *TypeVertex) Owns() []*TypeVertex {
	seen := map[*TypeVertex]bool{}
	var out []*TypeVertex
	for cur := t; cur != nil; cur = cur.parent {
		for attr := range cur.owns {
			if !seen[attr] {
				seen[attr] = true
				out = append(out, attr)
			}
		}
	}
	return out
}

// OwnsKey reports whether attr is owned as a key by the type or an ancestor.
func (t *TypeVertex) OwnsKey(attr *TypeVertex) bool {
	for cur := t; cur != nil; cur = cur.parent {
		if isKey, ok := cur.owns[attr]; ok {
			return isKey
		}
	}
	return false
}

// OwnsDirect returns the attribute types declared on this type only,
// filtered by keyness when keyOnly is set.
func (t *TypeVertex) OwnsDirect(keyOnly bool) []*TypeVertex {
	var out []*TypeVertex
	for attr, isKey := range t.owns {
		if !keyOnly || isKey {
			out = append(out, attr)
		}
	}
	return out
}

// Plays returns the role types playable by instances, including inherited.
func (t *TypeVertex) Plays() []*TypeVertex {
	seen := map[*TypeVertex]bool{}
	var out []*TypeVertex
	for cur := t; cur != nil; cur = cur.parent {
		for _, role := range cur.plays {
			if !seen[role] {
				seen[role] = true
				out = append(out, role)
			}
		}
	}
	return out
}

// Relates returns the role types of a relation type, including inherited.
func (t *TypeVertex) Relates() []*TypeVertex {
	seen := map[*TypeVertex]bool{}
	var out []*TypeVertex
	for cur := t; cur != nil; cur = cur.parent {
		for _, role := range cur.relates {
			if !seen[role] {
				seen[role] = true
				out = append(out, role)
			}
		}
	}
	return out
}

func (t *TypeVertex) String() string { return "type(" + t.label.Scoped() + ")" }

// Concept is any retrievable handle: a type vertex or a thing vertex.
type Concept interface {
	IsThing() bool
	IsType() bool
	AsThing() *Thing
	AsType() *TypeVertex
}

func (t *TypeVertex) IsThing() bool       { return false }
func (t *TypeVertex) IsType() bool        { return true }
func (t *TypeVertex) AsThing() *Thing     { return nil }
func (t *TypeVertex) AsType() *TypeVertex { return t }
