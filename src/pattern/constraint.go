package pattern

import (
	"toposdb/src/encoding"
	"toposdb/src/graph"
)

// PredicateOp is a value-comparison operator.
type PredicateOp int

const (
	OpEQ PredicateOp = iota
	OpNEQ
	OpGT
	OpGTE
	OpLT
	OpLTE
)

func (op PredicateOp) String() string {
	switch op {
	case OpEQ:
		return "="
	case OpNEQ:
		return "!="
	case OpGT:
		return ">"
	case OpGTE:
		return ">="
	case OpLT:
		return "<"
	case OpLTE:
		return "<="
	}
	return "?"
}

// Flip mirrors the operator for the swapped operand order.
func (op PredicateOp) Flip() PredicateOp {
	switch op {
	case OpGT:
		return OpLT
	case OpGTE:
		return OpLTE
	case OpLT:
		return OpGT
	case OpLTE:
		return OpGTE
	}
	return op
}

// Test applies the operator to an ordering result from Value.Compare.
func (op PredicateOp) Test(cmp int) bool {
	switch op {
	case OpEQ:
		return cmp == 0
	case OpNEQ:
		return cmp != 0
	case OpGT:
		return cmp > 0
	case OpGTE:
		return cmp >= 0
	case OpLT:
		return cmp < 0
	case OpLTE:
		return cmp <= 0
	}
	return false
}

// IsaConstraint binds a thing variable to a type variable.
type IsaConstraint struct {
	Owner    *ThingVariable
	Type     *TypeVariable
	Explicit bool // excludes subtypes when set
	Hints    []graph.Label
}

// AddHints extends the inferred concrete-type hint set.
func (c *IsaConstraint) AddHints(hints []graph.Label) {
	c.Hints = append(c.Hints, hints...)
}

// HasConstraint links an owner thing variable to an attribute variable.
type HasConstraint struct {
	Owner     *ThingVariable
	Attribute *ThingVariable
}

// RolePlayer is one player slot of a relation constraint.
type RolePlayer struct {
	RoleType      *TypeVariable // nil when the role is unspecified
	Player        *ThingVariable
	RoleTypeHints []graph.Label
}

// RelationConstraint binds a relation variable to its role players.
type RelationConstraint struct {
	Owner   *ThingVariable
	Players []RolePlayer
}

// ValueConstraint compares a thing variable's value to a constant or to
// another thing variable.
type ValueConstraint struct {
	Owner    *ThingVariable
	Op       PredicateOp
	Value    encoding.Value
	Variable *ThingVariable // non-nil for variable comparisons
}

// IsValueIdentity reports whether the constraint pins an exact constant.
func (c *ValueConstraint) IsValueIdentity() bool {
	return c.Op == OpEQ && c.Variable == nil
}

// IIDConstraint pins a thing variable to a concrete vertex.
type IIDConstraint struct {
	Owner *ThingVariable
	IID   encoding.ThingIID
}

// IsConstraint asserts identity between two thing variables.
type IsConstraint struct {
	Owner *ThingVariable
	Other *ThingVariable
}

// LabelConstraint pins a type variable to a concrete label.
type LabelConstraint struct {
	Owner *TypeVariable
	Label graph.Label
}

// SubConstraint binds a type variable under a parent type variable.
type SubConstraint struct {
	Owner    *TypeVariable
	Type     *TypeVariable
	Explicit bool // direct children only when set
	Hints    []graph.Label
}

// AddHints extends the inferred concrete-type hint set.
func (c *SubConstraint) AddHints(hints []graph.Label) {
	c.Hints = append(c.Hints, hints...)
}

// OwnsConstraint links an owner type variable to an attribute type
// variable, optionally as a key.
type OwnsConstraint struct {
	Owner     *TypeVariable
	Attribute *TypeVariable
	IsKey     bool
}

// PlaysConstraint links a player type variable to a role type variable.
type PlaysConstraint struct {
	Owner *TypeVariable
	Role  *TypeVariable
}

// RelatesConstraint links a relation type variable to a role type variable.
type RelatesConstraint struct {
	Owner *TypeVariable
	Role  *TypeVariable
}

// ValueTypeConstraint pins an attribute type variable's value kind.
type ValueTypeConstraint struct {
	Owner *TypeVariable
	Kind  encoding.ValueKind
}

// RegexConstraint restricts a string attribute type.
type RegexConstraint struct {
	Owner *TypeVariable
	Expr  string
}
