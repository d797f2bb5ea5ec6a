package pattern

import (
	"toposdb/src/encoding"
	"toposdb/src/graph"
)

// Variable is a typed query variable: a thing variable or a type variable.
type Variable interface {
	Reference() Reference
	IsThing() bool
	IsType() bool
	AsThing() *ThingVariable
	AsType() *TypeVariable
}

// ThingVariable carries the constraints of an instance-valued variable.
type ThingVariable struct {
	ref      Reference
	Isa      *IsaConstraint
	Has      []*HasConstraint
	Relation *RelationConstraint
	Values   []*ValueConstraint
	IID      *IIDConstraint
	Is       []*IsConstraint

	// relations this variable plays a role in, maintained by PutRelation
	playing []*ThingVariable
}

// Playing returns the relation variables this variable plays a role in.
func (v *ThingVariable) Playing() []*ThingVariable { return v.playing }

// NewThingVariable creates an unconstrained thing variable.
func NewThingVariable(ref Reference) *ThingVariable {
	return &ThingVariable{ref: ref}
}

func (v *ThingVariable) Reference() Reference    { return v.ref }
func (v *ThingVariable) IsThing() bool           { return true }
func (v *ThingVariable) IsType() bool            { return false }
func (v *ThingVariable) AsThing() *ThingVariable { return v }
func (v *ThingVariable) AsType() *TypeVariable   { return nil }

// PutIsa constrains the variable's type.
func (v *ThingVariable) PutIsa(t *TypeVariable, explicit bool) *IsaConstraint {
	v.Isa = &IsaConstraint{Owner: v, Type: t, Explicit: explicit}
	return v.Isa
}

// PutHas links the variable to an attribute variable.
func (v *ThingVariable) PutHas(attribute *ThingVariable) *HasConstraint {
	c := &HasConstraint{Owner: v, Attribute: attribute}
	v.Has = append(v.Has, c)
	return c
}

// PutRelation binds the variable's role players.
func (v *ThingVariable) PutRelation(players ...RolePlayer) *RelationConstraint {
	for i := range players {
		players[i].Player.playing = append(players[i].Player.playing, v)
	}
	v.Relation = &RelationConstraint{Owner: v, Players: players}
	return v.Relation
}

// PutValue compares the variable's value to a constant.
func (v *ThingVariable) PutValue(op PredicateOp, value encoding.Value) *ValueConstraint {
	c := &ValueConstraint{Owner: v, Op: op, Value: value}
	v.Values = append(v.Values, c)
	return c
}

// PutValueVariable compares the variable's value to another variable.
func (v *ThingVariable) PutValueVariable(op PredicateOp, other *ThingVariable) *ValueConstraint {
	c := &ValueConstraint{Owner: v, Op: op, Variable: other}
	v.Values = append(v.Values, c)
	return c
}

// PutIID pins the variable to a concrete vertex.
func (v *ThingVariable) PutIID(iid encoding.ThingIID) *IIDConstraint {
	v.IID = &IIDConstraint{Owner: v, IID: iid}
	return v.IID
}

// PutIs asserts identity with another variable.
func (v *ThingVariable) PutIs(other *ThingVariable) *IsConstraint {
	c := &IsConstraint{Owner: v, Other: other}
	v.Is = append(v.Is, c)
	return c
}

// TypeHints returns the inferred concrete labels from the isa constraint.
func (v *ThingVariable) TypeHints() []graph.Label {
	if v.Isa == nil {
		return nil
	}
	return v.Isa.Hints
}

func (v *ThingVariable) String() string { return v.ref.String() }

// TypeVariable carries the constraints of a type-valued variable.
type TypeVariable struct {
	ref       Reference
	Label     *LabelConstraint
	Sub       *SubConstraint
	Owns      []*OwnsConstraint
	Plays     []*PlaysConstraint
	Relates   []*RelatesConstraint
	ValueType *ValueTypeConstraint
	Regex     *RegexConstraint
}

// NewTypeVariable creates an unconstrained type variable.
func NewTypeVariable(ref Reference) *TypeVariable {
	return &TypeVariable{ref: ref}
}

// NewLabelVariable creates a type variable pinned to a label.
func NewLabelVariable(label graph.Label) *TypeVariable {
	v := NewTypeVariable(NewLabelReference(label.Scoped()))
	v.PutLabel(label)
	return v
}

func (v *TypeVariable) Reference() Reference    { return v.ref }
func (v *TypeVariable) IsThing() bool           { return false }
func (v *TypeVariable) IsType() bool            { return true }
func (v *TypeVariable) AsThing() *ThingVariable { return nil }
func (v *TypeVariable) AsType() *TypeVariable   { return v }

// PutLabel pins the variable to a concrete label.
func (v *TypeVariable) PutLabel(label graph.Label) *LabelConstraint {
	v.Label = &LabelConstraint{Owner: v, Label: label}
	return v.Label
}

// PutSub constrains the variable under a parent type variable.
func (v *TypeVariable) PutSub(t *TypeVariable, explicit bool) *SubConstraint {
	v.Sub = &SubConstraint{Owner: v, Type: t, Explicit: explicit}
	return v.Sub
}

// PutOwns links the variable to an attribute type variable.
func (v *TypeVariable) PutOwns(attribute *TypeVariable, isKey bool) *OwnsConstraint {
	c := &OwnsConstraint{Owner: v, Attribute: attribute, IsKey: isKey}
	v.Owns = append(v.Owns, c)
	return c
}

// PutPlays links the variable to a role type variable.
func (v *TypeVariable) PutPlays(role *TypeVariable) *PlaysConstraint {
	c := &PlaysConstraint{Owner: v, Role: role}
	v.Plays = append(v.Plays, c)
	return c
}

// PutRelates links the variable to a role type variable it declares.
func (v *TypeVariable) PutRelates(role *TypeVariable) *RelatesConstraint {
	c := &RelatesConstraint{Owner: v, Role: role}
	v.Relates = append(v.Relates, c)
	return c
}

// PutValueType pins the variable's value kind.
func (v *TypeVariable) PutValueType(kind encoding.ValueKind) *ValueTypeConstraint {
	v.ValueType = &ValueTypeConstraint{Owner: v, Kind: kind}
	return v.ValueType
}

// PutRegex restricts a string attribute type.
func (v *TypeVariable) PutRegex(expr string) *RegexConstraint {
	v.Regex = &RegexConstraint{Owner: v, Expr: expr}
	return v.Regex
}

// SubHints returns the inferred concrete labels from the sub constraint.
func (v *TypeVariable) SubHints() []graph.Label {
	if v.Sub == nil {
		return nil
	}
	return v.Sub.Hints
}

func (v *TypeVariable) String() string { return v.ref.String() }
