package logic

import (
	"toposdb/src/graph"
	"toposdb/src/pattern"
)

// ConcludableKind is the shape of a concludable fragment.
type ConcludableKind int

const (
	KindIsa ConcludableKind = iota
	KindHas
	KindRelation
	KindValue
)

func (k ConcludableKind) String() string {
	switch k {
	case KindIsa:
		return "isa"
	case KindHas:
		return "has"
	case KindRelation:
		return "relation"
	case KindValue:
		return "value"
	}
	return "?"
}

// Concludable is a pattern fragment a rule head could produce.
type Concludable struct {
	Kind     ConcludableKind
	Isa      *pattern.IsaConstraint
	Has      *pattern.HasConstraint
	Relation *pattern.RelationConstraint
	Value    *pattern.ValueConstraint
}

func (c *Concludable) IsIsa() bool      { return c.Kind == KindIsa }
func (c *Concludable) IsHas() bool      { return c.Kind == KindHas }
func (c *Concludable) IsRelation() bool { return c.Kind == KindRelation }
func (c *Concludable) IsValue() bool    { return c.Kind == KindValue }

// Owner returns the thing variable the fragment is anchored on.
func (c *Concludable) Owner() *pattern.ThingVariable {
	switch c.Kind {
	case KindIsa:
		return c.Isa.Owner
	case KindHas:
		return c.Has.Owner
	case KindRelation:
		return c.Relation.Owner
	case KindValue:
		return c.Value.Owner
	}
	return nil
}

// ConjunctionConcludables extracts the rule-satisfiable fragments of a
// conjunction body. Constraints fold into their most specific fragment: a
// relation subsumes its owner's isa, a has subsumes its attribute's isa
// and values.
func ConjunctionConcludables(conj *pattern.Conjunction) []*Concludable {
	attrOfHas := map[string]bool{}
	for _, v := range conj.ThingVariables() {
		for _, h := range v.Has {
			attrOfHas[h.Attribute.Reference().Key()] = true
		}
	}

	var out []*Concludable
	for _, v := range conj.ThingVariables() {
		if v.Relation != nil {
			out = append(out, &Concludable{Kind: KindRelation, Relation: v.Relation})
		}
		for _, h := range v.Has {
			out = append(out, &Concludable{Kind: KindHas, Has: h})
		}
		if attrOfHas[v.Reference().Key()] {
			continue
		}
		if v.Isa != nil && v.Relation == nil {
			out = append(out, &Concludable{Kind: KindIsa, Isa: v.Isa})
			continue
		}
		if v.Isa == nil && v.Relation == nil && len(v.Values) > 0 {
			constant := true
			for _, val := range v.Values {
				if val.Variable != nil {
					constant = false
					break
				}
			}
			if constant {
				out = append(out, &Concludable{Kind: KindValue, Value: v.Values[0]})
			}
		}
	}
	return out
}

// HeadConcludables extracts what an expanded rule head can produce. Every
// constraint counts separately; bare value assertions are excluded.
func HeadConcludables(conj *pattern.Conjunction) []*Concludable {
	var out []*Concludable
	for _, v := range conj.ThingVariables() {
		if v.Isa != nil {
			out = append(out, &Concludable{Kind: KindIsa, Isa: v.Isa})
		}
		for _, h := range v.Has {
			out = append(out, &Concludable{Kind: KindHas, Has: h})
		}
		if v.Relation != nil {
			out = append(out, &Concludable{Kind: KindRelation, Relation: v.Relation})
		}
	}
	return out
}

// Unification maps the variables of a conjunction concludable onto a rule
// head's variables.
type Unification struct {
	From    *Concludable
	To      *Concludable
	Mapping map[string]string // concludable ref key -> head ref key
}

// Unify attempts to unify a conjunction concludable with a head
// concludable: the kinds must match and the type-hint sets must
// intersect. Returns false when no unifier exists.
func Unify(from, to *Concludable) (Unification, bool) {
	if from.Kind != to.Kind {
		return Unification{}, false
	}
	u := Unification{From: from, To: to, Mapping: map[string]string{}}

	switch from.Kind {
	case KindIsa:
		if !typesCompatible(from.Isa, to.Isa) {
			return Unification{}, false
		}
		u.map2(from.Isa.Owner, to.Isa.Owner)

	case KindHas:
		if !hintsIntersect(ownerHints(from.Has.Owner), ownerHints(to.Has.Owner)) {
			return Unification{}, false
		}
		if !hintsIntersect(ownerHints(from.Has.Attribute), ownerHints(to.Has.Attribute)) {
			return Unification{}, false
		}
		if !valuesCompatible(from.Has.Attribute, to.Has.Attribute) {
			return Unification{}, false
		}
		u.map2(from.Has.Owner, to.Has.Owner)
		u.map2(from.Has.Attribute, to.Has.Attribute)

	case KindRelation:
		if !hintsIntersect(ownerHints(from.Relation.Owner), ownerHints(to.Relation.Owner)) {
			return Unification{}, false
		}
		if len(from.Relation.Players) > len(to.Relation.Players) {
			return Unification{}, false
		}
		u.map2(from.Relation.Owner, to.Relation.Owner)
		// Greedy player matching on intersecting role hints.
		used := make([]bool, len(to.Relation.Players))
		for _, fp := range from.Relation.Players {
			matched := false
			for i, tp := range to.Relation.Players {
				if used[i] {
					continue
				}
				if rolesIntersect(fp.RoleTypeHints, roleLabels(tp)) {
					used[i] = true
					u.map2(fp.Player, tp.Player)
					matched = true
					break
				}
			}
			if !matched {
				return Unification{}, false
			}
		}

	case KindValue:
		// Excluded from rule heads; no unifier exists.
		return Unification{}, false
	}
	return u, true
}

func (u *Unification) map2(from, to *pattern.ThingVariable) {
	u.Mapping[from.Reference().Key()] = to.Reference().Key()
}

func ownerHints(v *pattern.ThingVariable) []graph.Label {
	if v.Isa == nil {
		return nil
	}
	if len(v.Isa.Hints) > 0 {
		return v.Isa.Hints
	}
	if v.Isa.Type.Label != nil {
		return []graph.Label{v.Isa.Type.Label.Label}
	}
	return nil
}

// typesCompatible checks isa-to-isa unification: an empty hint set is a
// wildcard.
func typesCompatible(from, to *pattern.IsaConstraint) bool {
	return hintsIntersect(isaHints(from), isaHints(to))
}

func isaHints(c *pattern.IsaConstraint) []graph.Label {
	if len(c.Hints) > 0 {
		return c.Hints
	}
	if c.Type.Label != nil {
		return []graph.Label{c.Type.Label.Label}
	}
	return nil
}

func hintsIntersect(a, b []graph.Label) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	set := map[graph.Label]bool{}
	for _, l := range a {
		set[l] = true
	}
	for _, l := range b {
		if set[l] {
			return true
		}
	}
	return false
}

func roleLabels(p pattern.RolePlayer) []graph.Label {
	if len(p.RoleTypeHints) > 0 {
		return p.RoleTypeHints
	}
	if p.RoleType != nil && p.RoleType.Label != nil {
		return []graph.Label{p.RoleType.Label.Label}
	}
	return nil
}

func rolesIntersect(a, b []graph.Label) bool { return hintsIntersect(a, b) }

// valuesCompatible rejects unification when both sides pin constant
// values that cannot be equal.
func valuesCompatible(from, to *pattern.ThingVariable) bool {
	for _, fv := range from.Values {
		if fv.Variable != nil || fv.Op != pattern.OpEQ {
			continue
		}
		for _, tv := range to.Values {
			if tv.Variable != nil || tv.Op != pattern.OpEQ {
				continue
			}
			if !fv.Value.Equal(tv.Value) {
				return false
			}
		}
	}
	return true
}
