package pattern

// Copier deep-copies variables between conjunctions, preserving references
// and rewriting constraint back-references onto the fresh instances.
type Copier struct {
	things map[string]*ThingVariable
	types  map[string]*TypeVariable
}

// NewCopier creates an empty copier.
func NewCopier() *Copier {
	return &Copier{
		things: make(map[string]*ThingVariable),
		types:  make(map[string]*TypeVariable),
	}
}

// Thing returns the copy of v, creating it and its constraints on first
// use.
func (c *Copier) Thing(v *ThingVariable) *ThingVariable {
	key := v.Reference().Key()
	if existing, ok := c.things[key]; ok {
		return existing
	}
	copy := NewThingVariable(v.Reference())
	c.things[key] = copy

	if v.Isa != nil {
		isa := copy.PutIsa(c.Type(v.Isa.Type), v.Isa.Explicit)
		isa.AddHints(v.Isa.Hints)
	}
	for _, h := range v.Has {
		copy.PutHas(c.Thing(h.Attribute))
	}
	if v.Relation != nil {
		players := make([]RolePlayer, 0, len(v.Relation.Players))
		for _, p := range v.Relation.Players {
			player := RolePlayer{Player: c.Thing(p.Player)}
			if p.RoleType != nil {
				player.RoleType = c.Type(p.RoleType)
			}
			player.RoleTypeHints = append(player.RoleTypeHints, p.RoleTypeHints...)
			players = append(players, player)
		}
		copy.PutRelation(players...)
	}
	for _, val := range v.Values {
		if val.Variable != nil {
			copy.PutValueVariable(val.Op, c.Thing(val.Variable))
		} else {
			copy.PutValue(val.Op, val.Value)
		}
	}
	if v.IID != nil {
		copy.PutIID(v.IID.IID)
	}
	for _, is := range v.Is {
		copy.PutIs(c.Thing(is.Other))
	}
	return copy
}

// Type returns the copy of v, creating it and its constraints on first
// use.
func (c *Copier) Type(v *TypeVariable) *TypeVariable {
	key := v.Reference().Key()
	if existing, ok := c.types[key]; ok {
		return existing
	}
	copy := NewTypeVariable(v.Reference())
	c.types[key] = copy

	if v.Label != nil {
		copy.PutLabel(v.Label.Label)
	}
	if v.Sub != nil {
		sub := copy.PutSub(c.Type(v.Sub.Type), v.Sub.Explicit)
		sub.AddHints(v.Sub.Hints)
	}
	for _, o := range v.Owns {
		copy.PutOwns(c.Type(o.Attribute), o.IsKey)
	}
	for _, p := range v.Plays {
		copy.PutPlays(c.Type(p.Role))
	}
	for _, r := range v.Relates {
		copy.PutRelates(c.Type(r.Role))
	}
	if v.ValueType != nil {
		copy.PutValueType(v.ValueType.Kind)
	}
	if v.Regex != nil {
		copy.PutRegex(v.Regex.Expr)
	}
	return copy
}

// CopyConjunction deep-copies a conjunction and its nested patterns.
func CopyConjunction(conj *Conjunction) *Conjunction {
	copier := NewCopier()
	out := NewConjunction()
	for _, v := range conj.Variables() {
		if v.IsThing() {
			out.Add(copier.Thing(v.AsThing()))
		} else {
			out.Add(copier.Type(v.AsType()))
		}
	}
	// Register transitively created variables too.
	for _, v := range copier.things {
		out.Add(v)
	}
	for _, v := range copier.types {
		out.Add(v)
	}
	for _, n := range conj.Negations {
		out.Negations = append(out.Negations, CopyConjunction(n))
	}
	for _, d := range conj.Disjunctions {
		var branches []*Conjunction
		for _, b := range d {
			branches = append(branches, CopyConjunction(b))
		}
		out.Disjunctions = append(out.Disjunctions, branches)
	}
	return out
}

// MergeConjunctions combines the variables of several conjunctions into
// one, unifying variables that share a reference.
func MergeConjunctions(conjs ...*Conjunction) *Conjunction {
	copier := NewCopier()
	out := NewConjunction()
	for _, conj := range conjs {
		for _, v := range conj.Variables() {
			if v.IsThing() {
				merged := copier.Thing(v.AsThing())
				mergeThing(merged, v.AsThing(), copier)
				out.Add(merged)
			} else {
				merged := copier.Type(v.AsType())
				mergeType(merged, v.AsType(), copier)
				out.Add(merged)
			}
		}
		out.Negations = append(out.Negations, conj.Negations...)
	}
	for _, v := range copier.things {
		out.Add(v)
	}
	for _, v := range copier.types {
		out.Add(v)
	}
	return out
}

// mergeThing folds constraints of src into dst when dst was first created
// from an earlier conjunction and src adds more.
func mergeThing(dst, src *ThingVariable, copier *Copier) {
	if dst.Isa == nil && src.Isa != nil {
		isa := dst.PutIsa(copier.Type(src.Isa.Type), src.Isa.Explicit)
		isa.AddHints(src.Isa.Hints)
	}
	if dst.Relation == nil && src.Relation != nil {
		players := make([]RolePlayer, 0, len(src.Relation.Players))
		for _, p := range src.Relation.Players {
			player := RolePlayer{Player: copier.Thing(p.Player)}
			if p.RoleType != nil {
				player.RoleType = copier.Type(p.RoleType)
			}
			player.RoleTypeHints = append(player.RoleTypeHints, p.RoleTypeHints...)
			players = append(players, player)
		}
		dst.PutRelation(players...)
	}
	for _, h := range src.Has {
		found := false
		for _, existing := range dst.Has {
			if existing.Attribute.Reference().Key() == h.Attribute.Reference().Key() {
				found = true
				break
			}
		}
		if !found {
			dst.PutHas(copier.Thing(h.Attribute))
		}
	}
	for _, val := range src.Values {
		dup := false
		for _, existing := range dst.Values {
			sameVariable := existing.Variable != nil && val.Variable != nil &&
				existing.Variable.Reference().Key() == val.Variable.Reference().Key()
			sameConstant := existing.Variable == nil && val.Variable == nil && existing.Value.Equal(val.Value)
			if existing.Op == val.Op && (sameVariable || sameConstant) {
				dup = true
				break
			}
		}
		if !dup {
			if val.Variable != nil {
				dst.PutValueVariable(val.Op, copier.Thing(val.Variable))
			} else {
				dst.PutValue(val.Op, val.Value)
			}
		}
	}
	if dst.IID == nil && src.IID != nil {
		dst.PutIID(src.IID.IID)
	}
}

func mergeType(dst, src *TypeVariable, copier *Copier) {
	if dst.Label == nil && src.Label != nil {
		dst.PutLabel(src.Label.Label)
	}
	if dst.Sub == nil && src.Sub != nil {
		sub := dst.PutSub(copier.Type(src.Sub.Type), src.Sub.Explicit)
		sub.AddHints(src.Sub.Hints)
	}
}
