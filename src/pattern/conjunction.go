package pattern

import (
	"sort"
	"strings"
)

// Conjunction owns a set of variables plus nested negations and
// disjunctions. Variables are arena-keyed by reference; constraints point
// at variables, never at each other, so the structure is cycle-free at the
// pointer level.
type Conjunction struct {
	variables    map[string]Variable
	order        []string // registration order, for deterministic iteration
	Negations    []*Conjunction
	Disjunctions [][]*Conjunction
}

// NewConjunction builds a conjunction over the given variables.
func NewConjunction(variables ...Variable) *Conjunction {
	c := &Conjunction{variables: make(map[string]Variable)}
	for _, v := range variables {
		c.Add(v)
	}
	return c
}

// Add registers a variable; re-adding the same reference is a no-op.
func (c *Conjunction) Add(v Variable) {
	key := v.Reference().Key()
	if _, ok := c.variables[key]; ok {
		return
	}
	c.variables[key] = v
	c.order = append(c.order, key)
}

// Get resolves a reference to its variable, nil when absent.
func (c *Conjunction) Get(ref Reference) Variable {
	return c.variables[ref.Key()]
}

// Variables returns the variables in registration order.
func (c *Conjunction) Variables() []Variable {
	out := make([]Variable, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.variables[key])
	}
	return out
}

// ThingVariables returns the thing variables in registration order.
func (c *Conjunction) ThingVariables() []*ThingVariable {
	var out []*ThingVariable
	for _, v := range c.Variables() {
		if v.IsThing() {
			out = append(out, v.AsThing())
		}
	}
	return out
}

// TypeVariables returns the type variables in registration order.
func (c *Conjunction) TypeVariables() []*TypeVariable {
	var out []*TypeVariable
	for _, v := range c.Variables() {
		if v.IsType() {
			out = append(out, v.AsType())
		}
	}
	return out
}

// Equal compares two conjunctions structurally: same variable references
// with the same constraint shapes. Hint sets are ignored.
func (c *Conjunction) Equal(other *Conjunction) bool {
	if len(c.variables) != len(other.variables) {
		return false
	}
	for key, v := range c.variables {
		o, ok := other.variables[key]
		if !ok {
			return false
		}
		if signature(v) != signature(o) {
			return false
		}
	}
	return true
}

// signature renders a variable's constraints into a canonical string.
func signature(v Variable) string {
	var parts []string
	if v.IsThing() {
		tv := v.AsThing()
		if tv.Isa != nil {
			s := "isa:" + tv.Isa.Type.Reference().Key()
			if tv.Isa.Type.Label != nil {
				s += "=" + tv.Isa.Type.Label.Label.Scoped()
			}
			if tv.Isa.Explicit {
				s += "!"
			}
			parts = append(parts, s)
		}
		for _, h := range tv.Has {
			parts = append(parts, "has:"+h.Attribute.Reference().Key())
		}
		if tv.Relation != nil {
			var players []string
			for _, p := range tv.Relation.Players {
				s := "player:" + p.Player.Reference().Key()
				if p.RoleType != nil {
					s = "role:" + p.RoleType.Reference().Key() + "/" + s
					if p.RoleType.Label != nil {
						s += "=" + p.RoleType.Label.Label.Scoped()
					}
				}
				players = append(players, s)
			}
			sort.Strings(players)
			parts = append(parts, "rel("+strings.Join(players, ",")+")")
		}
		for _, val := range tv.Values {
			s := "value:" + val.Op.String()
			if val.Variable != nil {
				s += val.Variable.Reference().Key()
			} else {
				s += val.Value.String()
			}
			parts = append(parts, s)
		}
		if tv.IID != nil {
			parts = append(parts, "iid:"+tv.IID.IID.String())
		}
		for _, is := range tv.Is {
			parts = append(parts, "is:"+is.Other.Reference().Key())
		}
	} else {
		ty := v.AsType()
		if ty.Label != nil {
			parts = append(parts, "label:"+ty.Label.Label.Scoped())
		}
		if ty.Sub != nil {
			s := "sub:" + ty.Sub.Type.Reference().Key()
			if ty.Sub.Explicit {
				s += "!"
			}
			parts = append(parts, s)
		}
		for _, o := range ty.Owns {
			s := "owns:" + o.Attribute.Reference().Key()
			if o.IsKey {
				s += "@key"
			}
			parts = append(parts, s)
		}
		for _, p := range ty.Plays {
			parts = append(parts, "plays:"+p.Role.Reference().Key())
		}
		for _, r := range ty.Relates {
			parts = append(parts, "relates:"+r.Role.Reference().Key())
		}
		if ty.ValueType != nil {
			parts = append(parts, "valuetype:"+ty.ValueType.Kind.String())
		}
		if ty.Regex != nil {
			parts = append(parts, "regex:"+ty.Regex.Expr)
		}
	}
	sort.Strings(parts)
	return v.Reference().Key() + "{" + strings.Join(parts, ";") + "}"
}
