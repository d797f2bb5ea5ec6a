package pattern

import (
	"toposdb/src/kgerr"
)

// VariableRegistry validates the variable set of a write operation: every
// type variable must be a concrete label, and the thing variables are the
// ones materialised.
type VariableRegistry struct {
	things []*ThingVariable
	types  []*TypeVariable
}

// NewRegistryFromThings collects and validates the variables of an insert
// or delete clause.
func NewRegistryFromThings(variables []*ThingVariable) (*VariableRegistry, error) {
	r := &VariableRegistry{}
	seen := map[string]bool{}
	var register func(v *ThingVariable)
	register = func(v *ThingVariable) {
		key := v.Reference().Key()
		if seen[key] {
			return
		}
		seen[key] = true
		r.things = append(r.things, v)
		if v.Isa != nil {
			r.registerType(v.Isa.Type, seen)
		}
		for _, h := range v.Has {
			register(h.Attribute)
		}
		if v.Relation != nil {
			for _, p := range v.Relation.Players {
				register(p.Player)
				if p.RoleType != nil {
					r.registerType(p.RoleType, seen)
				}
			}
		}
	}
	for _, v := range variables {
		register(v)
	}
	for _, t := range r.types {
		if !t.Reference().IsLabel() {
			return nil, kgerr.Of(kgerr.ErrIllegalTypeVariableInWrite, "%s", t.Reference())
		}
	}
	return r, nil
}

func (r *VariableRegistry) registerType(t *TypeVariable, seen map[string]bool) {
	key := t.Reference().Key()
	if seen[key] {
		return
	}
	seen[key] = true
	r.types = append(r.types, t)
}

// Things returns the thing variables to materialise.
func (r *VariableRegistry) Things() []*ThingVariable { return r.things }

// Types returns the referenced type variables.
func (r *VariableRegistry) Types() []*TypeVariable { return r.types }
