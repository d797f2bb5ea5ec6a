package query

import (
	"toposdb/src/encoding"
	"toposdb/src/graph"
	"toposdb/src/kgerr"
	"toposdb/src/pattern"
	"toposdb/src/procedure"
)

// insertOperation materialises one answer's worth of insert variables.
type insertOperation struct {
	mgr      *graph.Manager
	matched  procedure.Answer
	vars     []*pattern.ThingVariable
	inserted map[string]*graph.Thing
}

func newInsertOperation(mgr *graph.Manager, matched procedure.Answer, vars []*pattern.ThingVariable) *insertOperation {
	return &insertOperation{
		mgr:      mgr,
		matched:  matched,
		vars:     vars,
		inserted: make(map[string]*graph.Thing),
	}
}

func (op *insertOperation) execute() (procedure.Answer, error) {
	for _, v := range op.vars {
		if _, err := op.insert(v); err != nil {
			return nil, err
		}
	}
	answer := procedure.Answer{}
	for key, thing := range op.inserted {
		answer[key] = thing
	}
	for key, concept := range op.matched {
		if _, ok := answer[key]; !ok {
			answer[key] = concept
		}
	}
	return answer, nil
}

func (op *insertOperation) matchedGet(v *pattern.ThingVariable) *graph.Thing {
	if !v.Reference().IsName() {
		return nil
	}
	concept, ok := op.matched[v.Reference().Key()]
	if !ok || !concept.IsThing() {
		return nil
	}
	return concept.AsThing()
}

func (op *insertOperation) insert(v *pattern.ThingVariable) (*graph.Thing, error) {
	ref := v.Reference()
	if thing, ok := op.inserted[ref.Key()]; ok {
		return thing, nil
	}

	matched := op.matchedGet(v)
	if matched != nil && v.Isa == nil && v.Relation == nil && len(v.Has) == 0 {
		return matched, nil
	}
	if err := op.validate(v); err != nil {
		return nil, err
	}

	var thing *graph.Thing
	switch {
	case matched != nil:
		if v.Isa != nil {
			declared, err := op.thingType(v.Isa)
			if err != nil {
				return nil, err
			}
			if !matched.Type().IsSubtypeOf(declared) {
				return nil, kgerr.Of(kgerr.ErrThingIsaReinsertion, "%s isa %s", ref, declared.Label())
			}
		}
		thing = matched
	case v.Isa != nil:
		var err error
		thing, err = op.insertIsa(v)
		if err != nil {
			return nil, err
		}
	default:
		return nil, kgerr.Of(kgerr.ErrThingIsaMissing, "%s", ref)
	}

	op.inserted[ref.Key()] = thing
	if v.Relation != nil {
		if err := op.insertRolePlayers(thing, v); err != nil {
			return nil, err
		}
	}
	for _, has := range v.Has {
		attr, err := op.insert(has.Attribute)
		if err != nil {
			return nil, err
		}
		exists, err := op.mgr.Data().EdgeExists(thing, encoding.InfixHas, attr)
		if err != nil {
			return nil, err
		}
		if !exists {
			if err := op.mgr.Data().PutHas(thing, attr); err != nil {
				return nil, err
			}
		}
	}
	return thing, nil
}

func (op *insertOperation) validate(v *pattern.ThingVariable) error {
	if v.IID != nil {
		return kgerr.Of(kgerr.ErrThingIIDNotInsertable, "%s", v.Reference())
	}
	if len(v.Is) > 0 {
		return kgerr.Of(kgerr.ErrIllegalState, "is constraints are not insertable: %s", v.Reference())
	}
	return nil
}

func (op *insertOperation) thingType(isa *pattern.IsaConstraint) (*graph.TypeVertex, error) {
	if isa.Type.Label == nil {
		return nil, kgerr.Of(kgerr.ErrIllegalTypeVariableInWrite, "%s", isa.Type.Reference())
	}
	return op.mgr.Schema().MustGetType(isa.Type.Label.Label)
}

func (op *insertOperation) insertIsa(v *pattern.ThingVariable) (*graph.Thing, error) {
	t, err := op.thingType(v.Isa)
	if err != nil {
		return nil, err
	}
	switch {
	case t.IsEntityType():
		return op.mgr.Data().CreateEntity(t)
	case t.IsRelationType():
		if v.Relation == nil {
			return nil, kgerr.Of(kgerr.ErrRelationConstraintMissing, "%s", v.Reference())
		}
		return op.mgr.Data().CreateRelation(t)
	case t.IsAttributeType():
		return op.insertAttribute(t, v)
	default:
		return nil, kgerr.Of(kgerr.ErrIllegalState, "%s is not an instantiable type", t.Label())
	}
}

func (op *insertOperation) insertAttribute(t *graph.TypeVertex, v *pattern.ThingVariable) (*graph.Thing, error) {
	var identity *pattern.ValueConstraint
	count := 0
	for _, val := range v.Values {
		if val.IsValueIdentity() {
			identity = val
			count++
		}
	}
	if count > 1 {
		return nil, kgerr.Of(kgerr.ErrAttributeValueTooMany, "%s isa %s", v.Reference(), t.Label())
	}
	if identity == nil {
		return nil, kgerr.Of(kgerr.ErrAttributeValueMissing, "%s isa %s", v.Reference(), t.Label())
	}
	return op.mgr.Data().PutAttribute(t, identity.Value)
}

func (op *insertOperation) insertRolePlayers(relation *graph.Thing, v *pattern.ThingVariable) error {
	relationLabel := relation.Type().Label().Name
	for _, p := range v.Relation.Players {
		player, err := op.insert(p.Player)
		if err != nil {
			return err
		}
		role, err := op.roleType(relationLabel, player, p)
		if err != nil {
			return err
		}
		if err := op.mgr.Data().AddRolePlayer(relation, role, player); err != nil {
			return err
		}
	}
	return nil
}

// roleType resolves the role of a player: the declared role label when
// given, otherwise the single role of the relation the player can play.
func (op *insertOperation) roleType(relationLabel string, player *graph.Thing, p pattern.RolePlayer) (*graph.TypeVertex, error) {
	schema := op.mgr.Schema()
	if p.RoleType != nil && p.RoleType.Label != nil {
		label := p.RoleType.Label.Label
		if !label.IsScoped() {
			label = graph.NewScopedLabel(relationLabel, label.Name)
		}
		return schema.MustGetType(label)
	}

	relType, err := schema.MustGetType(graph.NewLabel(relationLabel))
	if err != nil {
		return nil, err
	}
	var candidates []*graph.TypeVertex
	for _, role := range relType.Relates() {
		for _, playable := range player.Type().Plays() {
			if playable == role {
				candidates = append(candidates, role)
				break
			}
		}
	}
	if len(candidates) != 1 {
		return nil, kgerr.Of(kgerr.ErrPlaysIncompatible,
			"cannot infer a unique role for %s in %s", player.Type().Label(), relationLabel)
	}
	return candidates[0], nil
}

// deleteOperation removes the bindings of the delete variables for one
// matched answer. A bare variable deletes its vertex; a variable carrying
// has constraints unlinks those attributes instead. Vertices deleted
// together may reference each other.
func deleteOperation(mgr *graph.Manager, matched procedure.Answer, vars []*pattern.ThingVariable) error {
	bound := func(v *pattern.ThingVariable) *graph.Thing {
		concept, ok := matched[v.Reference().Key()]
		if !ok || !concept.IsThing() {
			return nil
		}
		return concept.AsThing()
	}

	var vertices []*graph.Thing
	alsoDeleting := map[string]bool{}
	for _, v := range vars {
		thing := bound(v)
		if thing == nil {
			continue
		}
		if len(v.Has) > 0 {
			for _, has := range v.Has {
				attr := bound(has.Attribute)
				if attr == nil {
					continue
				}
				if err := mgr.Data().DeleteHas(thing, attr); err != nil {
					return err
				}
			}
			continue
		}
		vertices = append(vertices, thing)
		alsoDeleting[string(thing.IID())] = true
	}
	for _, thing := range vertices {
		if err := mgr.Data().DeleteThing(thing, alsoDeleting); err != nil {
			return err
		}
	}
	return nil
}
