package planner

import (
	"fmt"

	"toposdb/src/graph"
	"toposdb/src/pattern"
	"toposdb/src/solver"
	"toposdb/src/structure"
)

// Edge is the planner's view of one structure edge: a pair of directional
// candidates of which exactly one is selected.
type Edge struct {
	planner  *GraphPlanner
	se       *structure.Edge
	forward  *Directional
	backward *Directional
}

func newEdge(p *GraphPlanner, se *structure.Edge, from, to *Vertex) *Edge {
	e := &Edge{planner: p, se: se}
	e.forward = newDirectional(e, from, to, true)
	e.backward = newDirectional(e, to, from, false)
	from.outs = append(from.outs, e.forward)
	to.ins = append(to.ins, e.forward)
	to.outs = append(to.outs, e.backward)
	from.ins = append(from.ins, e.backward)
	return e
}

func (e *Edge) isSelfClosure() bool { return e.se.From.ID == e.se.To.ID }

func (e *Edge) initialiseVariables() {
	e.forward.initialiseVariables()
	e.backward.initialiseVariables()
}

func (e *Edge) initialiseConstraints() {
	conPrefix := fmt.Sprintf("edge::con::%s::%s::", e.forward.from, e.forward.to)
	oneDirection := e.planner.model.AddConstraint(1, 1, conPrefix+"one_direction")
	oneDirection.SetCoefficient(e.forward.varIsSelected, 1)
	oneDirection.SetCoefficient(e.backward.varIsSelected, 1)

	e.forward.initialiseConstraints()
	e.backward.initialiseConstraints()
}

func (e *Edge) updateObjective(mgr *graph.Manager) {
	e.forward.updateObjective(mgr)
	e.backward.updateObjective(mgr)
}

func (e *Edge) recordCost() {
	e.forward.recordCost()
	e.backward.recordCost()
}

func (e *Edge) recordResults() {
	e.forward.recordResults()
	e.backward.recordResults()
}

func (e *Edge) resetInitialValues() {
	e.forward.resetInitialValue()
	e.backward.resetInitialValue()
}

func (e *Edge) recordInitial(vars *[]solver.VarID, values *[]float64) {
	e.forward.recordInitial(vars, values)
	e.backward.recordInitial(vars, values)
}

// selected returns the directional chosen by the last solution.
func (e *Edge) selected() *Directional {
	if e.forward.valueIsSelected {
		return e.forward
	}
	return e.backward
}

// Directional is one direction of a planner edge, carrying its own MIP
// variables and cost.
type Directional struct {
	parent    *Edge
	from, to  *Vertex
	isForward bool

	varIsSelected      solver.VarID
	varOrderNumber     solver.VarID
	varOrderAssignment []solver.VarID

	costLastRecorded float64
	costNext         float64

	valueIsSelected  bool
	valueOrderNumber int

	initOrder int // warm start: 1-based order, 0 when unselected
	hasInit   bool
}

func newDirectional(parent *Edge, from, to *Vertex, isForward bool) *Directional {
	return &Directional{
		parent:           parent,
		from:             from,
		to:               to,
		isForward:        isForward,
		costLastRecorded: initialCost, // non-zero value for safe division
	}
}

func (d *Directional) direction() string {
	if d.isForward {
		return "forward"
	}
	return "backward"
}

func (d *Directional) initialiseVariables() {
	m := d.parent.planner.model
	prefix := fmt.Sprintf("edge::var::%s::%s::%s::", d.from, d.to, d.direction())
	edgeCount := len(d.parent.planner.edges)
	d.varIsSelected = m.IntVar(0, 1, prefix+"is_selected")
	d.varOrderNumber = m.IntVar(0, edgeCount, prefix+"order_number")
	d.varOrderAssignment = make([]solver.VarID, edgeCount)
	for i := 0; i < edgeCount; i++ {
		d.varOrderAssignment[i] = m.IntVar(0, 1, fmt.Sprintf("%sorder_assignment[%d]", prefix, i))
	}
}

func (d *Directional) initialiseConstraints() {
	m := d.parent.planner.model
	prefix := fmt.Sprintf("edge::con::%s::%s::%s::", d.from, d.to, d.direction())
	edgeCount := len(d.parent.planner.edges)

	// sum_i assignment[i] = isSelected
	orderIfSelected := m.AddConstraint(0, 0, prefix+"order_if_selected")
	orderIfSelected.SetCoefficient(d.varIsSelected, -1)

	// sum_i (i+1)*assignment[i] = orderNumber
	assignOrderNumber := m.AddConstraint(0, 0, prefix+"assign_order_number")
	assignOrderNumber.SetCoefficient(d.varOrderNumber, -1)

	for i := 0; i < edgeCount; i++ {
		orderIfSelected.SetCoefficient(d.varOrderAssignment[i], 1)
		assignOrderNumber.SetCoefficient(d.varOrderAssignment[i], float64(i+1))
	}

	// Selected edges force vertex flow flags.
	outFromVertex := m.AddConstraint(0, 1, prefix+"out_from_vertex")
	outFromVertex.SetCoefficient(d.from.varHasOutgoing, 1)
	outFromVertex.SetCoefficient(d.varIsSelected, -1)

	inToVertex := m.AddConstraint(0, 1, prefix+"in_to_vertex")
	inToVertex.SetCoefficient(d.to.varHasIncoming, 1)
	inToVertex.SetCoefficient(d.varIsSelected, -1)

	// Order sequence: any selected edge out of the target vertex must come
	// later, unless the target is an ending vertex.
	for _, subsequent := range d.to.outs {
		if subsequent.parent == d.parent {
			continue
		}
		orderSequence := m.AddConstraint(-float64(edgeCount+1), float64(edgeCount+1), prefix+"order_sequence")
		orderSequence.SetCoefficient(d.to.varIsEnding, float64(edgeCount))
		orderSequence.SetCoefficient(subsequent.varIsSelected, -float64(edgeCount+1))
		orderSequence.SetCoefficient(subsequent.varOrderNumber, 1)
		orderSequence.SetCoefficient(d.varIsSelected, -1)
		orderSequence.SetCoefficient(d.varOrderNumber, -1)
	}
}

// setObjectiveCoefficient applies the cost to every order-assignment slot,
// weighted by the branching factor raised to the number of later positions
// (early positions weigh more when that factor exceeds 1, less below 1), and
// runs the staleness bookkeeping against the previously recorded cost.
func (d *Directional) setObjectiveCoefficient(cost float64) {
	p := d.parent.planner
	exp := len(p.edges) - 1
	for i := 0; i < len(p.edges); i++ {
		p.model.SetObjectiveCoefficient(d.varOrderAssignment[i], cost*pow(p.branchingFactor, exp))
		exp--
	}
	p.totalCostNext += cost
	if d.costLastRecorded > 0 &&
		cost/d.costLastRecorded >= objectiveVariableCostMaxChange &&
		cost/p.totalCostLastRecorded >= objectiveVariableToPlannerCostMinChange {
		p.setOutOfDate()
	}
	d.costNext = cost
}

func (d *Directional) recordCost() {
	d.costLastRecorded = d.costNext
}

func (d *Directional) recordResults() {
	m := d.parent.planner.model
	d.valueIsSelected = m.Value(d.varIsSelected) > 0.5
	d.valueOrderNumber = int(m.Value(d.varOrderNumber) + 0.5)
}

func (d *Directional) resetInitialValue() {
	d.initOrder = 0
	d.hasInit = false
}

func (d *Directional) setInitialValue(order int) {
	d.initOrder = order
	d.hasInit = true
	d.from.initHasOutgoing = true
	d.to.initHasIncoming = true
}

func (d *Directional) recordInitial(vars *[]solver.VarID, values *[]float64) {
	selected := 0.0
	if d.initOrder > 0 {
		selected = 1.0
	}
	*vars = append(*vars, d.varIsSelected, d.varOrderNumber)
	*values = append(*values, selected, float64(d.initOrder))
	for i := range d.varOrderAssignment {
		val := 0.0
		if d.initOrder == i+1 {
			val = 1.0
		}
		*vars = append(*vars, d.varOrderAssignment[i])
		*values = append(*values, val)
	}
}

// updateObjective recomputes the directional's cost from the schema
// statistics. The formulas mirror the expansion factor of executing the
// edge in this direction.
func (d *Directional) updateObjective(mgr *graph.Manager) {
	schema := mgr.Schema()
	st := schema.Stats()
	se := d.parent.se

	var cost float64
	switch se.Kind {
	case structure.EdgeEqual:
		cost = 0

	case structure.EdgePredicate:
		fromTypes := d.fromProps().Types
		toTypes := d.toProps().Types
		if se.Op == pattern.OpEQ {
			switch {
			case len(toTypes) > 0:
				cost = float64(len(toTypes))
			case len(fromTypes) > 0:
				cost = float64(st.AttTypesWithValueKindComparableTo(schema, schema.ResolveLabels(fromTypes)))
			default:
				cost = float64(st.AttributeTypeCount(schema))
			}
		} else {
			switch {
			case len(toTypes) > 0:
				cost = float64(st.InstancesSum(schema.ResolveLabels(toTypes)))
			case len(fromTypes) > 0:
				cost = float64(st.InstancesSum(schema.ResolveLabels(fromTypes)))
			default:
				cost = float64(st.InstancesTransitive(schema.RootAttributeType()))
			}
		}

	case structure.EdgeNative:
		cost = d.nativeCost(mgr)
	}
	d.setObjectiveCoefficient(cost)
}

func (d *Directional) fromProps() *structure.Vertex { return d.from.sv }
func (d *Directional) toProps() *structure.Vertex   { return d.to.sv }

func (d *Directional) nativeCost(mgr *graph.Manager) float64 {
	schema := mgr.Schema()
	st := schema.Stats()
	se := d.parent.se

	switch se.Native {
	case structure.NativeIsa, structure.NativeSub:
		if d.isForward {
			if !se.Transitive {
				return 1
			}
			if labels := d.toProps().Labels; len(labels) > 0 {
				return float64(st.SubTypesDepth(schema.ResolveLabels(labels)))
			}
			return float64(st.SubTypesDepth([]*graph.TypeVertex{schema.RootThingType()}))
		}
		if se.Native == structure.NativeSub {
			switch {
			case len(d.toProps().Labels) > 0:
				return float64(len(d.toProps().Labels))
			case len(d.fromProps().Labels) > 0:
				return st.SubTypesMean(schema.ResolveLabels(d.fromProps().Labels), se.Transitive)
			default:
				return st.SubTypesMean(schema.ThingTypes(), se.Transitive)
			}
		}
		// Isa backward: from type to instances.
		instanceCost := func(types []*graph.TypeVertex) float64 {
			if se.Transitive {
				return float64(st.InstancesTransitiveMax(types))
			}
			return float64(st.InstancesMax(types))
		}
		switch {
		case len(d.toProps().Types) > 0:
			return instanceCost(schema.ResolveLabels(d.toProps().Types))
		case len(d.fromProps().Labels) > 0:
			return instanceCost(schema.ResolveLabels(d.fromProps().Labels))
		default:
			return instanceCost(schema.ThingTypes())
		}

	case structure.NativeOwns, structure.NativeOwnsKey:
		isKey := se.Native == structure.NativeOwnsKey
		if d.isForward {
			switch {
			case len(d.toProps().Labels) > 0:
				return float64(len(d.toProps().Labels))
			case len(d.fromProps().Labels) > 0:
				return st.OutOwnsMean(schema.ResolveLabels(d.fromProps().Labels), isKey)
			default:
				return st.OutOwnsMean(schema.EntityTypes(), isKey)
			}
		}
		switch {
		case len(d.toProps().Labels) > 0:
			return float64(st.SubTypesSum(schema.ResolveLabels(d.toProps().Labels), true))
		case len(d.fromProps().Labels) > 0:
			return st.InOwnsMean(schema, schema.ResolveLabels(d.fromProps().Labels), isKey) *
				st.SubTypesMean(schema.EntityTypes(), true)
		default:
			return st.InOwnsMean(schema, schema.AttributeTypes(), isKey) *
				st.SubTypesMean(schema.EntityTypes(), true)
		}

	case structure.NativePlays:
		if d.isForward {
			switch {
			case len(d.toProps().Labels) > 0:
				return float64(len(d.toProps().Labels))
			case len(d.fromProps().Labels) > 0:
				return st.OutPlaysMean(schema.ResolveLabels(d.fromProps().Labels))
			default:
				return st.OutPlaysMean(schema.EntityTypes())
			}
		}
		switch {
		case len(d.toProps().Labels) > 0:
			return float64(st.SubTypesSum(schema.ResolveLabels(d.toProps().Labels), true))
		case len(d.fromProps().Labels) > 0:
			return st.InPlaysMean(schema, schema.ResolveLabels(d.fromProps().Labels)) *
				st.SubTypesMean(schema.EntityTypes(), true)
		default:
			return st.InPlaysMean(schema, schema.AttributeTypes()) *
				st.SubTypesMean(schema.EntityTypes(), true)
		}

	case structure.NativeRelates:
		if d.isForward {
			switch {
			case len(d.toProps().Labels) > 0:
				return float64(len(d.toProps().Labels))
			case len(d.fromProps().Labels) > 0:
				return st.OutRelates(schema.ResolveLabels(d.fromProps().Labels))
			default:
				return st.OutRelates(schema.RelationTypes())
			}
		}
		switch {
		case len(d.toProps().Labels) > 0:
			return st.SubTypesMean(schema.ResolveLabels(d.toProps().Labels), true)
		case len(d.fromProps().Labels) > 0:
			return st.SubTypesMean(scopeRelations(schema, d.fromProps().Labels), true)
		default:
			return st.SubTypesMean(schema.RelationTypes(), true)
		}

	case structure.NativeHas:
		return d.hasCost(mgr)

	case structure.NativePlaying:
		if !d.isForward {
			return 1
		}
		fromTypes := d.fromProps().Types
		toTypes := d.toProps().Types
		if len(fromTypes) > 0 && len(toTypes) > 0 {
			return safeDiv(
				float64(st.InstancesSum(schema.ResolveLabels(toTypes))),
				float64(st.InstancesSum(schema.ResolveLabels(fromTypes))))
		}
		return safeDiv(
			float64(st.InstancesTransitive(schema.RootRoleType())),
			float64(st.InstancesTransitive(schema.RootEntityType())))

	case structure.NativeRelating:
		if !d.isForward {
			return 1
		}
		if roleLabels := d.toProps().Types; len(roleLabels) > 0 {
			return roleRatio(schema, roleLabels)
		}
		return safeDiv(
			float64(st.InstancesTransitive(schema.RootRoleType())),
			float64(st.InstancesTransitive(schema.RootRelationType())))

	case structure.NativeRolePlayer:
		if d.isForward {
			if len(se.RoleTypes) > 0 {
				return roleRatio(schema, se.RoleTypes)
			}
			return safeDiv(
				float64(st.InstancesTransitive(schema.RootRoleType())),
				float64(st.InstancesTransitive(schema.RootRelationType())))
		}
		if len(se.RoleTypes) > 0 && len(d.fromProps().Types) > 0 {
			return safeDiv(
				float64(st.InstancesSum(schema.ResolveLabels(se.RoleTypes))),
				float64(st.InstancesSum(schema.ResolveLabels(d.fromProps().Types))))
		}
		return safeDiv(
			float64(st.InstancesTransitive(schema.RootRoleType())),
			float64(st.InstancesTransitive(schema.RootEntityType())))
	}
	return 1
}

// hasCost averages has-edge density over the relevant owner/attribute type
// pairs, mirroring the forward and backward formulas.
func (d *Directional) hasCost(mgr *graph.Manager) float64 {
	schema := mgr.Schema()
	st := schema.Stats()

	var ownerTypes, attrTypes []*graph.TypeVertex
	if d.isForward {
		ownerTypes = schema.ResolveLabels(d.fromProps().Types)
		attrTypes = schema.ResolveLabels(d.toProps().Types)
	} else {
		attrTypes = schema.ResolveLabels(d.fromProps().Types)
		ownerTypes = schema.ResolveLabels(d.toProps().Types)
	}

	ownerToAttrs := map[*graph.TypeVertex][]*graph.TypeVertex{}
	switch {
	case len(ownerTypes) > 0 && len(attrTypes) > 0:
		for _, o := range ownerTypes {
			ownerToAttrs[o] = attrTypes
		}
	case len(ownerTypes) > 0:
		for _, o := range ownerTypes {
			ownerToAttrs[o] = o.Owns()
		}
	case len(attrTypes) > 0:
		for _, a := range attrTypes {
			for _, o := range schema.OwnersOfAttributeType(a) {
				ownerToAttrs[o] = append(ownerToAttrs[o], a)
			}
		}
	default:
		ownerToAttrs[schema.RootEntityType()] = []*graph.TypeVertex{schema.RootAttributeType()}
	}
	if len(ownerToAttrs) == 0 {
		return 1
	}

	cost := 0.0
	if d.isForward {
		for owner, attrs := range ownerToAttrs {
			cost += safeDiv(
				float64(st.CountHasEdges(owner.Subtypes(), attrs)),
				float64(st.InstancesTransitive(owner)))
		}
	} else {
		for owner, attrs := range ownerToAttrs {
			for _, attr := range attrs {
				cost += safeDiv(
					float64(st.CountHasEdges(owner.Subtypes(), []*graph.TypeVertex{attr})),
					float64(st.InstancesTransitive(attr)))
			}
		}
	}
	return cost / float64(len(ownerToAttrs))
}

// roleRatio averages, over a set of role-type labels, the ratio of role
// instances to their scoping relation's instances.
func roleRatio(schema *graph.SchemaGraph, roleLabels []graph.Label) float64 {
	st := schema.Stats()
	cost := 0.0
	count := 0
	for _, l := range roleLabels {
		role := schema.GetType(l)
		if role == nil {
			continue
		}
		scope := role.Relation()
		if scope == nil {
			continue
		}
		cost += safeDiv(float64(st.InstancesCount(role)), float64(st.InstancesCount(scope)))
		count++
	}
	if count == 0 {
		return 1
	}
	return cost / float64(count)
}

// scopeRelations resolves role-type labels to their scoping relation
// types.
func scopeRelations(schema *graph.SchemaGraph, roleLabels []graph.Label) []*graph.TypeVertex {
	var out []*graph.TypeVertex
	for _, l := range roleLabels {
		if l.IsScoped() {
			if rel := schema.GetType(graph.NewLabel(l.Scope)); rel != nil {
				out = append(out, rel)
			}
		}
	}
	return out
}

func safeDiv(a, b float64) float64 {
	if b < 1 {
		b = 1
	}
	return a / b
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
