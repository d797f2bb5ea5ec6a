// Package planner formulates traversal ordering as a mixed-integer program
// and emits an ordered procedure. Each structure edge contributes two
// directional candidates; the program selects one direction per edge and a
// total order such that the walk is connected, covers every vertex, and
// minimises the estimated expansion cost.
package planner

import (
	"fmt"

	"toposdb/src/graph"
	"toposdb/src/solver"
	"toposdb/src/structure"
)

// Vertex is the planner's view of one structure vertex.
type Vertex struct {
	planner *GraphPlanner
	sv      *structure.Vertex

	varIsStarting  solver.VarID
	varIsEnding    solver.VarID
	varHasIncoming solver.VarID
	varHasOutgoing solver.VarID

	outs []*Directional
	ins  []*Directional

	costLastRecorded float64
	costNext         float64

	// Solution values.
	isStarting bool
	isEnding   bool

	// Warm-start values.
	initStarting    bool
	initEnding      bool
	initHasIncoming bool
	initHasOutgoing bool
}

func newVertex(p *GraphPlanner, sv *structure.Vertex) *Vertex {
	return &Vertex{planner: p, sv: sv, costLastRecorded: initialCost}
}

func (v *Vertex) Structure() *structure.Vertex { return v.sv }

func (v *Vertex) initialiseVariables() {
	prefix := fmt.Sprintf("vertex::var::%s::", v.sv.Ref.Key())
	m := v.planner.model
	v.varIsStarting = m.IntVar(0, 1, prefix+"is_starting_vertex")
	v.varIsEnding = m.IntVar(0, 1, prefix+"is_ending_vertex")
	v.varHasIncoming = m.IntVar(0, 1, prefix+"has_incoming_edges")
	v.varHasOutgoing = m.IntVar(0, 1, prefix+"has_outgoing_edges")
}

// initialiseConstraints encodes vertex flow: every vertex is the start or
// has an incoming selected edge, and is an endpoint or has an outgoing
// selected edge. Together with the edge constraints this forces the
// selected edges to cover every vertex.
func (v *Vertex) initialiseConstraints() {
	prefix := fmt.Sprintf("vertex::con::%s::", v.sv.Ref.Key())
	m := v.planner.model

	startOrIncoming := m.AddConstraint(1, 1, prefix+"starting_or_incoming")
	startOrIncoming.SetCoefficient(v.varIsStarting, 1)
	startOrIncoming.SetCoefficient(v.varHasIncoming, 1)

	endingOrOutgoing := m.AddConstraint(1, 1, prefix+"ending_or_outgoing")
	endingOrOutgoing.SetCoefficient(v.varIsEnding, 1)
	endingOrOutgoing.SetCoefficient(v.varHasOutgoing, 1)

	// The flow flags hold only while selected edges back them; a
	// self-closure does not count as incoming.
	incoming := m.AddConstraint(0, float64(len(v.ins)), prefix+"incoming_selected")
	incoming.SetCoefficient(v.varHasIncoming, -1)
	for _, d := range v.ins {
		if !d.parent.isSelfClosure() {
			incoming.SetCoefficient(d.varIsSelected, 1)
		}
	}
	outgoing := m.AddConstraint(0, float64(len(v.outs)), prefix+"outgoing_selected")
	outgoing.SetCoefficient(v.varHasOutgoing, -1)
	for _, d := range v.outs {
		outgoing.SetCoefficient(d.varIsSelected, 1)
	}
}

// updateObjective estimates the vertex's candidate-set size, used to pick
// the warm start's cheapest starting vertex.
func (v *Vertex) updateObjective(mgr *graph.Manager) {
	schema := mgr.Schema()
	st := schema.Stats()
	if v.sv.IsThing {
		switch {
		case v.sv.IID != nil:
			v.costNext = 1
		case len(v.sv.Types) > 0:
			v.costNext = float64(st.InstancesSum(schema.ResolveLabels(v.sv.Types)))
		default:
			v.costNext = float64(st.InstancesTransitive(schema.RootThingType()))
		}
	} else {
		if len(v.sv.Labels) > 0 {
			v.costNext = float64(len(v.sv.Labels))
		} else {
			v.costNext = float64(len(schema.ThingTypes()))
		}
	}
	if v.costNext < initialCost {
		v.costNext = initialCost
	}
}

func (v *Vertex) recordCost() {
	v.costLastRecorded = v.costNext
}

func (v *Vertex) recordResults() {
	m := v.planner.model
	v.isStarting = m.Value(v.varIsStarting) > 0.5
	v.isEnding = m.Value(v.varIsEnding) > 0.5
}

func (v *Vertex) resetInitialValues() {
	v.initStarting, v.initEnding = false, false
	v.initHasIncoming, v.initHasOutgoing = false, false
}

func (v *Vertex) recordInitial(vars *[]solver.VarID, values *[]float64) {
	push := func(id solver.VarID, set bool) {
		val := 0.0
		if set {
			val = 1.0
		}
		*vars = append(*vars, id)
		*values = append(*values, val)
	}
	push(v.varIsStarting, v.initStarting)
	push(v.varIsEnding, v.initEnding)
	push(v.varHasIncoming, v.initHasIncoming)
	push(v.varHasOutgoing, v.initHasOutgoing)
}

func (v *Vertex) String() string { return v.sv.Ref.Key() }
