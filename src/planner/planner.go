package planner

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"toposdb/src/graph"
	"toposdb/src/kgerr"
	"toposdb/src/procedure"
	"toposdb/src/solver"
	"toposdb/src/structure"
)

const (
	defaultTimeLimit = 100 * time.Millisecond
	higherTimeLimit  = 200 * time.Millisecond

	objectiveCoefficientMaxExponentDefault  = 3.0
	objectivePlannerCostMaxChange           = 0.2
	objectiveVariableCostMaxChange          = 2.0
	objectiveVariableToPlannerCostMinChange = 0.02

	initialCost = 0.01 // non-zero for safe division
)

// Planner turns a structure into a procedure and re-optimises when the
// statistics drift past the staleness thresholds.
type Planner interface {
	Optimise(mgr *graph.Manager, extraTime bool) error
	Procedure() *procedure.Procedure
	IsOptimal() bool
}

// New builds the appropriate planner for a structure: a trivial one for a
// single vertex, the MIP planner otherwise.
func New(s *structure.Structure, logger *zap.SugaredLogger) Planner {
	if len(s.Vertices()) == 1 {
		return &VertexPlanner{sv: s.Vertices()[0]}
	}
	return newGraphPlanner(s, logger)
}

// VertexPlanner plans a single-vertex structure without touching the
// solver.
type VertexPlanner struct {
	sv   *structure.Vertex
	once sync.Once
	proc *procedure.Procedure
}

func (p *VertexPlanner) Optimise(*graph.Manager, bool) error {
	p.once.Do(func() {
		p.proc = procedure.NewBuilder(p.sv).Build()
	})
	return nil
}

func (p *VertexPlanner) Procedure() *procedure.Procedure { return p.proc }
func (p *VertexPlanner) IsOptimal() bool                 { return true }

// GraphPlanner owns the MIP model for one structure. It is a per-structure
// singleton: concurrent optimisers serialise, and readers block on the
// procedure latch until the first solve publishes.
type GraphPlanner struct {
	logger *zap.SugaredLogger
	model  *solver.Model

	vertices map[string]*Vertex
	order    []*Vertex
	edges    []*Edge

	mu         sync.Mutex
	optimiseMu sync.Mutex
	ready      chan struct{}
	readyOnce  sync.Once
	proc       *procedure.Procedure

	status        solver.Status
	isUpToDate    bool
	snapshot      uint64
	hasSnapshot   bool
	totalDuration time.Duration

	totalCostLastRecorded float64
	totalCostNext         float64
	branchingFactor       float64
	costExponentUnit      float64
}

func newGraphPlanner(s *structure.Structure, logger *zap.SugaredLogger) *GraphPlanner {
	p := &GraphPlanner{
		logger:                logger,
		model:                 solver.NewModel(),
		vertices:              make(map[string]*Vertex),
		ready:                 make(chan struct{}),
		status:                solver.NotSolved,
		totalCostLastRecorded: initialCost,
		totalCostNext:         initialCost,
		branchingFactor:       initialCost,
		costExponentUnit:      0.1,
	}
	for _, sv := range s.Vertices() {
		v := newVertex(p, sv)
		p.vertices[sv.Ref.Key()] = v
		p.order = append(p.order, v)
	}
	for _, se := range s.Edges() {
		from := p.vertices[se.From.Ref.Key()]
		to := p.vertices[se.To.Ref.Key()]
		p.edges = append(p.edges, newEdge(p, se, from, to))
	}
	p.initialise()
	return p
}

func (p *GraphPlanner) initialise() {
	for _, v := range p.order {
		v.initialiseVariables()
	}
	for _, e := range p.edges {
		e.initialiseVariables()
	}
	for _, v := range p.order {
		v.initialiseConstraints()
	}
	oneStart := p.model.AddConstraint(1, 1, "planner_vertex_con_one_starting_vertex")
	for _, v := range p.order {
		oneStart.SetCoefficient(v.varIsStarting, 1)
	}
	for _, e := range p.edges {
		e.initialiseConstraints()
	}
	for i := range p.edges {
		oneEdgeAtOrder := p.model.AddConstraint(1, 1, "planner_edge_con_one_edge_at_order_"+strconv.Itoa(i+1))
		for _, e := range p.edges {
			oneEdgeAtOrder.SetCoefficient(e.forward.varOrderAssignment[i], 1)
			oneEdgeAtOrder.SetCoefficient(e.backward.varOrderAssignment[i], 1)
		}
	}
}

func (p *GraphPlanner) setOutOfDate() { p.isUpToDate = false }

// IsOptimal reports whether the cached plan came from an exhausted search.
func (p *GraphPlanner) IsOptimal() bool { return p.status == solver.Optimal }

// Procedure blocks until a procedure has been published.
func (p *GraphPlanner) Procedure() *procedure.Procedure {
	<-p.ready
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proc
}

// Optimise recomputes the objective against the current statistics and
// re-solves when the plan may have gone stale. Concurrent callers
// serialise: losers block until the winner has published a procedure and
// then reuse it via the snapshot check.
func (p *GraphPlanner) Optimise(mgr *graph.Manager, extraTime bool) error {
	p.optimiseMu.Lock()
	defer p.optimiseMu.Unlock()

	p.updateObjective(mgr)
	if p.isUpToDate && p.status.IsPlanned() {
		p.logger.Debugw("optimisation still up to date", "status", p.status.String())
		return nil
	}

	allocated := defaultTimeLimit
	if extraTime {
		allocated = higherTimeLimit
	}
	p.totalDuration += allocated

	start := time.Now()
	p.status = p.model.Solve(p.totalDuration)
	solverDuration := time.Since(start)

	if p.status.IsError() {
		p.logger.Errorw("planning failed", "status", p.status.String(), "model", p.model.ExportLP())
		return kgerr.Of(kgerr.ErrUnexpectedPlanningError, "solver status %s", p.status)
	}

	if err := p.createProcedure(); err != nil {
		return err
	}
	p.isUpToDate = true
	p.totalDuration -= allocated - solverDuration
	p.logger.Debugw("optimisation finished",
		"status", p.status.String(),
		"solver_duration", solverDuration,
		"edges", len(p.edges))
	return nil
}

// updateObjective recomputes edge costs when the statistics snapshot has
// advanced, marks the plan stale when the drift crosses the thresholds,
// and reseeds the solver hint.
func (p *GraphPlanner) updateObjective(mgr *graph.Manager) {
	stats := mgr.Schema().Stats()
	current := stats.Snapshot()
	if p.hasSnapshot && current == p.snapshot {
		return
	}
	p.snapshot = current
	p.hasSnapshot = true

	p.totalCostNext = 0.1
	p.setBranchingFactor(mgr)
	p.setCostExponentUnit(mgr)
	for _, v := range p.order {
		v.updateObjective(mgr)
	}
	for _, e := range p.edges {
		e.updateObjective(mgr)
	}

	if p.totalCostNext/p.totalCostLastRecorded >= 1+objectivePlannerCostMaxChange {
		p.setOutOfDate()
	}
	if !p.isUpToDate {
		p.totalCostLastRecorded = p.totalCostNext
		for _, v := range p.order {
			v.recordCost()
		}
		for _, e := range p.edges {
			e.recordCost()
		}
		p.seedInitialValues()
	}
}

func (p *GraphPlanner) setBranchingFactor(mgr *graph.Manager) {
	stats := mgr.Schema().Stats()
	entities := float64(stats.InstancesTransitive(mgr.Schema().RootEntityType()))
	roles := float64(stats.InstancesTransitive(mgr.Schema().RootRoleType()))
	if roles == 0 {
		roles = 1
	}
	if entities > 0 {
		p.branchingFactor = roles / entities
	}
}

func (p *GraphPlanner) setCostExponentUnit(mgr *graph.Manager) {
	stats := mgr.Schema().Stats()
	expUnit := (objectiveCoefficientMaxExponentDefault - 1) / float64(len(p.edges))
	if expUnit > 1.0 {
		expUnit = 1.0
	}
	expMaxInc := expUnit * float64(len(p.edges))
	expMax := 1 + expMaxInc
	things := float64(stats.InstancesTransitive(mgr.Schema().RootThingType()))
	maxCoefficient := math.Pow(things, expMax)
	if math.IsNaN(maxCoefficient) || math.IsInf(maxCoefficient, 0) || maxCoefficient > math.MaxInt64 {
		expMax = math.Log(math.MaxInt64) / math.Log(things)
		expMaxInc = expMax - 1
	}
	if expMaxInc > 0 {
		p.costExponentUnit = expMaxInc / float64(len(p.edges))
	}
}

// seedInitialValues greedily walks the structure from the cheapest vertex,
// ordering edges by ascending recorded cost, and hands the assignment to
// the solver as a warm start. Self-closure backward edges are skipped.
func (p *GraphPlanner) seedInitialValues() {
	for _, v := range p.order {
		v.resetInitialValues()
	}
	for _, e := range p.edges {
		e.resetInitialValues()
	}

	start := p.order[0]
	for _, v := range p.order[1:] {
		if v.costLastRecorded < start.costLastRecorded {
			start = v
		}
	}
	start.initStarting = true

	queue := []*Vertex{start}
	queued := map[*Vertex]bool{start: true}
	edgeCount := 0
	for len(queue) > 0 {
		vertex := queue[0]
		queue = queue[1:]

		var outgoing []*Directional
		for _, d := range vertex.outs {
			if d.hasInit || (d.parent.isSelfClosure() && !d.isForward) || d.parent.forward.hasInit || d.parent.backward.hasInit {
				continue
			}
			outgoing = append(outgoing, d)
		}
		sort.SliceStable(outgoing, func(i, j int) bool {
			return outgoing[i].costLastRecorded < outgoing[j].costLastRecorded
		})
		if len(outgoing) == 0 {
			vertex.initEnding = true
			continue
		}
		vertex.initHasOutgoing = true
		for _, d := range outgoing {
			edgeCount++
			d.setInitialValue(edgeCount)
			if !queued[d.to] {
				queued[d.to] = true
				queue = append(queue, d.to)
			}
		}
	}

	var vars []solver.VarID
	var values []float64
	for _, v := range p.order {
		v.recordInitial(&vars, &values)
	}
	for _, e := range p.edges {
		e.recordInitial(&vars, &values)
	}
	p.model.SetHint(vars, values)
}

// createProcedure extracts the ordered walk from the solution and
// publishes it through the latch.
func (p *GraphPlanner) createProcedure() error {
	for _, v := range p.order {
		v.recordResults()
	}
	for _, e := range p.edges {
		e.recordResults()
	}

	selected := make([]*Directional, 0, len(p.edges))
	for _, e := range p.edges {
		selected = append(selected, e.selected())
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].valueOrderNumber < selected[j].valueOrderNumber
	})

	var startVertex *Vertex
	for _, v := range p.order {
		if v.isStarting {
			startVertex = v
			break
		}
	}
	if startVertex == nil {
		startVertex = selected[0].from
	}

	builder := procedure.NewBuilder(startVertex.sv)
	for _, d := range selected {
		if err := builder.AddEdge(d.parent.se, d.isForward); err != nil {
			p.logger.Errorw("solution produced an invalid walk", "error", err)
			return kgerr.Wrap(kgerr.ErrUnexpectedPlanningError, err)
		}
	}

	p.mu.Lock()
	p.proc = builder.Build()
	p.mu.Unlock()
	p.readyOnce.Do(func() { close(p.ready) })
	return nil
}
