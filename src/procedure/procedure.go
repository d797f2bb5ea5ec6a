// Package procedure holds the ordered traversal plan the planner emits and
// the depth-first executor that streams its answers.
package procedure

import (
	"strings"

	"toposdb/src/graph"
	"toposdb/src/kgerr"
	"toposdb/src/pattern"
	"toposdb/src/structure"
)

// Vertex is one planned variable.
type Vertex struct {
	ID      int
	Ref     pattern.Reference
	IsThing bool
	IsStart bool

	// Local property filters carried over from the structure.
	Props *structure.Vertex
}

// Edge is one planned transition. From is always the bound side when the
// edge executes; Forward records which direction of the structure edge is
// being walked.
type Edge struct {
	Order   int
	From    *Vertex
	To      *Vertex
	Forward bool

	Kind       structure.EdgeKind
	Native     structure.NativeKind
	Op         pattern.PredicateOp
	Transitive bool
	RoleTypes  []graph.Label // role-player edges: allowed role types
}

// Procedure is an ordered edge-walk plan with one designated start vertex.
// Invariant: every edge's source is the start vertex or the target of an
// earlier edge, and every vertex appears exactly once as a target (the
// start vertex never does).
type Procedure struct {
	start    *Vertex
	vertices []*Vertex
	edges    []*Edge
}

// Builder accumulates a procedure while validating its ordering invariant.
type Builder struct {
	proc  *Procedure
	bound map[string]bool
}

// NewBuilder starts a procedure at the given structure vertex.
func NewBuilder(start *structure.Vertex) *Builder {
	v := &Vertex{ID: 0, Ref: start.Ref, IsThing: start.IsThing, IsStart: true, Props: start}
	b := &Builder{
		proc:  &Procedure{start: v, vertices: []*Vertex{v}},
		bound: map[string]bool{start.Ref.Key(): true},
	}
	return b
}

// AddEdge appends a structure edge walked in the given direction.
func (b *Builder) AddEdge(e *structure.Edge, forward bool) error {
	fromSV, toSV := e.From, e.To
	if !forward {
		fromSV, toSV = toSV, fromSV
	}
	if !b.bound[fromSV.Ref.Key()] {
		return kgerr.Of(kgerr.ErrIllegalState,
			"edge source %s is not bound by any earlier edge", fromSV.Ref)
	}
	from := b.proc.vertexOf(fromSV)
	to := b.proc.vertexOf(toSV)
	b.bound[toSV.Ref.Key()] = true
	edge := &Edge{
		Order:      len(b.proc.edges) + 1,
		From:       from,
		To:         to,
		Forward:    forward,
		Kind:       e.Kind,
		Native:     e.Native,
		Op:         e.Op,
		Transitive: e.Transitive,
		RoleTypes:  e.RoleTypes,
	}
	b.proc.edges = append(b.proc.edges, edge)
	return nil
}

// Build finalises the procedure.
func (b *Builder) Build() *Procedure { return b.proc }

func (p *Procedure) vertexOf(sv *structure.Vertex) *Vertex {
	for _, v := range p.vertices {
		if v.Ref.Key() == sv.Ref.Key() {
			return v
		}
	}
	v := &Vertex{ID: len(p.vertices), Ref: sv.Ref, IsThing: sv.IsThing, Props: sv}
	p.vertices = append(p.vertices, v)
	return v
}

// Start returns the designated starting vertex.
func (p *Procedure) Start() *Vertex { return p.start }

// Vertices returns all planned vertices, start first.
func (p *Procedure) Vertices() []*Vertex { return p.vertices }

// Edges returns the planned edges in walk order.
func (p *Procedure) Edges() []*Edge { return p.edges }

// EdgeOrder renders the plan compactly, used to compare plans in tests and
// debug logs.
func (p *Procedure) EdgeOrder() string {
	var parts []string
	for _, e := range p.edges {
		dir := ">"
		if !e.Forward {
			dir = "<"
		}
		parts = append(parts, e.From.Ref.Key()+dir+e.To.Ref.Key())
	}
	return strings.Join(parts, " ")
}

func (e *Edge) String() string {
	dir := "forward"
	if !e.Forward {
		dir = "backward"
	}
	return e.From.Ref.Key() + "->" + e.To.Ref.Key() + "(" + dir + ")"
}
