// Package structure projects a pattern conjunction onto a graph: one
// vertex per variable, one edge per inter-variable constraint. The
// projection is the traversal planner's input.
package structure

import (
	"sort"
	"strings"

	"toposdb/src/encoding"
	"toposdb/src/graph"
	"toposdb/src/pattern"
)

// EdgeKind discriminates structure edges.
type EdgeKind int

const (
	// EdgeEqual asserts variable identity.
	EdgeEqual EdgeKind = iota
	// EdgePredicate compares the values of two thing variables.
	EdgePredicate
	// EdgeNative walks a stored graph edge.
	EdgeNative
)

// NativeKind discriminates native edges.
type NativeKind int

const (
	NativeIsa NativeKind = iota
	NativeSub
	NativeOwns
	NativeOwnsKey
	NativePlays
	NativeRelates
	NativeHas
	NativePlaying
	NativeRelating
	NativeRolePlayer
)

func (k NativeKind) String() string {
	switch k {
	case NativeIsa:
		return "isa"
	case NativeSub:
		return "sub"
	case NativeOwns:
		return "owns"
	case NativeOwnsKey:
		return "owns-key"
	case NativePlays:
		return "plays"
	case NativeRelates:
		return "relates"
	case NativeHas:
		return "has"
	case NativePlaying:
		return "playing"
	case NativeRelating:
		return "relating"
	case NativeRolePlayer:
		return "role-player"
	}
	return "?"
}

// Vertex is the projection of one variable.
type Vertex struct {
	ID      int
	Ref     pattern.Reference
	IsThing bool

	// Local property filters.
	Types      []graph.Label              // thing: allowed concrete types
	Labels     []graph.Label              // type: pinned labels
	IID        encoding.ThingIID          // thing: pinned vertex
	Predicates []*pattern.ValueConstraint // thing: constant value predicates

	Outs []*Edge
	Ins  []*Edge
}

// Edge is the projection of one inter-variable constraint.
type Edge struct {
	Kind       EdgeKind
	Native     NativeKind
	From       *Vertex
	To         *Vertex
	Op         pattern.PredicateOp // predicate edges
	Transitive bool                // isa and sub edges
	RoleTypes  []graph.Label       // role-player edges
}

func (e *Edge) String() string {
	kind := "equal"
	switch e.Kind {
	case EdgePredicate:
		kind = "predicate(" + e.Op.String() + ")"
	case EdgeNative:
		kind = e.Native.String()
	}
	return e.From.Ref.Key() + "-[" + kind + "]->" + e.To.Ref.Key()
}

// Structure is the full projection of a conjunction.
type Structure struct {
	vertices  map[string]*Vertex
	order     []*Vertex
	edges     []*Edge
	projected map[string]bool
}

// Vertices returns the vertices in registration order.
func (s *Structure) Vertices() []*Vertex { return s.order }

// Edges returns the edges in registration order.
func (s *Structure) Edges() []*Edge { return s.edges }

func (s *Structure) vertex(ref pattern.Reference, isThing bool) *Vertex {
	key := ref.Key()
	if v, ok := s.vertices[key]; ok {
		return v
	}
	v := &Vertex{ID: len(s.order), Ref: ref, IsThing: isThing}
	s.vertices[key] = v
	s.order = append(s.order, v)
	return v
}

func (s *Structure) addEdge(e *Edge) {
	s.edges = append(s.edges, e)
	e.From.Outs = append(e.From.Outs, e)
	e.To.Ins = append(e.To.Ins, e)
}

// Of projects a conjunction. Type hints must already be computed on the
// pattern; the projection copies them onto vertex property sets.
func Of(conj *pattern.Conjunction) *Structure {
	s := &Structure{vertices: make(map[string]*Vertex), projected: make(map[string]bool)}

	for _, v := range conj.Variables() {
		if v.IsThing() {
			s.projectThing(v.AsThing())
		} else {
			s.projectType(v.AsType())
		}
	}
	return s
}

func (s *Structure) projectThing(v *pattern.ThingVariable) {
	vertex := s.vertex(v.Reference(), true)

	if v.IID != nil {
		vertex.IID = v.IID.IID
	}
	if v.Isa != nil {
		vertex.Types = append(vertex.Types, v.Isa.Hints...)
		typeVertex := s.vertex(v.Isa.Type.Reference(), false)
		s.projectType(v.Isa.Type)
		s.addEdge(&Edge{
			Kind:       EdgeNative,
			Native:     NativeIsa,
			From:       vertex,
			To:         typeVertex,
			Transitive: !v.Isa.Explicit,
		})
	}
	for _, h := range v.Has {
		s.addEdge(&Edge{
			Kind:   EdgeNative,
			Native: NativeHas,
			From:   vertex,
			To:     s.vertex(h.Attribute.Reference(), true),
		})
	}
	if v.Relation != nil {
		relationLabel := isaLabelOf(v)
		for _, p := range v.Relation.Players {
			edge := &Edge{
				Kind:   EdgeNative,
				Native: NativeRolePlayer,
				From:   vertex,
				To:     s.vertex(p.Player.Reference(), true),
			}
			edge.RoleTypes = append(edge.RoleTypes, p.RoleTypeHints...)
			if len(edge.RoleTypes) == 0 && p.RoleType != nil && p.RoleType.Label != nil {
				label := p.RoleType.Label.Label
				if !label.IsScoped() && relationLabel != "" {
					label = graph.NewScopedLabel(relationLabel, label.Name)
				}
				edge.RoleTypes = append(edge.RoleTypes, label)
			}
			s.addEdge(edge)
		}
	}
	for _, val := range v.Values {
		if val.Variable != nil {
			s.addEdge(&Edge{
				Kind: EdgePredicate,
				From: vertex,
				To:   s.vertex(val.Variable.Reference(), true),
				Op:   val.Op,
			})
		} else {
			vertex.Predicates = append(vertex.Predicates, val)
		}
	}
	for _, is := range v.Is {
		s.addEdge(&Edge{
			Kind: EdgeEqual,
			From: vertex,
			To:   s.vertex(is.Other.Reference(), true),
		})
	}
}

func isaLabelOf(v *pattern.ThingVariable) string {
	if v.Isa != nil && v.Isa.Type.Label != nil {
		return v.Isa.Type.Label.Label.Name
	}
	return ""
}

func (s *Structure) projectType(v *pattern.TypeVariable) {
	if s.projected[v.Reference().Key()] {
		return
	}
	s.projected[v.Reference().Key()] = true
	vertex := s.vertex(v.Reference(), false)

	if v.Label != nil {
		vertex.Labels = []graph.Label{v.Label.Label}
	}
	if v.Sub != nil {
		vertex.Labels = append(vertex.Labels, v.Sub.Hints...)
		s.addEdge(&Edge{
			Kind:       EdgeNative,
			Native:     NativeSub,
			From:       vertex,
			To:         s.vertex(v.Sub.Type.Reference(), false),
			Transitive: !v.Sub.Explicit,
		})
	}
	for _, o := range v.Owns {
		kind := NativeOwns
		if o.IsKey {
			kind = NativeOwnsKey
		}
		s.addEdge(&Edge{
			Kind:   EdgeNative,
			Native: kind,
			From:   vertex,
			To:     s.vertex(o.Attribute.Reference(), false),
		})
	}
	for _, p := range v.Plays {
		s.addEdge(&Edge{
			Kind:   EdgeNative,
			Native: NativePlays,
			From:   vertex,
			To:     s.vertex(p.Role.Reference(), false),
		})
	}
	for _, r := range v.Relates {
		s.addEdge(&Edge{
			Kind:   EdgeNative,
			Native: NativeRelates,
			From:   vertex,
			To:     s.vertex(r.Role.Reference(), false),
		})
	}
}

// Components splits the structure into connected components, each a
// standalone structure.
func (s *Structure) Components() []*Structure {
	assigned := make(map[int]int)
	var find func(v *Vertex, component int)
	find = func(v *Vertex, component int) {
		if _, ok := assigned[v.ID]; ok {
			return
		}
		assigned[v.ID] = component
		for _, e := range v.Outs {
			find(e.To, component)
		}
		for _, e := range v.Ins {
			find(e.From, component)
		}
	}
	count := 0
	for _, v := range s.order {
		if _, ok := assigned[v.ID]; !ok {
			find(v, count)
			count++
		}
	}
	if count <= 1 {
		return []*Structure{s}
	}

	parts := make([]*Structure, count)
	for i := range parts {
		parts[i] = &Structure{vertices: make(map[string]*Vertex), projected: make(map[string]bool)}
	}
	for _, v := range s.order {
		part := parts[assigned[v.ID]]
		nv := part.vertex(v.Ref, v.IsThing)
		nv.Types, nv.Labels, nv.IID, nv.Predicates = v.Types, v.Labels, v.IID, v.Predicates
	}
	for _, e := range s.edges {
		part := parts[assigned[e.From.ID]]
		ne := *e
		ne.From = part.vertices[e.From.Ref.Key()]
		ne.To = part.vertices[e.To.Ref.Key()]
		part.addEdge(&ne)
	}
	return parts
}

// Signature renders a canonical description of the structure, used as the
// plan-cache key: two conjunctions with the same shape share a planner.
func (s *Structure) Signature() string {
	var parts []string
	for _, v := range s.order {
		var props []string
		for _, l := range v.Types {
			props = append(props, "t:"+l.Scoped())
		}
		for _, l := range v.Labels {
			props = append(props, "l:"+l.Scoped())
		}
		if v.IID != nil {
			props = append(props, "iid:"+v.IID.String())
		}
		for _, p := range v.Predicates {
			props = append(props, "p:"+p.Op.String()+p.Value.String())
		}
		sort.Strings(props)
		parts = append(parts, v.Ref.Key()+"["+strings.Join(props, ",")+"]")
	}
	for _, e := range s.edges {
		desc := e.String()
		for _, rt := range e.RoleTypes {
			desc += "@" + rt.Scoped()
		}
		if e.Transitive {
			desc += "*"
		}
		parts = append(parts, desc)
	}
	return strings.Join(parts, ";")
}
