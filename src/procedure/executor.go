package procedure

import (
	"context"

	"toposdb/src/encoding"
	"toposdb/src/graph"
	"toposdb/src/kgerr"
	"toposdb/src/structure"
)

// Iterator runs the procedure against the graph and streams its answers
// depth-first. Candidates for each vertex are materialised per step; the
// answer stream itself is lazy and checks ctx at every yield.
func (p *Procedure) Iterator(ctx context.Context, mgr *graph.Manager) AnswerIterator {
	return &executor{ctx: ctx, proc: p, mgr: mgr, partitions: 1}
}

// PartitionedIterator runs the procedure over the part-th of total
// disjoint partitions of the start vertex's candidates, enabling parallel
// producers to fan out without overlap.
func (p *Procedure) PartitionedIterator(ctx context.Context, mgr *graph.Manager, part, total int) AnswerIterator {
	return &executor{ctx: ctx, proc: p, mgr: mgr, partition: part, partitions: total}
}

type executor struct {
	ctx        context.Context
	proc       *Procedure
	mgr        *graph.Manager
	partition  int
	partitions int

	// Depth-first state: frame 0 holds start-vertex candidates, frame i>0
	// the candidates of edge i-1's target.
	frames  [][]graph.Concept
	cursors []int
	answer  Answer
	started bool
	closed  bool
}

func (e *executor) Close() { e.closed = true }

func (e *executor) Next() (Answer, bool, error) {
	if e.closed {
		return nil, true, nil
	}
	if err := e.ctx.Err(); err != nil {
		e.closed = true
		return nil, true, err
	}
	if !e.started {
		e.started = true
		if err := e.start(); err != nil {
			e.closed = true
			return nil, true, err
		}
	} else {
		e.advance()
	}
	for {
		complete, err := e.descend()
		if err != nil {
			e.closed = true
			return nil, true, err
		}
		if complete {
			return e.answer.Copy(), false, nil
		}
		if len(e.frames) == 0 {
			e.closed = true
			return nil, true, nil
		}
		e.advance()
	}
}

func (e *executor) start() error {
	candidates, err := e.startCandidates()
	if err != nil {
		return err
	}
	if e.partitions > 1 {
		var mine []graph.Concept
		for i, c := range candidates {
			if i%e.partitions == e.partition {
				mine = append(mine, c)
			}
		}
		candidates = mine
	}
	e.frames = [][]graph.Concept{candidates}
	e.cursors = []int{0}
	e.answer = Answer{}
	return nil
}

// advance moves the deepest cursor forward, popping exhausted frames.
func (e *executor) advance() {
	for len(e.frames) > 0 {
		depth := len(e.frames) - 1
		e.cursors[depth]++
		if e.cursors[depth] < len(e.frames[depth]) {
			return
		}
		e.frames = e.frames[:depth]
		e.cursors = e.cursors[:depth]
	}
}

// descend binds the current candidates downward until every edge is
// satisfied (returns true) or a frame has no candidates (returns false
// with the state positioned for advance).
func (e *executor) descend() (bool, error) {
	if len(e.frames) == 0 {
		return false, nil
	}
	// Rebind the answer along the current cursor path.
	e.answer = Answer{}
	if e.cursors[0] >= len(e.frames[0]) {
		return false, nil
	}
	e.answer[e.proc.start.Ref.Key()] = e.frames[0][e.cursors[0]]
	for i := 1; i < len(e.frames); i++ {
		e.answer[e.proc.edges[i-1].To.Ref.Key()] = e.frames[i][e.cursors[i]]
	}

	for len(e.frames) <= len(e.proc.edges) {
		if err := e.ctx.Err(); err != nil {
			return false, err
		}
		edge := e.proc.edges[len(e.frames)-1]
		candidates, err := e.edgeCandidates(edge)
		if err != nil {
			return false, err
		}
		if len(candidates) == 0 {
			return false, nil
		}
		e.frames = append(e.frames, candidates)
		e.cursors = append(e.cursors, 0)
		e.answer[edge.To.Ref.Key()] = candidates[0]
	}
	return true, nil
}

// startCandidates materialises the start vertex's candidate set from its
// local properties.
func (e *executor) startCandidates() ([]graph.Concept, error) {
	v := e.proc.start
	if v.IsThing {
		return e.thingCandidates(v.Props)
	}
	return e.typeCandidates(v.Props), nil
}

func (e *executor) thingCandidates(props *structure.Vertex) ([]graph.Concept, error) {
	data, schema := e.mgr.Data(), e.mgr.Schema()
	if props.IID != nil {
		thing, err := data.GetThing(props.IID)
		if err != nil || thing == nil {
			return nil, err
		}
		if !e.thingMatchesProps(thing, props) {
			return nil, nil
		}
		return []graph.Concept{thing}, nil
	}

	var types []*graph.TypeVertex
	if len(props.Types) > 0 {
		types = schema.ResolveLabels(props.Types)
	} else {
		for _, t := range schema.ThingTypes() {
			if !t.IsAbstract() {
				types = append(types, t)
			}
		}
	}
	var out []graph.Concept
	for _, t := range types {
		err := data.IterateInstances(t, false, func(thing *graph.Thing) (bool, error) {
			if e.thingMatchesProps(thing, props) {
				out = append(out, thing)
			}
			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *executor) typeCandidates(props *structure.Vertex) []graph.Concept {
	schema := e.mgr.Schema()
	var out []graph.Concept
	if len(props.Labels) > 0 {
		for _, t := range schema.ResolveLabels(props.Labels) {
			out = append(out, t)
		}
		return out
	}
	for _, t := range schema.ThingTypes() {
		out = append(out, t)
	}
	for _, t := range schema.RootRoleType().Subtypes() {
		out = append(out, t)
	}
	return out
}

func (e *executor) thingMatchesProps(thing *graph.Thing, props *structure.Vertex) bool {
	if len(props.Types) > 0 {
		match := false
		for _, l := range props.Types {
			if thing.Type().Label() == l {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	for _, p := range props.Predicates {
		if !thing.IsAttribute() || !p.Op.Test(thing.Value().Compare(p.Value)) {
			return false
		}
	}
	return true
}

// edgeCandidates produces the target bindings of an edge given the bound
// source, intersected with the target's local properties. When the target
// is already bound the edge acts as a filter.
func (e *executor) edgeCandidates(edge *Edge) ([]graph.Concept, error) {
	source, ok := e.answer[edge.From.Ref.Key()]
	if !ok {
		return nil, kgerr.Of(kgerr.ErrIllegalState, "edge %s executed with unbound source", edge)
	}
	candidates, err := e.produce(edge, source)
	if err != nil {
		return nil, err
	}

	var out []graph.Concept
	seen := map[string]bool{}
	bound, isBound := e.answer[edge.To.Ref.Key()]
	for _, c := range candidates {
		if !e.matchesTarget(c, edge.To) {
			continue
		}
		key := conceptKey(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		if isBound {
			if key == conceptKey(bound) {
				out = append(out, c)
			}
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func conceptKey(c graph.Concept) string {
	if c.IsThing() {
		return "t" + string(c.AsThing().IID())
	}
	return "T" + string(c.AsType().IID())
}

func (e *executor) matchesTarget(c graph.Concept, target *Vertex) bool {
	props := target.Props
	if c.IsThing() {
		if !target.IsThing {
			return false
		}
		if props.IID != nil && string(props.IID) != string(c.AsThing().IID()) {
			return false
		}
		return e.thingMatchesProps(c.AsThing(), props)
	}
	if target.IsThing {
		return false
	}
	if len(props.Labels) > 0 {
		for _, l := range props.Labels {
			if c.AsType().Label() == l {
				return true
			}
		}
		return false
	}
	return true
}

func (e *executor) produce(edge *Edge, source graph.Concept) ([]graph.Concept, error) {
	switch edge.Kind {
	case structure.EdgeEqual:
		return []graph.Concept{source}, nil
	case structure.EdgePredicate:
		return e.producePredicate(edge, source)
	case structure.EdgeNative:
		return e.produceNative(edge, source)
	}
	return nil, kgerr.Of(kgerr.ErrUnrecognisedValue, "edge kind %d", edge.Kind)
}

func (e *executor) producePredicate(edge *Edge, source graph.Concept) ([]graph.Concept, error) {
	if !source.IsThing() || !source.AsThing().IsAttribute() {
		return nil, nil
	}
	value := source.AsThing().Value()
	op := edge.Op
	if !edge.Forward {
		op = op.Flip()
	}
	// Cross product over the target's candidate attributes filtered by the
	// comparison.
	candidates, err := e.thingCandidates(edge.To.Props)
	if err != nil {
		return nil, err
	}
	var out []graph.Concept
	for _, c := range candidates {
		if c.AsThing().IsAttribute() && op.Test(value.Compare(c.AsThing().Value())) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *executor) produceNative(edge *Edge, source graph.Concept) ([]graph.Concept, error) {
	data, schema := e.mgr.Data(), e.mgr.Schema()
	switch edge.Native {
	case structure.NativeIsa:
		if edge.Forward {
			// Thing to its type, plus supertypes when transitive.
			t := source.AsThing().Type()
			out := []graph.Concept{t}
			if edge.Transitive {
				for cur := t.Parent(); cur != nil; cur = cur.Parent() {
					out = append(out, cur)
				}
			}
			return out, nil
		}
		// Type to its instances: a range scan per subtype.
		var out []graph.Concept
		err := data.IterateInstances(source.AsType(), edge.Transitive, func(thing *graph.Thing) (bool, error) {
			out = append(out, thing)
			return true, nil
		})
		return out, err

	case structure.NativeSub:
		if edge.Forward {
			t := source.AsType()
			var out []graph.Concept
			if edge.Transitive {
				for cur := t; cur != nil; cur = cur.Parent() {
					out = append(out, cur)
				}
			} else if t.Parent() != nil {
				out = append(out, t.Parent())
			}
			return out, nil
		}
		var out []graph.Concept
		if edge.Transitive {
			for _, s := range source.AsType().Subtypes() {
				out = append(out, s)
			}
		} else {
			for _, s := range source.AsType().Children() {
				out = append(out, s)
			}
		}
		return out, nil

	case structure.NativeOwns, structure.NativeOwnsKey:
		keyOnly := edge.Native == structure.NativeOwnsKey
		if edge.Forward {
			var out []graph.Concept
			for _, attr := range source.AsType().Owns() {
				if !keyOnly || source.AsType().OwnsKey(attr) {
					out = append(out, attr)
				}
			}
			return out, nil
		}
		var out []graph.Concept
		for _, owner := range schema.OwnersOfAttributeType(source.AsType()) {
			if !keyOnly || owner.OwnsKey(source.AsType()) {
				out = append(out, owner)
			}
		}
		return out, nil

	case structure.NativePlays:
		if edge.Forward {
			var out []graph.Concept
			for _, role := range source.AsType().Plays() {
				out = append(out, role)
			}
			return out, nil
		}
		var out []graph.Concept
		for _, t := range schema.ThingTypes() {
			for _, role := range t.Plays() {
				if role == source.AsType() {
					out = append(out, t)
					break
				}
			}
		}
		return out, nil

	case structure.NativeRelates:
		if edge.Forward {
			var out []graph.Concept
			for _, role := range source.AsType().Relates() {
				out = append(out, role)
			}
			return out, nil
		}
		if rel := source.AsType().Relation(); rel != nil {
			return []graph.Concept{rel}, nil
		}
		return nil, nil

	case structure.NativeHas:
		return e.scanEdges(source.AsThing(), encoding.InfixHas, edge.Forward, nil)

	case structure.NativePlaying:
		return e.scanEdges(source.AsThing(), encoding.InfixPlaying, edge.Forward, nil)

	case structure.NativeRelating:
		return e.scanEdges(source.AsThing(), encoding.InfixRelating, edge.Forward, nil)

	case structure.NativeRolePlayer:
		var allowed map[string]bool
		if len(edge.RoleTypes) > 0 {
			allowed = map[string]bool{}
			for _, l := range edge.RoleTypes {
				if t := schema.GetType(l); t != nil {
					for _, s := range t.Subtypes() {
						allowed[string(s.IID())] = true
					}
				}
			}
		}
		candidates, err := e.scanEdges(source.AsThing(), encoding.InfixRolePlayer, edge.Forward, allowed)
		if err != nil {
			return nil, err
		}
		return e.consumeSiblingBindings(edge, candidates), nil
	}
	return nil, kgerr.Of(kgerr.ErrUnrecognisedValue, "native edge %s", edge.Native)
}

// consumeSiblingBindings enforces edge-disjointness between the role
// players of one relation variable: each stored role-player edge binds at
// most one player variable, so a vertex playing a role once cannot answer
// for two players.
func (e *executor) consumeSiblingBindings(edge *Edge, candidates []graph.Concept) []graph.Concept {
	relKey := edge.From.Ref.Key()
	if !edge.Forward {
		relKey = edge.To.Ref.Key()
	}
	consumed := map[string]int{}
	for _, other := range e.proc.edges {
		if other == edge || other.Order >= edge.Order {
			continue
		}
		if other.Kind != structure.EdgeNative || other.Native != structure.NativeRolePlayer {
			continue
		}
		otherRel, otherPlayer := other.From, other.To
		if !other.Forward {
			otherRel, otherPlayer = other.To, other.From
		}
		if otherRel.Ref.Key() != relKey {
			continue
		}
		if bound, ok := e.answer[otherPlayer.Ref.Key()]; ok && bound.IsThing() {
			consumed[string(bound.AsThing().IID())]++
		}
	}
	if len(consumed) == 0 {
		return candidates
	}
	var out []graph.Concept
	for _, c := range candidates {
		key := string(c.AsThing().IID())
		if !edge.Forward && key == string(e.answer[relKey].AsThing().IID()) {
			key = string(e.answer[edge.From.Ref.Key()].AsThing().IID())
		}
		if consumed[key] > 0 {
			consumed[key]--
			continue
		}
		out = append(out, c)
	}
	return out
}

// scanEdges walks the stored edges of one kind from source, forward over
// the out-infix or backward over the in-infix, optionally filtering
// role-player edges by allowed role types.
func (e *executor) scanEdges(source *graph.Thing, infix encoding.Infix, forward bool, allowedRoles map[string]bool) ([]graph.Concept, error) {
	data := e.mgr.Data()
	if !forward {
		infix = infix.In()
	}
	var out []graph.Concept
	err := data.IterateEdges(source, infix, func(edgeIID encoding.ThingEdgeIID) (bool, error) {
		if allowedRoles != nil && !allowedRoles[string(edgeIID.RoleType())] {
			return true, nil
		}
		thing, err := data.GetThing(edgeIID.Target())
		if err != nil {
			return false, err
		}
		if thing != nil {
			out = append(out, thing)
		}
		return true, nil
	})
	return out, err
}
