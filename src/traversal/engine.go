// Package traversal orchestrates query execution: it infers type hints,
// projects patterns onto structures, plans them (with per-structure plan
// caching), and runs the resulting procedures.
package traversal

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"toposdb/src/graph"
	"toposdb/src/pattern"
	"toposdb/src/planner"
	"toposdb/src/procedure"
	"toposdb/src/settings"
	"toposdb/src/structure"
)

// Engine executes pattern conjunctions against the graph.
type Engine struct {
	mgr    *graph.Manager
	logger *zap.SugaredLogger
	args   *settings.Arguments

	mu       sync.Mutex
	planners map[string]planner.Planner
}

// NewEngine builds a traversal engine over the graph manager.
func NewEngine(mgr *graph.Manager, logger *zap.SugaredLogger, args *settings.Arguments) *Engine {
	return &Engine{
		mgr:      mgr,
		logger:   logger,
		args:     args,
		planners: make(map[string]planner.Planner),
	}
}

// Manager exposes the underlying graph manager.
func (e *Engine) Manager() *graph.Manager { return e.mgr }

// Match streams the answers of a conjunction. extraTime grants the
// planner its extended solve budget.
func (e *Engine) Match(ctx context.Context, conj *pattern.Conjunction, extraTime bool) procedure.AnswerIterator {
	expanded := expandDisjunctions(conj)
	if len(expanded) == 1 {
		return e.matchConjunction(ctx, expanded[0], extraTime)
	}
	iterators := make([]procedure.AnswerIterator, 0, len(expanded))
	for _, branch := range expanded {
		iterators = append(iterators, e.matchConjunction(ctx, branch, extraTime))
	}
	return dedup(procedure.NewConcatIterator(iterators...))
}

func (e *Engine) matchConjunction(ctx context.Context, conj *pattern.Conjunction, extraTime bool) procedure.AnswerIterator {
	e.computeHints(conj)
	s := structure.Of(conj)
	if len(s.Vertices()) == 0 {
		return procedure.NewSliceIterator(nil)
	}

	components := s.Components()
	iterators := make([]procedure.AnswerIterator, 0, len(components))
	for i, comp := range components {
		pl := e.plannerFor(comp)
		if err := pl.Optimise(e.mgr, extraTime); err != nil {
			return procedure.NewErrorIterator(err)
		}
		proc := pl.Procedure()
		if e.args.Parallel && i == 0 && len(proc.Edges()) > 0 {
			iterators = append(iterators, e.parallelIterator(ctx, proc))
		} else {
			iterators = append(iterators, proc.Iterator(ctx, e.mgr))
		}
	}

	it := productIterator(iterators)
	if len(conj.Negations) > 0 {
		it = e.negationFilter(ctx, conj, it)
	}
	return it
}

// PlannerFor returns the cached planner for a conjunction's structure,
// used by tests and diagnostics.
func (e *Engine) PlannerFor(conj *pattern.Conjunction) planner.Planner {
	e.computeHints(conj)
	return e.plannerFor(structure.Of(conj))
}

func (e *Engine) plannerFor(s *structure.Structure) planner.Planner {
	key := s.Signature()
	e.mu.Lock()
	defer e.mu.Unlock()
	if pl, ok := e.planners[key]; ok {
		return pl
	}
	pl := planner.New(s, e.logger)
	e.planners[key] = pl
	return pl
}

// computeHints resolves the concrete type labels every typed variable may
// take, from the schema: isa hints are the subtree of the declared type,
// role-player hints the subtree of the declared role.
func (e *Engine) computeHints(conj *pattern.Conjunction) {
	schema := e.mgr.Schema()
	for _, v := range conj.ThingVariables() {
		if v.Isa != nil && len(v.Isa.Hints) == 0 && v.Isa.Type.Label != nil {
			if t := schema.GetType(v.Isa.Type.Label.Label); t != nil {
				v.Isa.AddHints(subtypeLabels(t, v.Isa.Explicit))
			}
		}
		if v.Relation != nil {
			relationScope := ""
			if v.Isa != nil && v.Isa.Type.Label != nil {
				relationScope = v.Isa.Type.Label.Label.Name
			}
			for i := range v.Relation.Players {
				p := &v.Relation.Players[i]
				if len(p.RoleTypeHints) > 0 || p.RoleType == nil || p.RoleType.Label == nil {
					continue
				}
				label := p.RoleType.Label.Label
				if !label.IsScoped() && relationScope != "" {
					label = graph.NewScopedLabel(relationScope, label.Name)
				}
				if role := schema.GetType(label); role != nil {
					p.RoleTypeHints = append(p.RoleTypeHints, subtypeLabels(role, false)...)
				}
			}
		}
	}
	for _, v := range conj.TypeVariables() {
		if v.Sub != nil && len(v.Sub.Hints) == 0 && v.Sub.Type.Label != nil {
			if t := schema.GetType(v.Sub.Type.Label.Label); t != nil {
				v.Sub.AddHints(subtypeLabels(t, v.Sub.Explicit))
			}
		}
	}
}

func subtypeLabels(t *graph.TypeVertex, explicit bool) []graph.Label {
	if explicit {
		return []graph.Label{t.Label()}
	}
	var out []graph.Label
	for _, s := range t.Subtypes() {
		if !s.IsAbstract() {
			out = append(out, s.Label())
		}
	}
	if len(out) == 0 {
		out = append(out, t.Label())
	}
	return out
}

// parallelIterator fans the traversal out over disjoint starting-vertex
// partitions and merges the answer streams without ordering guarantees.
func (e *Engine) parallelIterator(ctx context.Context, proc *procedure.Procedure) procedure.AnswerIterator {
	workers := runtime.GOMAXPROCS(0)
	if workers < 2 {
		return proc.Iterator(ctx, e.mgr)
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan procedure.MergedItem)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(part int) {
			defer wg.Done()
			it := proc.PartitionedIterator(ctx, e.mgr, part, workers)
			defer it.Close()
			for {
				answer, done, err := it.Next()
				if err != nil {
					select {
					case ch <- procedure.MergedItem{Err: err}:
					case <-ctx.Done():
					}
					return
				}
				if done {
					return
				}
				select {
				case ch <- procedure.MergedItem{Answer: answer}:
				case <-ctx.Done():
					return
				}
			}
		}(i)
	}
	go func() {
		wg.Wait()
		close(ch)
	}()
	return procedure.NewMergedIterator(ch, cancel)
}

// negationFilter drops answers for which any negated pattern matches
// under the answer's bindings.
func (e *Engine) negationFilter(ctx context.Context, conj *pattern.Conjunction, inner procedure.AnswerIterator) procedure.AnswerIterator {
	return &filterIterator{
		inner: inner,
		keep: func(answer procedure.Answer) (bool, error) {
			for _, negation := range conj.Negations {
				bound := bindAnswer(negation, answer)
				it := e.Match(ctx, bound, false)
				matched, done, err := it.Next()
				it.Close()
				if err != nil {
					return false, err
				}
				_ = matched
				if !done {
					return false, nil
				}
			}
			return true, nil
		},
	}
}

// bindAnswer pins the variables a negation shares with the outer answer
// to their bound concepts.
func bindAnswer(conj *pattern.Conjunction, answer procedure.Answer) *pattern.Conjunction {
	bound := pattern.CopyConjunction(conj)
	for _, v := range bound.ThingVariables() {
		if concept, ok := answer[v.Reference().Key()]; ok && concept.IsThing() && v.IID == nil {
			v.PutIID(concept.AsThing().IID())
		}
	}
	return bound
}

type filterIterator struct {
	inner procedure.AnswerIterator
	keep  func(procedure.Answer) (bool, error)
}

func (it *filterIterator) Next() (procedure.Answer, bool, error) {
	for {
		answer, done, err := it.inner.Next()
		if err != nil || done {
			return nil, true, err
		}
		ok, err := it.keep(answer)
		if err != nil {
			return nil, true, err
		}
		if ok {
			return answer, false, nil
		}
	}
}

func (it *filterIterator) Close() { it.inner.Close() }

// productIterator combines the answer streams of disjoint components into
// their cross product. The first component stays lazy; the rest are
// materialised.
func productIterator(iterators []procedure.AnswerIterator) procedure.AnswerIterator {
	if len(iterators) == 1 {
		return iterators[0]
	}
	rest := make([][]procedure.Answer, 0, len(iterators)-1)
	for _, it := range iterators[1:] {
		answers, err := procedure.Collect(it)
		if err != nil {
			iterators[0].Close()
			return procedure.NewErrorIterator(err)
		}
		rest = append(rest, answers)
	}
	return &productIter{first: iterators[0], rest: rest}
}

type productIter struct {
	first   procedure.AnswerIterator
	rest    [][]procedure.Answer
	current procedure.Answer
	indices []int
}

func (it *productIter) Next() (procedure.Answer, bool, error) {
	for {
		if it.current == nil {
			answer, done, err := it.first.Next()
			if err != nil || done {
				return nil, true, err
			}
			for _, r := range it.rest {
				if len(r) == 0 {
					return nil, true, nil
				}
			}
			it.current = answer
			it.indices = make([]int, len(it.rest))
		} else {
			// Advance the mixed-radix counter over the rest.
			pos := len(it.indices) - 1
			for pos >= 0 {
				it.indices[pos]++
				if it.indices[pos] < len(it.rest[pos]) {
					break
				}
				it.indices[pos] = 0
				pos--
			}
			if pos < 0 {
				it.current = nil
				continue
			}
		}
		combined := it.current.Copy()
		for i, idx := range it.indices {
			for k, v := range it.rest[i][idx] {
				combined[k] = v
			}
		}
		return combined, false, nil
	}
}

func (it *productIter) Close() { it.first.Close() }

// expandDisjunctions rewrites a conjunction with disjunctions into the
// cartesian product of its branches merged onto the base pattern.
func expandDisjunctions(conj *pattern.Conjunction) []*pattern.Conjunction {
	if len(conj.Disjunctions) == 0 {
		return []*pattern.Conjunction{conj}
	}
	base := pattern.CopyConjunction(conj)
	base.Disjunctions = nil

	expanded := []*pattern.Conjunction{base}
	for _, branches := range conj.Disjunctions {
		var next []*pattern.Conjunction
		for _, prefix := range expanded {
			for _, branch := range branches {
				merged := pattern.MergeConjunctions(prefix, branch)
				next = append(next, merged)
			}
		}
		expanded = next
	}
	return expanded
}

// dedup drops repeated answers from a merged stream.
func dedup(inner procedure.AnswerIterator) procedure.AnswerIterator {
	seen := map[string]bool{}
	return &filterIterator{
		inner: inner,
		keep: func(answer procedure.Answer) (bool, error) {
			key := answerKey(answer)
			if seen[key] {
				return false, nil
			}
			seen[key] = true
			return true, nil
		},
	}
}

func answerKey(answer procedure.Answer) string {
	keys := make([]string, 0, len(answer))
	for k := range answer {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		c := answer[k]
		if c.IsThing() {
			out += k + "=t" + string(c.AsThing().IID()) + ";"
		} else {
			out += k + "=T" + string(c.AsType().IID()) + ";"
		}
	}
	return out
}
