// Package reasoner rewrites pattern queries over the stored graph into
// traversals that also see rule-derived facts. Rule conclusions are
// materialised inside the transaction by iterating rule application to
// fixpoint, with memoisation per goal and a completeness cache; the outer
// query then runs as a plain traversal over the closed graph.
package reasoner

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"toposdb/src/encoding"
	"toposdb/src/graph"
	"toposdb/src/kgerr"
	"toposdb/src/logic"
	"toposdb/src/pattern"
	"toposdb/src/procedure"
	"toposdb/src/settings"
	"toposdb/src/traversal"
)

// Reasoner wraps the traversal engine with rule resolution.
type Reasoner struct {
	engine *traversal.Engine
	logic  *logic.Manager
	logger *zap.SugaredLogger
	args   *settings.Arguments
}

// New builds a reasoner over the traversal engine and rule manager.
func New(engine *traversal.Engine, logicMgr *logic.Manager, logger *zap.SugaredLogger, args *settings.Arguments) *Reasoner {
	return &Reasoner{engine: engine, logic: logicMgr, logger: logger, args: args}
}

// Match streams the answers of a conjunction. With infer set, rules are
// resolved to fixpoint first, so the traversal also returns derived
// answers; inference only ever adds answers.
func (r *Reasoner) Match(ctx context.Context, conj *pattern.Conjunction, infer bool) procedure.AnswerIterator {
	if infer {
		if err := r.resolveToFixpoint(ctx, conj); err != nil {
			return procedure.NewErrorIterator(err)
		}
	}
	return r.engine.Match(ctx, conj, false)
}

// triggeredRules computes the closure of rules whose heads unify with a
// concludable of the query, or with a body concludable of an already
// triggered rule.
func (r *Reasoner) triggeredRules(conj *pattern.Conjunction) []*logic.Rule {
	goals := logic.ConjunctionConcludables(conj)
	triggered := map[string]*logic.Rule{}

	for {
		added := false
		for _, rule := range r.logic.Rules() {
			if _, ok := triggered[rule.Label()]; ok {
				continue
			}
			heads := rule.ThenConcludables()
			match := false
			for _, goal := range goals {
				for _, head := range heads {
					if _, ok := logic.Unify(goal, head); ok {
						match = true
						break
					}
				}
				if match {
					break
				}
			}
			if match {
				triggered[rule.Label()] = rule
				goals = append(goals, rule.WhenConcludables()...)
				added = true
			}
		}
		if !added {
			break
		}
	}

	out := make([]*logic.Rule, 0, len(triggered))
	for _, rule := range r.logic.Rules() {
		if _, ok := triggered[rule.Label()]; ok {
			out = append(out, rule)
		}
	}
	return out
}

// goalEntry is one tabled sub-goal: the body answers of a rule under one
// statistics snapshot. Open goals short-circuit recursive descent; once
// complete, repeated requests serve the cached answers.
type goalEntry struct {
	open     bool
	complete bool
	answers  []procedure.Answer
}

type resolution struct {
	reasoner *Reasoner
	ctx      context.Context
	table    map[string]*goalEntry
	produced int
}

// resolveToFixpoint applies every triggered rule until a full pass derives
// nothing new, bounded by the configured reasoning budget.
func (r *Reasoner) resolveToFixpoint(ctx context.Context, conj *pattern.Conjunction) error {
	rules := r.triggeredRules(conj)
	if len(rules) == 0 {
		return nil
	}
	res := &resolution{reasoner: r, ctx: ctx, table: make(map[string]*goalEntry)}

	budget := r.args.ReasoningBudget
	if budget <= 0 {
		budget = 1
	}
	for pass := 0; ; pass++ {
		if pass >= budget {
			return kgerr.Of(kgerr.ErrReasoningBudgetExceeded, "%d passes", pass)
		}
		produced := 0
		for _, rule := range rules {
			n, err := res.applyRule(rule)
			if err != nil {
				return err
			}
			produced += n
		}
		r.logger.Debugw("reasoning pass finished", "pass", pass, "produced", produced)
		if produced == 0 {
			return nil
		}
	}
}

// applyRule enumerates the rule body and materialises its head for every
// answer, returning how many new facts were created.
func (res *resolution) applyRule(rule *logic.Rule) (int, error) {
	answers, err := res.bodyAnswers(rule)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, answer := range answers {
		n, err := res.materialiseHead(rule, answer)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// bodyAnswers evaluates the rule body through the goal table. The key
// includes the statistics snapshot so cached enumerations expire when the
// graph grows.
func (res *resolution) bodyAnswers(rule *logic.Rule) ([]procedure.Answer, error) {
	mgr := res.reasoner.engine.Manager()
	key := rule.Label() + "@" + strconv.FormatUint(mgr.Schema().Stats().Snapshot(), 10)
	entry, ok := res.table[key]
	if ok {
		if entry.open {
			// Recursive re-entry: serve the partial answer set instead of
			// descending again.
			return entry.answers, nil
		}
		if entry.complete {
			return entry.answers, nil
		}
	}
	entry = &goalEntry{open: true}
	res.table[key] = entry

	body := pattern.CopyConjunction(rule.When())
	it := res.reasoner.engine.Match(res.ctx, body, false)
	answers, err := procedure.Collect(it)
	if err != nil {
		entry.open = false
		return nil, err
	}
	entry.answers = answers
	entry.open = false
	entry.complete = true
	return answers, nil
}

// materialiseHead applies the head's insertion shape under one body
// answer. Materialisation is idempotent: attributes are content-addressed
// upserts, has edges are checked before writing, and relation heads are
// deduplicated against existing relations with identical players.
func (res *resolution) materialiseHead(rule *logic.Rule, answer procedure.Answer) (int, error) {
	mgr := res.reasoner.engine.Manager()
	data, schema := mgr.Data(), mgr.Schema()

	switch rule.HeadKind() {
	case logic.HeadHas:
		owner := boundThing(answer, rule.HeadVar().Reference())
		if owner == nil {
			return 0, nil
		}
		has := rule.HeadVar().Has[0]
		attr, err := res.resolveAttribute(has.Attribute, answer)
		if err != nil || attr == nil {
			return 0, err
		}
		exists, err := data.EdgeExists(owner, encoding.InfixHas, attr)
		if err != nil || exists {
			return 0, err
		}
		if err := data.PutHas(owner, attr); err != nil {
			return 0, err
		}
		return 1, nil

	case logic.HeadRelation:
		relType, err := schema.MustGetType(rule.HeadVar().Isa.Type.Label.Label)
		if err != nil {
			return 0, err
		}
		type rolePlayer struct {
			role   *graph.TypeVertex
			player *graph.Thing
		}
		var players []rolePlayer
		for _, p := range rule.HeadVar().Relation.Players {
			player := boundThing(answer, p.Player.Reference())
			if player == nil {
				return 0, nil
			}
			if p.RoleType == nil || p.RoleType.Label == nil {
				return 0, kgerr.Of(kgerr.ErrUnifierConstruction, "rule %q has an untyped role", rule.Label())
			}
			role, err := schema.MustGetType(p.RoleType.Label.Label)
			if err != nil {
				return 0, err
			}
			players = append(players, rolePlayer{role: role, player: player})
		}

		exists, err := res.relationExists(relType, func(rel *graph.Thing) (bool, error) {
			for _, rp := range players {
				ok, err := data.RolePlayerEdgeExists(rel, rp.player, rp.role)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		})
		if err != nil || exists {
			return 0, err
		}

		rel, err := data.CreateRelation(relType)
		if err != nil {
			return 0, err
		}
		for _, rp := range players {
			if err := data.AddRolePlayer(rel, rp.role, rp.player); err != nil {
				return 0, err
			}
		}
		return 1, nil

	case logic.HeadIsa:
		// Only attribute-producing isa heads materialise: attributes are
		// content-addressed, so the upsert is naturally idempotent.
		isa := rule.HeadVar().Isa
		t, err := schema.MustGetType(isa.Type.Label.Label)
		if err != nil {
			return 0, err
		}
		if !t.IsAttributeType() {
			return 0, nil
		}
		value, ok := constantValueOf(rule.HeadVar())
		if !ok {
			return 0, nil
		}
		existing, err := data.GetAttribute(t, value)
		if err != nil || existing != nil {
			return 0, err
		}
		if _, err := data.PutAttribute(t, value); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return 0, nil
}

// relationExists scans instances of the relation type for one satisfying
// the predicate.
func (res *resolution) relationExists(relType *graph.TypeVertex, pred func(*graph.Thing) (bool, error)) (bool, error) {
	data := res.reasoner.engine.Manager().Data()
	found := false
	err := data.IterateInstances(relType, true, func(rel *graph.Thing) (bool, error) {
		ok, err := pred(rel)
		if err != nil {
			return false, err
		}
		if ok {
			found = true
			return false, nil
		}
		return true, nil
	})
	return found, err
}

// resolveAttribute materialises the attribute a head refers to: a bound
// variable, or an anonymous typed constant upserted by value.
func (res *resolution) resolveAttribute(attrVar *pattern.ThingVariable, answer procedure.Answer) (*graph.Thing, error) {
	mgr := res.reasoner.engine.Manager()
	if bound := boundThing(answer, attrVar.Reference()); bound != nil {
		return bound, nil
	}
	if attrVar.Isa == nil || attrVar.Isa.Type.Label == nil {
		return nil, nil
	}
	t, err := mgr.Schema().MustGetType(attrVar.Isa.Type.Label.Label)
	if err != nil {
		return nil, err
	}
	value, ok := constantValueOf(attrVar)
	if !ok {
		return nil, nil
	}
	return mgr.Data().PutAttribute(t, value)
}

// constantValueOf extracts the pinned constant of an attribute variable,
// following one level of value-variable indirection from head expansion.
func constantValueOf(v *pattern.ThingVariable) (encoding.Value, bool) {
	for _, val := range v.Values {
		if val.Op != pattern.OpEQ {
			continue
		}
		if val.Variable == nil {
			return val.Value, true
		}
		for _, inner := range val.Variable.Values {
			if inner.Op == pattern.OpEQ && inner.Variable == nil {
				return inner.Value, true
			}
		}
	}
	return encoding.Value{}, false
}

func boundThing(answer procedure.Answer, ref pattern.Reference) *graph.Thing {
	concept, ok := answer[ref.Key()]
	if !ok || !concept.IsThing() {
		return nil
	}
	return concept.AsThing()
}
