package query

import (
	"context"

	"toposdb/src/encoding"
	"toposdb/src/graph"
	"toposdb/src/kgerr"
	"toposdb/src/pattern"
	"toposdb/src/procedure"
)

// Dispatcher routes parsed queries to the execution layers, enforcing
// session and transaction kinds before anything runs.
type Dispatcher struct {
	txn *Transaction
	db  *Database
}

// Match streams answers lazily, through the reasoner when inference is
// enabled. Answers are projected onto named variables; anonymous and
// system variables are elided.
func (d *Dispatcher) Match(ctx context.Context, q MatchQuery, opts Options) procedure.AnswerIterator {
	if err := d.txn.checkOpen(); err != nil {
		return procedure.NewErrorIterator(err)
	}
	parallel := d.db.args.Parallel
	d.db.args.Parallel = parallel || opts.Parallel
	defer func() { d.db.args.Parallel = parallel }()

	inner := d.db.reasoner.Match(ctx, q.Pattern, opts.Infer)
	return projectNamed(inner, q.Filter)
}

// MatchAggregate computes a numeric aggregate over the matched answers.
func (d *Dispatcher) MatchAggregate(ctx context.Context, q AggregateQuery, opts Options) (float64, error) {
	answers, err := procedure.Collect(d.Match(ctx, q.Match, opts))
	if err != nil {
		return 0, err
	}
	if q.Method == AggregateCount {
		return float64(len(answers)), nil
	}

	var values []float64
	for _, a := range answers {
		concept, ok := a["$"+q.Variable]
		if !ok || !concept.IsThing() || !concept.AsThing().IsAttribute() {
			continue
		}
		v := concept.AsThing().Value()
		if v.Kind != encoding.ValueLong && v.Kind != encoding.ValueDouble {
			continue
		}
		values = append(values, numericOf(v))
	}
	if len(values) == 0 {
		return 0, nil
	}
	switch q.Method {
	case AggregateSum:
		total := 0.0
		for _, v := range values {
			total += v
		}
		return total, nil
	case AggregateMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil
	case AggregateMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil
	case AggregateMean:
		total := 0.0
		for _, v := range values {
			total += v
		}
		return total / float64(len(values)), nil
	}
	return 0, kgerr.Of(kgerr.ErrUnrecognisedValue, "aggregate method %d", q.Method)
}

// MatchGroup buckets answers by one named variable.
func (d *Dispatcher) MatchGroup(ctx context.Context, q GroupQuery, opts Options) (map[string][]procedure.Answer, error) {
	answers, err := procedure.Collect(d.Match(ctx, q.Match, opts))
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]procedure.Answer)
	for _, a := range answers {
		owner, ok := a["$"+q.By]
		if !ok {
			continue
		}
		key := conceptGroupKey(owner)
		groups[key] = append(groups[key], a)
	}
	return groups, nil
}

// Insert materialises the insert variables, once per matched answer when a
// when-clause is present.
func (d *Dispatcher) Insert(ctx context.Context, q InsertQuery, opts Options) ([]procedure.Answer, error) {
	if err := d.txn.checkDataWrite(); err != nil {
		return nil, err
	}
	registry, err := pattern.NewRegistryFromThings(q.Variables)
	if err != nil {
		return nil, err
	}

	var matches []procedure.Answer
	if q.Match != nil {
		matches, err = procedure.Collect(d.Match(ctx, *q.Match, opts))
		if err != nil {
			return nil, err
		}
	} else {
		matches = []procedure.Answer{{}}
	}

	var out []procedure.Answer
	for _, matched := range matches {
		op := newInsertOperation(d.db.mgr, matched, registry.Things())
		answer, err := op.execute()
		if err != nil {
			return nil, err
		}
		out = append(out, answer)
	}
	return out, nil
}

// Delete matches then removes the delete variables' bindings.
func (d *Dispatcher) Delete(ctx context.Context, q DeleteQuery, opts Options) error {
	if err := d.txn.checkDataWrite(); err != nil {
		return err
	}
	if _, err := pattern.NewRegistryFromThings(q.Variables); err != nil {
		return err
	}
	matches, err := procedure.Collect(d.Match(ctx, q.Match, opts))
	if err != nil {
		return err
	}
	for _, matched := range matches {
		if err := deleteOperation(d.db.mgr, matched, q.Variables); err != nil {
			return err
		}
	}
	return nil
}

// Update is delete-then-insert over each matched answer.
func (d *Dispatcher) Update(ctx context.Context, q UpdateQuery, opts Options) ([]procedure.Answer, error) {
	if err := d.txn.checkDataWrite(); err != nil {
		return nil, err
	}
	insertRegistry, err := pattern.NewRegistryFromThings(q.Inserts)
	if err != nil {
		return nil, err
	}
	if _, err := pattern.NewRegistryFromThings(q.Deletes); err != nil {
		return nil, err
	}

	matches, err := procedure.Collect(d.Match(ctx, q.Match, opts))
	if err != nil {
		return nil, err
	}
	var out []procedure.Answer
	for _, matched := range matches {
		if err := deleteOperation(d.db.mgr, matched, q.Deletes); err != nil {
			return nil, err
		}
		op := newInsertOperation(d.db.mgr, matched, insertRegistry.Things())
		answer, err := op.execute()
		if err != nil {
			return nil, err
		}
		out = append(out, answer)
	}
	return out, nil
}

// Define declares types and rules in a schema transaction.
func (d *Dispatcher) Define(ctx context.Context, q DefineQuery) error {
	if err := d.txn.checkSchemaWrite(); err != nil {
		return err
	}
	schema := d.db.mgr.Schema()

	// Two passes: create the type vertices, then wire edges so forward
	// references between definitions resolve.
	for _, def := range q.Types {
		if schema.GetType(graph.NewLabel(def.Label)) != nil {
			continue
		}
		var err error
		switch def.Kind {
		case DefEntityType:
			_, err = schema.PutEntityType(def.Label)
		case DefRelationType:
			_, err = schema.PutRelationType(def.Label)
		case DefAttributeType:
			_, err = schema.PutAttributeType(def.Label, def.ValueKind)
		}
		if err != nil {
			return err
		}
	}
	for _, def := range q.Types {
		t, err := schema.MustGetType(graph.NewLabel(def.Label))
		if err != nil {
			return err
		}
		for _, roleName := range def.Relates {
			if _, err := schema.SetRelates(t, roleName); err != nil {
				return err
			}
		}
	}
	for _, def := range q.Types {
		t, err := schema.MustGetType(graph.NewLabel(def.Label))
		if err != nil {
			return err
		}
		if def.Sub != "" {
			parent, err := schema.MustGetType(graph.NewLabel(def.Sub))
			if err != nil {
				return err
			}
			if err := schema.SetSub(t, parent); err != nil {
				return err
			}
		}
		for _, owns := range def.Owns {
			attr, err := schema.MustGetType(graph.NewLabel(owns.Attribute))
			if err != nil {
				return err
			}
			if err := schema.SetOwns(t, attr, owns.IsKey); err != nil {
				return err
			}
		}
		for _, plays := range def.Plays {
			role, err := schema.MustGetType(parseScopedLabel(plays))
			if err != nil {
				return err
			}
			if err := schema.SetPlays(t, role); err != nil {
				return err
			}
		}
	}
	for _, ruleDef := range q.Rules {
		if _, err := d.db.logicMgr.PutRule(ruleDef.Label, ruleDef.When, ruleDef.Then); err != nil {
			return err
		}
	}
	return nil
}

// Undefine removes rules and types in a schema transaction.
func (d *Dispatcher) Undefine(ctx context.Context, q UndefineQuery) error {
	if err := d.txn.checkSchemaWrite(); err != nil {
		return err
	}
	for _, label := range q.Rules {
		if err := d.db.logicMgr.DeleteRule(label); err != nil {
			return err
		}
	}
	for _, label := range q.Types {
		if err := d.db.mgr.Schema().DeleteType(parseScopedLabel(label)); err != nil {
			return err
		}
	}
	return nil
}

func parseScopedLabel(s string) graph.Label {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return graph.NewScopedLabel(s[:i], s[i+1:])
		}
	}
	return graph.NewLabel(s)
}

func numericOf(v encoding.Value) float64 {
	if v.Kind == encoding.ValueLong {
		return float64(v.Long)
	}
	return v.Double
}

// projectNamed elides anonymous and system variables from answers,
// optionally restricting to an explicit filter.
func projectNamed(inner procedure.AnswerIterator, filter []string) procedure.AnswerIterator {
	allowed := map[string]bool{}
	for _, name := range filter {
		allowed["$"+name] = true
	}
	return &projectIterator{inner: inner, allowed: allowed}
}

type projectIterator struct {
	inner   procedure.AnswerIterator
	allowed map[string]bool
}

func (it *projectIterator) Next() (procedure.Answer, bool, error) {
	answer, done, err := it.inner.Next()
	if err != nil || done {
		return nil, true, err
	}
	projected := procedure.Answer{}
	for key, concept := range answer {
		if len(key) < 2 || key[0] != '$' {
			continue
		}
		if key[1] == '_' {
			continue // anonymous
		}
		if len(it.allowed) > 0 && !it.allowed[key] {
			continue
		}
		projected[key] = concept
	}
	return projected, false, nil
}

func (it *projectIterator) Close() { it.inner.Close() }

func conceptGroupKey(c graph.Concept) string {
	if c.IsThing() {
		return string(c.AsThing().IID())
	}
	return c.AsType().Label().Scoped()
}
