// Package logic holds rule definitions and the concludable machinery the
// reasoner matches rules against: what a rule head can produce, and which
// parts of a pattern could be produced by some rule.
package logic

import (
	"strconv"
	"sync"

	"go.uber.org/zap"

	"toposdb/src/encoding"
	"toposdb/src/graph"
	"toposdb/src/kgerr"
	"toposdb/src/kvstore"
	"toposdb/src/pattern"
)

// HeadKind is the shape of a rule's conclusion.
type HeadKind int

const (
	HeadIsa HeadKind = iota
	HeadHas
	HeadRelation
)

// Rule is a named when/then pair. The then side is stored expanded into
// its canonical conjunction.
type Rule struct {
	label    string
	when     *pattern.Conjunction
	then     *pattern.Conjunction
	headKind HeadKind
	headVar  *pattern.ThingVariable
}

func (r *Rule) Label() string                   { return r.label }
func (r *Rule) When() *pattern.Conjunction      { return r.when }
func (r *Rule) Then() *pattern.Conjunction      { return r.then }
func (r *Rule) HeadKind() HeadKind              { return r.headKind }
func (r *Rule) HeadVar() *pattern.ThingVariable { return r.headVar }

// WhenConcludables returns the body fragments other rules could satisfy.
func (r *Rule) WhenConcludables() []*Concludable {
	return ConjunctionConcludables(r.when)
}

// ThenConcludables returns the fragments the head can produce.
func (r *Rule) ThenConcludables() []*Concludable {
	return HeadConcludables(r.then)
}

// Manager loads and stores rules. Rules change only in schema
// transactions.
type Manager struct {
	store  kvstore.Store
	schema *graph.SchemaGraph
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	rules map[string]*Rule
}

// NewManager builds a rule manager over the store.
func NewManager(store kvstore.Store, schema *graph.SchemaGraph, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		store:  store,
		schema: schema,
		logger: logger,
		rules:  make(map[string]*Rule),
	}
}

// PutRule validates, expands and persists a rule. The then side must be a
// single thing variable carrying exactly one head constraint; anything
// else is rejected with ErrIllegalRuleHead.
func (m *Manager) PutRule(label string, when *pattern.Conjunction, then *pattern.ThingVariable) (*Rule, error) {
	kind, err := headKindOf(then)
	if err != nil {
		return nil, err
	}
	expanded, headVar, err := expandHead(then, kind)
	if err != nil {
		return nil, err
	}
	rule := &Rule{
		label: label,
		// Copying normalises the body: variables referenced only through
		// constraints are registered, so the persisted form is closed.
		when:     pattern.CopyConjunction(when),
		then:     expanded,
		headKind: kind,
		headVar:  headVar,
	}
	if err := m.persist(rule); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.rules[label] = rule
	m.mu.Unlock()
	m.logger.Debugw("rule defined", "label", label)
	return rule, nil
}

// GetRule resolves a rule by label, nil when absent.
func (m *Manager) GetRule(label string) *Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules[label]
}

// DeleteRule removes a rule definition.
func (m *Manager) DeleteRule(label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[label]; !ok {
		return kgerr.Of(kgerr.ErrRuleNotFound, "%q", label)
	}
	delete(m.rules, label)
	txn := m.store.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Delete(encoding.RuleIndexKey(label)); err != nil {
		return err
	}
	return txn.Commit()
}

// Rules returns every defined rule.
func (m *Manager) Rules() []*Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	return out
}

func (m *Manager) persist(rule *Rule) error {
	raw, err := marshalRule(rule)
	if err != nil {
		return err
	}
	txn := m.store.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(encoding.RuleIndexKey(rule.label), raw); err != nil {
		return err
	}
	return txn.Commit()
}

// headKindOf classifies and validates the head variable's constraints.
func headKindOf(then *pattern.ThingVariable) (HeadKind, error) {
	switch {
	case then.Relation != nil:
		if then.Isa == nil || then.Isa.Type.Label == nil {
			return 0, kgerr.Of(kgerr.ErrIllegalRuleHead, "relation head requires a labelled isa")
		}
		if len(then.Has) > 0 {
			return 0, kgerr.Of(kgerr.ErrIllegalRuleHead, "relation head cannot also assert has")
		}
		return HeadRelation, nil
	case len(then.Has) == 1:
		if then.Isa != nil {
			return 0, kgerr.Of(kgerr.ErrIllegalRuleHead, "has head cannot also assert isa")
		}
		return HeadHas, nil
	case then.Isa != nil:
		if len(then.Has) > 0 {
			return 0, kgerr.Of(kgerr.ErrIllegalRuleHead, "isa head carries more than one constraint")
		}
		if then.Isa.Type.Label == nil {
			return 0, kgerr.Of(kgerr.ErrIllegalRuleHead, "isa head requires a labelled type")
		}
		return HeadIsa, nil
	default:
		// A bare value assertion head is excluded pending clarification of
		// its semantics.
		return 0, kgerr.Of(kgerr.ErrIllegalRuleHead, "%s", then.Reference())
	}
}

// expandHead rewrites the head variable into its canonical then
// conjunction with system-generated helper variables.
func expandHead(then *pattern.ThingVariable, kind HeadKind) (*pattern.Conjunction, *pattern.ThingVariable, error) {
	switch kind {
	case HeadIsa:
		copier := pattern.NewCopier()
		owner := copier.Thing(then)
		conj := pattern.NewConjunction(owner)
		if owner.Isa != nil {
			conj.Add(owner.Isa.Type)
		}
		return conj, owner, nil

	case HeadHas:
		has := then.Has[0]
		attr := has.Attribute
		owner := pattern.NewThingVariable(then.Reference())
		if attr.Isa == nil && len(attr.Values) == 0 {
			// Variable attribute: $x has $a.
			attrCopy := pattern.NewThingVariable(attr.Reference())
			owner.PutHas(attrCopy)
			return pattern.NewConjunction(owner, attrCopy), owner, nil
		}
		// Concrete attribute: $x has <type> <value> expands to an
		// anonymous attribute carrying the isa and an equality on an
		// anonymous value variable.
		if attr.Isa == nil || attr.Isa.Type.Label == nil || len(attr.Values) != 1 || attr.Values[0].Variable != nil {
			return nil, nil, kgerr.Of(kgerr.ErrIllegalRuleHead, "has head requires a typed concrete value")
		}
		attrVar := pattern.NewThingVariable(pattern.NewSystemReference("attr"))
		attrType := pattern.NewTypeVariable(pattern.NewSystemReference("attr_type"))
		attrType.PutLabel(attr.Isa.Type.Label.Label)
		valueVar := pattern.NewThingVariable(pattern.NewSystemReference("value"))
		valueVar.PutValue(pattern.OpEQ, attr.Values[0].Value)
		attrVar.PutValueVariable(pattern.OpEQ, valueVar)
		attrVar.PutIsa(attrType, false)
		owner.PutHas(attrVar)
		return pattern.NewConjunction(owner, attrVar, attrType, valueVar), owner, nil

	case HeadRelation:
		relOwner := pattern.NewThingVariable(pattern.NewSystemReference("rel_owner"))
		relType := pattern.NewTypeVariable(pattern.NewSystemReference("rel_type"))
		relLabel := then.Isa.Type.Label.Label
		relType.PutLabel(relLabel)
		relOwner.PutIsa(relType, false)

		conj := pattern.NewConjunction(relOwner, relType)
		players := make([]pattern.RolePlayer, 0, len(then.Relation.Players))
		for i, p := range then.Relation.Players {
			player := pattern.NewThingVariable(p.Player.Reference())
			conj.Add(player)
			rp := pattern.RolePlayer{Player: player}
			if p.RoleType != nil && p.RoleType.Label != nil {
				roleVar := pattern.NewTypeVariable(pattern.NewSystemReference("role_" + strconv.Itoa(i)))
				roleLabel := p.RoleType.Label.Label
				if !roleLabel.IsScoped() {
					roleLabel = graph.NewScopedLabel(relLabel.Name, roleLabel.Name)
				}
				roleVar.PutLabel(roleLabel)
				conj.Add(roleVar)
				rp.RoleType = roleVar
			}
			players = append(players, rp)
		}
		relOwner.PutRelation(players...)
		return conj, relOwner, nil
	}
	return nil, nil, kgerr.ErrIllegalRuleHead
}
