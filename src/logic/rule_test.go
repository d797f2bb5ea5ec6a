package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toposdb/src/encoding"
	"toposdb/src/graph"
	"toposdb/src/kgerr"
	"toposdb/src/kvstore"
	"toposdb/src/pattern"
	"toposdb/src/settings"
)

func newTestManager(t *testing.T) (*Manager, *graph.SchemaGraph) {
	t.Helper()
	store, err := kvstore.NewStore(&settings.Arguments{InMemory: true}, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	schema, err := graph.NewSchemaGraph(store, zap.NewNop().Sugar())
	require.NoError(t, err)
	return NewManager(store, schema, zap.NewNop().Sugar()), schema
}

func countKinds(concludables []*Concludable) (isa, has, relation, value int) {
	for _, c := range concludables {
		switch {
		case c.IsIsa():
			isa++
		case c.IsHas():
			has++
		case c.IsRelation():
			relation++
		case c.IsValue():
			value++
		}
	}
	return
}

func setupMarriageSchema(t *testing.T, schema *graph.SchemaGraph) {
	t.Helper()
	person, err := schema.PutEntityType("person")
	require.NoError(t, err)
	friendship, err := schema.PutRelationType("friendship")
	require.NoError(t, err)
	friend, err := schema.SetRelates(friendship, "friend")
	require.NoError(t, err)
	marriage, err := schema.PutRelationType("marriage")
	require.NoError(t, err)
	spouse, err := schema.SetRelates(marriage, "spouse")
	require.NoError(t, err)
	require.NoError(t, schema.SetPlays(person, friend))
	require.NoError(t, schema.SetPlays(person, spouse))
}

func TestRuleConcludablesFromRelationRule(t *testing.T) {
	mgr, schema := newTestManager(t)
	setupMarriageSchema(t, schema)

	// when: { $x isa person; $y isa person; (spouse: $x, spouse: $y) isa marriage; }
	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	y := pattern.NewThingVariable(pattern.NewNameReference("y"))
	y.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	rel := pattern.NewThingVariable(pattern.NewAnonymousReference(0))
	rel.PutIsa(pattern.NewLabelVariable(graph.NewLabel("marriage")), false)
	spouseRole := pattern.NewLabelVariable(graph.NewScopedLabel("marriage", "spouse"))
	rel.PutRelation(
		pattern.RolePlayer{RoleType: spouseRole, Player: x},
		pattern.RolePlayer{RoleType: spouseRole, Player: y},
	)
	when := pattern.NewConjunction(x, y, rel, spouseRole)

	// then: (friend: $x, friend: $y) isa friendship
	then := pattern.NewThingVariable(pattern.NewAnonymousReference(1))
	then.PutIsa(pattern.NewLabelVariable(graph.NewLabel("friendship")), false)
	friendRole := pattern.NewLabelVariable(graph.NewScopedLabel("friendship", "friend"))
	then.PutRelation(
		pattern.RolePlayer{RoleType: friendRole, Player: pattern.NewThingVariable(pattern.NewNameReference("x"))},
		pattern.RolePlayer{RoleType: friendRole, Player: pattern.NewThingVariable(pattern.NewNameReference("y"))},
	)

	rule, err := mgr.PutRule("marriage-is-friendship", when, then)
	require.NoError(t, err)

	isa, has, relation, value := countKinds(rule.ThenConcludables())
	assert.Equal(t, 1, isa)
	assert.Equal(t, 0, has)
	assert.Equal(t, 1, relation)
	assert.Equal(t, 0, value)

	isa, has, relation, value = countKinds(rule.WhenConcludables())
	assert.Equal(t, 2, isa)
	assert.Equal(t, 0, has)
	assert.Equal(t, 1, relation)
	assert.Equal(t, 0, value)
}

func TestRuleConcludablesFromHasRule(t *testing.T) {
	mgr, schema := newTestManager(t)
	milk, err := schema.PutEntityType("milk")
	require.NoError(t, err)
	age, err := schema.PutAttributeType("age-in-days", encoding.ValueLong)
	require.NoError(t, err)
	require.NoError(t, schema.SetOwns(milk, age, false))

	// when: { $x isa milk; $a 10 isa age-in-days; }
	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("milk")), false)
	a := pattern.NewThingVariable(pattern.NewNameReference("a"))
	a.PutIsa(pattern.NewLabelVariable(graph.NewLabel("age-in-days")), false)
	a.PutValue(pattern.OpEQ, encoding.LongValue(10))
	when := pattern.NewConjunction(x, a)

	// then: $x has $a
	then := pattern.NewThingVariable(pattern.NewNameReference("x"))
	then.PutHas(pattern.NewThingVariable(pattern.NewNameReference("a")))

	rule, err := mgr.PutRule("old-milk-has-age", when, then)
	require.NoError(t, err)

	isa, has, relation, value := countKinds(rule.ThenConcludables())
	assert.Equal(t, 0, isa)
	assert.Equal(t, 1, has)
	assert.Equal(t, 0, relation)
	assert.Equal(t, 0, value)

	isa, has, relation, value = countKinds(rule.WhenConcludables())
	assert.Equal(t, 2, isa)
	assert.Equal(t, 0, has)
	assert.Equal(t, 0, relation)
	assert.Equal(t, 0, value)
}

func TestHasHeadWithVariableAttributeExpansion(t *testing.T) {
	mgr, _ := newTestManager(t)

	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("milk")), false)
	a := pattern.NewThingVariable(pattern.NewNameReference("a"))
	a.PutIsa(pattern.NewLabelVariable(graph.NewLabel("age-in-days")), false)
	a.PutValue(pattern.OpEQ, encoding.LongValue(10))
	when := pattern.NewConjunction(x, a)

	then := pattern.NewThingVariable(pattern.NewNameReference("x"))
	then.PutHas(pattern.NewThingVariable(pattern.NewNameReference("a")))

	rule, err := mgr.PutRule("r", when, then)
	require.NoError(t, err)

	expectedOwner := pattern.NewThingVariable(pattern.NewNameReference("x"))
	expectedAttr := pattern.NewThingVariable(pattern.NewNameReference("a"))
	expectedOwner.PutHas(expectedAttr)
	expected := pattern.NewConjunction(expectedOwner, expectedAttr)

	assert.True(t, expected.Equal(rule.Then()))
}

func TestHasHeadWithConcreteBooleanExpansion(t *testing.T) {
	mgr, _ := newTestManager(t)

	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("milk")), false)
	when := pattern.NewConjunction(x)

	// then: $x has is-still-good false
	then := pattern.NewThingVariable(pattern.NewNameReference("x"))
	attr := pattern.NewThingVariable(pattern.NewAnonymousReference(0))
	attr.PutIsa(pattern.NewLabelVariable(graph.NewLabel("is-still-good")), false)
	attr.PutValue(pattern.OpEQ, encoding.BoolValue(false))
	then.PutHas(attr)

	rule, err := mgr.PutRule("r", when, then)
	require.NoError(t, err)

	expectedOwner := pattern.NewThingVariable(pattern.NewNameReference("x"))
	expectedAttr := pattern.NewThingVariable(pattern.NewSystemReference("attr"))
	expectedAttrType := pattern.NewTypeVariable(pattern.NewSystemReference("attr_type"))
	expectedAttrType.PutLabel(graph.NewLabel("is-still-good"))
	expectedValue := pattern.NewThingVariable(pattern.NewSystemReference("value"))
	expectedValue.PutValue(pattern.OpEQ, encoding.BoolValue(false))
	expectedAttr.PutValueVariable(pattern.OpEQ, expectedValue)
	expectedAttr.PutIsa(expectedAttrType, false)
	expectedOwner.PutHas(expectedAttr)
	expected := pattern.NewConjunction(expectedOwner, expectedAttr, expectedAttrType, expectedValue)

	assert.True(t, expected.Equal(rule.Then()))
}

func TestRelationHeadWithOnePlayerExpansion(t *testing.T) {
	mgr, _ := newTestManager(t)

	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	when := pattern.NewConjunction(x)

	// then: (employee: $x) isa employment
	then := pattern.NewThingVariable(pattern.NewAnonymousReference(0))
	then.PutIsa(pattern.NewLabelVariable(graph.NewLabel("employment")), false)
	employeeRole := pattern.NewLabelVariable(graph.NewLabel("employee"))
	then.PutRelation(pattern.RolePlayer{
		RoleType: employeeRole,
		Player:   pattern.NewThingVariable(pattern.NewNameReference("x")),
	})

	rule, err := mgr.PutRule("bob-is-employed", when, then)
	require.NoError(t, err)

	expectedOwner := pattern.NewThingVariable(pattern.NewSystemReference("rel_owner"))
	expectedRelType := pattern.NewTypeVariable(pattern.NewSystemReference("rel_type"))
	expectedRelType.PutLabel(graph.NewLabel("employment"))
	expectedRole := pattern.NewTypeVariable(pattern.NewSystemReference("role_0"))
	expectedRole.PutLabel(graph.NewScopedLabel("employment", "employee"))
	expectedPlayer := pattern.NewThingVariable(pattern.NewNameReference("x"))
	expectedOwner.PutRelation(pattern.RolePlayer{RoleType: expectedRole, Player: expectedPlayer})
	expectedOwner.PutIsa(expectedRelType, false)
	expected := pattern.NewConjunction(expectedOwner, expectedPlayer, expectedRelType, expectedRole)

	assert.True(t, expected.Equal(rule.Then()))
}

func TestValueOnlyHeadRejected(t *testing.T) {
	mgr, _ := newTestManager(t)

	when := pattern.NewConjunction(pattern.NewThingVariable(pattern.NewNameReference("x")))
	then := pattern.NewThingVariable(pattern.NewNameReference("n"))
	then.PutValue(pattern.OpEQ, encoding.LongValue(5))

	_, err := mgr.PutRule("bad", when, then)
	require.ErrorIs(t, err, kgerr.ErrIllegalRuleHead)
}

func TestRulePersistenceRoundTrip(t *testing.T) {
	mgr, schema := newTestManager(t)
	setupMarriageSchema(t, schema)

	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	when := pattern.NewConjunction(x)

	then := pattern.NewThingVariable(pattern.NewAnonymousReference(0))
	then.PutIsa(pattern.NewLabelVariable(graph.NewLabel("friendship")), false)
	then.PutRelation(pattern.RolePlayer{
		RoleType: pattern.NewLabelVariable(graph.NewScopedLabel("friendship", "friend")),
		Player:   pattern.NewThingVariable(pattern.NewNameReference("x")),
	})

	rule, err := mgr.PutRule("self-friend", when, then)
	require.NoError(t, err)

	raw, err := marshalRule(rule)
	require.NoError(t, err)
	restored, err := unmarshalRule(raw)
	require.NoError(t, err)

	assert.Equal(t, rule.Label(), restored.Label())
	assert.Equal(t, rule.HeadKind(), restored.HeadKind())
	assert.True(t, rule.Then().Equal(restored.Then()))
	assert.True(t, rule.When().Equal(restored.When()))
}

func TestUnifyIsaConcludables(t *testing.T) {
	// $p isa person unifies with a head producing person instances, not
	// with one producing companies.
	p := pattern.NewThingVariable(pattern.NewNameReference("p"))
	isa := p.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	isa.AddHints([]graph.Label{graph.NewLabel("person")})
	from := &Concludable{Kind: KindIsa, Isa: isa}

	h := pattern.NewThingVariable(pattern.NewSystemReference("h"))
	headIsa := h.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	headIsa.AddHints([]graph.Label{graph.NewLabel("person")})
	to := &Concludable{Kind: KindIsa, Isa: headIsa}

	u, ok := Unify(from, to)
	require.True(t, ok)
	assert.Equal(t, "%h", u.Mapping["$p"])

	other := pattern.NewThingVariable(pattern.NewSystemReference("c"))
	otherIsa := other.PutIsa(pattern.NewLabelVariable(graph.NewLabel("company")), false)
	otherIsa.AddHints([]graph.Label{graph.NewLabel("company")})
	_, ok = Unify(from, &Concludable{Kind: KindIsa, Isa: otherIsa})
	assert.False(t, ok)
}
