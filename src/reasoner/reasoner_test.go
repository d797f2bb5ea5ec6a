package reasoner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toposdb/src/encoding"
	"toposdb/src/graph"
	"toposdb/src/kgerr"
	"toposdb/src/kvstore"
	"toposdb/src/logic"
	"toposdb/src/pattern"
	"toposdb/src/procedure"
	"toposdb/src/reasoner"
	"toposdb/src/settings"
	"toposdb/src/traversal"
)

type fixture struct {
	mgr      *graph.Manager
	logicMgr *logic.Manager
	reasoner *reasoner.Reasoner
	args     *settings.Arguments
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	args := &settings.Arguments{InMemory: true, ReasoningBudget: 16}
	store, err := kvstore.NewStore(args, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	mgr, err := graph.NewManager(store, zap.NewNop().Sugar())
	require.NoError(t, err)
	logicMgr := logic.NewManager(store, mgr.Schema(), zap.NewNop().Sugar())
	engine := traversal.NewEngine(mgr, zap.NewNop().Sugar(), args)
	return &fixture{
		mgr:      mgr,
		logicMgr: logicMgr,
		reasoner: reasoner.New(engine, logicMgr, zap.NewNop().Sugar(), args),
		args:     args,
	}
}

// setupMarriageIsFriendship defines the two-role relation rule of the
// marriage/friendship schema and marries alice to bob.
func setupMarriageIsFriendship(t *testing.T, f *fixture) (alice, bob *graph.Thing) {
	t.Helper()
	schema, data := f.mgr.Schema(), f.mgr.Data()

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

	then := pattern.NewThingVariable(pattern.NewAnonymousReference(1))
	then.PutIsa(pattern.NewLabelVariable(graph.NewLabel("friendship")), false)
	friendRole := pattern.NewLabelVariable(graph.NewScopedLabel("friendship", "friend"))
	then.PutRelation(
		pattern.RolePlayer{RoleType: friendRole, Player: pattern.NewThingVariable(pattern.NewNameReference("x"))},
		pattern.RolePlayer{RoleType: friendRole, Player: pattern.NewThingVariable(pattern.NewNameReference("y"))},
	)

	_, err = f.logicMgr.PutRule("marriage-is-friendship", when, then)
	require.NoError(t, err)

	alice, err = data.CreateEntity(person)
	require.NoError(t, err)
	bob, err = data.CreateEntity(person)
	require.NoError(t, err)
	m, err := data.CreateRelation(marriage)
	require.NoError(t, err)
	require.NoError(t, data.AddRolePlayer(m, spouse, alice))
	require.NoError(t, data.AddRolePlayer(m, spouse, bob))
	return alice, bob
}

func friendshipQuery() *pattern.Conjunction {
	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	y := pattern.NewThingVariable(pattern.NewNameReference("y"))
	rel := pattern.NewThingVariable(pattern.NewAnonymousReference(0))
	rel.PutIsa(pattern.NewLabelVariable(graph.NewLabel("friendship")), false)
	friendRole := pattern.NewLabelVariable(graph.NewScopedLabel("friendship", "friend"))
	rel.PutRelation(
		pattern.RolePlayer{RoleType: friendRole, Player: x},
		pattern.RolePlayer{RoleType: friendRole, Player: y},
	)
	return pattern.NewConjunction(rel, x, y, friendRole)
}

func TestInferenceDerivesFriendshipFromMarriage(t *testing.T) {
	f := newFixture(t)
	alice, bob := setupMarriageIsFriendship(t, f)

	// Without inference the stored graph holds no friendships.
	answers, err := procedure.Collect(f.reasoner.Match(context.Background(), friendshipQuery(), false))
	require.NoError(t, err)
	assert.Empty(t, answers)

	// With inference the rule derives friendship(alice, bob).
	answers, err = procedure.Collect(f.reasoner.Match(context.Background(), friendshipQuery(), true))
	require.NoError(t, err)
	require.Len(t, answers, 2) // both player orderings

	iids := map[string]bool{}
	for _, a := range answers {
		iids[string(a["$x"].AsThing().IID())] = true
		iids[string(a["$y"].AsThing().IID())] = true
	}
	assert.True(t, iids[string(alice.IID())])
	assert.True(t, iids[string(bob.IID())])
}

func TestReasoningMonotone(t *testing.T) {
	f := newFixture(t)
	setupMarriageIsFriendship(t, f)

	// Inference only adds: every non-inferred answer survives inference.
	base := func() int {
		q := pattern.NewThingVariable(pattern.NewNameReference("p"))
		q.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
		answers, err := procedure.Collect(f.reasoner.Match(context.Background(), pattern.NewConjunction(q), false))
		require.NoError(t, err)
		return len(answers)
	}
	before := base()

	q := pattern.NewThingVariable(pattern.NewNameReference("p"))
	q.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	inferred, err := procedure.Collect(f.reasoner.Match(context.Background(), pattern.NewConjunction(q), true))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(inferred), before)
}

func TestFixpointIsStable(t *testing.T) {
	f := newFixture(t)
	setupMarriageIsFriendship(t, f)

	first, err := procedure.Collect(f.reasoner.Match(context.Background(), friendshipQuery(), true))
	require.NoError(t, err)
	second, err := procedure.Collect(f.reasoner.Match(context.Background(), friendshipQuery(), true))
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))
}

func TestReasoningBudgetExceeded(t *testing.T) {
	f := newFixture(t)
	setupMarriageIsFriendship(t, f)

	f.args.ReasoningBudget = 1
	_, err := procedure.Collect(f.reasoner.Match(context.Background(), friendshipQuery(), true))
	require.ErrorIs(t, err, kgerr.ErrReasoningBudgetExceeded)
}

func TestHasRuleDerivesAttribute(t *testing.T) {
	f := newFixture(t)
	schema, data := f.mgr.Schema(), f.mgr.Data()

	milk, err := schema.PutEntityType("milk")
	require.NoError(t, err)
	good, err := schema.PutAttributeType("is-still-good", encoding.ValueBool)
	require.NoError(t, err)
	require.NoError(t, schema.SetOwns(milk, good, false))

	// when { $x isa milk } then { $x has is-still-good false }
	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("milk")), false)
	when := pattern.NewConjunction(x)

	then := pattern.NewThingVariable(pattern.NewNameReference("x"))
	attr := pattern.NewThingVariable(pattern.NewAnonymousReference(0))
	attr.PutIsa(pattern.NewLabelVariable(graph.NewLabel("is-still-good")), false)
	attr.PutValue(pattern.OpEQ, encoding.BoolValue(false))
	then.PutHas(attr)
	_, err = f.logicMgr.PutRule("milk-goes-bad", when, then)
	require.NoError(t, err)

	carton, err := data.CreateEntity(milk)
	require.NoError(t, err)

	qx := pattern.NewThingVariable(pattern.NewNameReference("x"))
	qx.PutIsa(pattern.NewLabelVariable(graph.NewLabel("milk")), false)
	qa := pattern.NewThingVariable(pattern.NewNameReference("a"))
	qa.PutIsa(pattern.NewLabelVariable(graph.NewLabel("is-still-good")), false)
	qx.PutHas(qa)
	query := pattern.NewConjunction(qx, qa)

	answers, err := procedure.Collect(f.reasoner.Match(context.Background(), query, true))
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, string(carton.IID()), string(answers[0]["$x"].AsThing().IID()))
	assert.False(t, answers[0]["$a"].AsThing().Value().Bool)
}
