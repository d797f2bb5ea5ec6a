package planner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toposdb/src/encoding"
	"toposdb/src/graph"
	"toposdb/src/kvstore"
	"toposdb/src/pattern"
	"toposdb/src/planner"
	"toposdb/src/settings"
	"toposdb/src/structure"
)

func newTestGraph(t *testing.T) *graph.Manager {
	t.Helper()
	store, err := kvstore.NewStore(&settings.Arguments{InMemory: true}, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	mgr, err := graph.NewManager(store, zap.NewNop().Sugar())
	require.NoError(t, err)
	return mgr
}

// seedPeople populates persons owning names and marriages between them.
func seedPeople(t *testing.T, mgr *graph.Manager, persons int) {
	t.Helper()
	schema, data := mgr.Schema(), mgr.Data()

	person, err := schema.PutEntityType("person")
	require.NoError(t, err)
	name, err := schema.PutAttributeType("name", encoding.ValueString)
	require.NoError(t, err)
	require.NoError(t, schema.SetOwns(person, name, false))
	marriage, err := schema.PutRelationType("marriage")
	require.NoError(t, err)
	spouse, err := schema.SetRelates(marriage, "spouse")
	require.NoError(t, err)
	require.NoError(t, schema.SetPlays(person, spouse))

	n, err := data.PutAttribute(name, encoding.StringValue("someone"))
	require.NoError(t, err)
	var prev *graph.Thing
	for i := 0; i < persons; i++ {
		p, err := data.CreateEntity(person)
		require.NoError(t, err)
		require.NoError(t, data.PutHas(p, n))
		if prev != nil && i%100 == 1 {
			m, err := data.CreateRelation(marriage)
			require.NoError(t, err)
			require.NoError(t, data.AddRolePlayer(m, spouse, prev))
			require.NoError(t, data.AddRolePlayer(m, spouse, p))
		}
		prev = p
	}
}

// fiveEdgePattern builds: $x isa person; $x has $n; $n isa name;
// ($_m roleplayer $x); $_m isa marriage.
func fiveEdgePattern() *pattern.Conjunction {
	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	personType := pattern.NewLabelVariable(graph.NewLabel("person"))
	isaX := x.PutIsa(personType, false)
	isaX.AddHints([]graph.Label{graph.NewLabel("person")})

	n := pattern.NewThingVariable(pattern.NewNameReference("n"))
	nameType := pattern.NewLabelVariable(graph.NewLabel("name"))
	isaN := n.PutIsa(nameType, false)
	isaN.AddHints([]graph.Label{graph.NewLabel("name")})
	x.PutHas(n)

	m := pattern.NewThingVariable(pattern.NewAnonymousReference(0))
	marriageType := pattern.NewLabelVariable(graph.NewLabel("marriage"))
	isaM := m.PutIsa(marriageType, false)
	isaM.AddHints([]graph.Label{graph.NewLabel("marriage")})
	m.PutRelation(pattern.RolePlayer{
		Player:        x,
		RoleTypeHints: []graph.Label{graph.NewScopedLabel("marriage", "spouse")},
	})

	return pattern.NewConjunction(x, personType, n, nameType, m, marriageType)
}

func threeEdgePattern() *pattern.Conjunction {
	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	personType := pattern.NewLabelVariable(graph.NewLabel("person"))
	isaX := x.PutIsa(personType, false)
	isaX.AddHints([]graph.Label{graph.NewLabel("person")})

	n := pattern.NewThingVariable(pattern.NewNameReference("n"))
	nameType := pattern.NewLabelVariable(graph.NewLabel("name"))
	isaN := n.PutIsa(nameType, false)
	isaN.AddHints([]graph.Label{graph.NewLabel("name")})
	x.PutHas(n)

	return pattern.NewConjunction(x, personType, n, nameType)
}

func TestPlanCompleteness(t *testing.T) {
	mgr := newTestGraph(t)
	seedPeople(t, mgr, 200)

	s := structure.Of(fiveEdgePattern())
	pl := planner.New(s, zap.NewNop().Sugar())
	require.NoError(t, pl.Optimise(mgr, false))
	proc := pl.Procedure()
	require.NotNil(t, proc)

	assert.Len(t, proc.Edges(), len(s.Edges()))

	// The walk is edge-ordered: every edge's source is the start or an
	// earlier target, and every vertex is covered.
	bound := map[string]bool{proc.Start().Ref.Key(): true}
	for _, e := range proc.Edges() {
		assert.True(t, bound[e.From.Ref.Key()], "edge %s source unbound", e)
		bound[e.To.Ref.Key()] = true
	}
	for _, v := range s.Vertices() {
		assert.True(t, bound[v.Ref.Key()], "vertex %s not covered", v.Ref)
	}
}

func twoEdgePattern() *pattern.Conjunction {
	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	personType := pattern.NewLabelVariable(graph.NewLabel("person"))
	isaX := x.PutIsa(personType, false)
	isaX.AddHints([]graph.Label{graph.NewLabel("person")})

	n := pattern.NewThingVariable(pattern.NewNameReference("n"))
	x.PutHas(n)
	return pattern.NewConjunction(x, personType, n)
}

func TestPlanDeterminism(t *testing.T) {
	mgr := newTestGraph(t)
	seedPeople(t, mgr, 50)

	first := planner.New(structure.Of(twoEdgePattern()), zap.NewNop().Sugar())
	require.NoError(t, first.Optimise(mgr, true))
	second := planner.New(structure.Of(twoEdgePattern()), zap.NewNop().Sugar())
	require.NoError(t, second.Optimise(mgr, true))

	assert.Equal(t, first.Procedure().EdgeOrder(), second.Procedure().EdgeOrder())
}

func TestSnapshotReuse(t *testing.T) {
	mgr := newTestGraph(t)
	seedPeople(t, mgr, 50)

	pl := planner.New(structure.Of(threeEdgePattern()), zap.NewNop().Sugar())
	require.NoError(t, pl.Optimise(mgr, false))
	proc := pl.Procedure()

	// No statistics change: the cached procedure is reused.
	require.NoError(t, pl.Optimise(mgr, false))
	assert.Same(t, proc, pl.Procedure())
}

func TestWarmStartBelowThresholdsKeepsPlan(t *testing.T) {
	mgr := newTestGraph(t)
	seedPeople(t, mgr, 1000)

	pl := planner.New(structure.Of(fiveEdgePattern()), zap.NewNop().Sugar())
	require.NoError(t, pl.Optimise(mgr, false))
	proc := pl.Procedure()
	order := proc.EdgeOrder()

	// Double the name-instance count (1 -> 2): the per-edge cost ratio
	// reaches 2.0 but stays far below 2% of the total plan cost, and the
	// total cost falls (the backward has edge halves), so no re-solve happens.
	name := mgr.Schema().GetType(graph.NewLabel("name"))
	require.NotNil(t, name)
	_, err := mgr.Data().PutAttribute(name, encoding.StringValue("someone-else"))
	require.NoError(t, err)

	require.NoError(t, pl.Optimise(mgr, false))
	assert.Same(t, proc, pl.Procedure())
	assert.Equal(t, order, pl.Procedure().EdgeOrder())
}

func TestSingleVertexPlanner(t *testing.T) {
	mgr := newTestGraph(t)
	seedPeople(t, mgr, 10)

	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	conj := pattern.NewConjunction(x)
	s := structure.Of(conj)

	pl := planner.New(s, zap.NewNop().Sugar())
	require.NoError(t, pl.Optimise(mgr, false))
	proc := pl.Procedure()
	require.NotNil(t, proc)
	assert.Empty(t, proc.Edges())
	assert.True(t, pl.IsOptimal())
}
