package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toposdb/src/encoding"
	"toposdb/src/kgerr"
	"toposdb/src/kvstore"
	"toposdb/src/settings"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := kvstore.NewStore(&settings.Arguments{InMemory: true}, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	mgr, err := NewManager(store, zap.NewNop().Sugar())
	require.NoError(t, err)
	return mgr
}

func TestSchemaRootsSeeded(t *testing.T) {
	mgr := newTestManager(t)
	schema := mgr.Schema()

	assert.NotNil(t, schema.RootEntityType())
	assert.NotNil(t, schema.RootRelationType())
	assert.NotNil(t, schema.RootAttributeType())
	assert.NotNil(t, schema.RootRoleType())
	assert.True(t, schema.RootEntityType().IsAbstract())
}

func TestSubCycleRejected(t *testing.T) {
	mgr := newTestManager(t)
	schema := mgr.Schema()

	a, err := schema.PutEntityType("a")
	require.NoError(t, err)
	b, err := schema.PutEntityType("b")
	require.NoError(t, err)

	require.NoError(t, schema.SetSub(b, a))
	err = schema.SetSub(a, b)
	require.ErrorIs(t, err, kgerr.ErrSubCycle)
}

func TestAttributeIdentity(t *testing.T) {
	mgr := newTestManager(t)
	schema, data := mgr.Schema(), mgr.Data()

	name, err := schema.PutAttributeType("name", encoding.ValueString)
	require.NoError(t, err)

	first, err := data.PutAttribute(name, encoding.StringValue("foo"))
	require.NoError(t, err)
	second, err := data.PutAttribute(name, encoding.StringValue("foo"))
	require.NoError(t, err)

	assert.Equal(t, first.IID(), second.IID())
	assert.Equal(t, int64(1), schema.Stats().InstancesCount(name))

	// Exact expected layout: attr-prefix | type-IID | STRING | len=3 | "foo"
	expected := append([]byte{byte(encoding.PrefixAttribute)}, name.IID().Bytes()...)
	expected = append(expected, byte(encoding.ValueString), 3)
	expected = append(expected, []byte("foo")...)
	assert.Equal(t, expected, first.IID().Bytes())
}

func TestStatsSnapshotAdvancesOnWrite(t *testing.T) {
	mgr := newTestManager(t)
	schema, data := mgr.Schema(), mgr.Data()

	person, err := schema.PutEntityType("person")
	require.NoError(t, err)

	before := schema.Stats().Snapshot()
	_, err = data.CreateEntity(person)
	require.NoError(t, err)
	assert.Greater(t, schema.Stats().Snapshot(), before)
}

func TestHasEdgeAndCount(t *testing.T) {
	mgr := newTestManager(t)
	schema, data := mgr.Schema(), mgr.Data()

	person, err := schema.PutEntityType("person")
	require.NoError(t, err)
	name, err := schema.PutAttributeType("name", encoding.ValueString)
	require.NoError(t, err)
	require.NoError(t, schema.SetOwns(person, name, false))

	p, err := data.CreateEntity(person)
	require.NoError(t, err)
	n, err := data.PutAttribute(name, encoding.StringValue("alice"))
	require.NoError(t, err)
	require.NoError(t, data.PutHas(p, n))

	count := schema.Stats().CountHasEdges([]*TypeVertex{person}, []*TypeVertex{name})
	assert.Equal(t, int64(1), count)

	var targets []*Thing
	err = data.IterateEdges(p, encoding.InfixHas, func(edge encoding.ThingEdgeIID) (bool, error) {
		thing, err := data.thingOf(edge.Target())
		require.NoError(t, err)
		targets = append(targets, thing)
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "alice", targets[0].Value().Str)

	// Backward direction resolves the owner.
	var owners []*Thing
	err = data.IterateEdges(n, encoding.InfixHas.In(), func(edge encoding.ThingEdgeIID) (bool, error) {
		thing, err := data.thingOf(edge.Target())
		require.NoError(t, err)
		owners = append(owners, thing)
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, p.IID(), owners[0].IID())
}

func TestRolePlayerEdges(t *testing.T) {
	mgr := newTestManager(t)
	schema, data := mgr.Schema(), mgr.Data()

	person, err := schema.PutEntityType("person")
	require.NoError(t, err)
	marriage, err := schema.PutRelationType("marriage")
	require.NoError(t, err)
	spouse, err := schema.SetRelates(marriage, "spouse")
	require.NoError(t, err)
	require.NoError(t, schema.SetPlays(person, spouse))

	alice, err := data.CreateEntity(person)
	require.NoError(t, err)
	bob, err := data.CreateEntity(person)
	require.NoError(t, err)
	m, err := data.CreateRelation(marriage)
	require.NoError(t, err)
	require.NoError(t, data.AddRolePlayer(m, spouse, alice))
	require.NoError(t, data.AddRolePlayer(m, spouse, bob))

	var players [][]byte
	err = data.IterateEdges(m, encoding.InfixRolePlayer, func(edge encoding.ThingEdgeIID) (bool, error) {
		assert.Equal(t, spouse.IID(), edge.RoleType())
		players = append(players, edge.Target().Bytes())
		return true, nil
	})
	require.NoError(t, err)
	assert.Len(t, players, 2)

	// Role instances are counted for branching-factor statistics.
	assert.Equal(t, int64(2), schema.Stats().InstancesCount(spouse))
}

func TestDeleteWithLiveEdgesRejected(t *testing.T) {
	mgr := newTestManager(t)
	schema, data := mgr.Schema(), mgr.Data()

	person, err := schema.PutEntityType("person")
	require.NoError(t, err)
	name, err := schema.PutAttributeType("name", encoding.ValueString)
	require.NoError(t, err)
	require.NoError(t, schema.SetOwns(person, name, false))

	p, err := data.CreateEntity(person)
	require.NoError(t, err)
	n, err := data.PutAttribute(name, encoding.StringValue("x"))
	require.NoError(t, err)
	require.NoError(t, data.PutHas(p, n))

	err = data.DeleteThing(p, nil)
	require.ErrorIs(t, err, kgerr.ErrVertexHasLiveEdges)

	// Deleting both together is allowed.
	err = data.DeleteThing(p, map[string]bool{string(n.IID()): true})
	require.NoError(t, err)

	got, err := data.GetThing(p.IID())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAbstractWriteRejected(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.Data().CreateEntity(mgr.Schema().RootEntityType())
	require.ErrorIs(t, err, kgerr.ErrIllegalAbstractWrite)
}
