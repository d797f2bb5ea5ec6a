package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toposdb/src/encoding"
	"toposdb/src/graph"
	"toposdb/src/kgerr"
	"toposdb/src/pattern"
	"toposdb/src/procedure"
	"toposdb/src/settings"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	args := &settings.Arguments{InMemory: true, ReasoningBudget: 16, BatchSize: 50}
	db, err := NewDatabase(args, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func defineBaseSchema(t *testing.T, db *Database) {
	t.Helper()
	txn := db.Session(SessionSchema).Transaction(TransactionWrite)
	defer txn.Close()
	err := txn.Query().Define(context.Background(), DefineQuery{
		Types: []TypeDef{
			{Kind: DefEntityType, Label: "person", Owns: []OwnsDef{{Attribute: "name"}}, Plays: []string{"marriage:spouse"}},
			{Kind: DefAttributeType, Label: "name", ValueKind: encoding.ValueString},
			{Kind: DefRelationType, Label: "marriage", Relates: []string{"spouse"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
}

func insertPerson(t *testing.T, db *Database, name string) procedure.Answer {
	t.Helper()
	txn := db.Session(SessionData).Transaction(TransactionWrite)
	defer txn.Close()

	p := pattern.NewThingVariable(pattern.NewNameReference("p"))
	p.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	n := pattern.NewThingVariable(pattern.NewNameReference("n"))
	n.PutIsa(pattern.NewLabelVariable(graph.NewLabel("name")), false)
	n.PutValue(pattern.OpEQ, encoding.StringValue(name))
	p.PutHas(n)

	answers, err := txn.Query().Insert(context.Background(), InsertQuery{Variables: []*pattern.ThingVariable{p, n}}, Options{})
	require.NoError(t, err)
	require.Len(t, answers, 1)
	require.NoError(t, txn.Commit())
	return answers[0]
}

func TestDefineAndInsertAndMatch(t *testing.T) {
	db := newTestDatabase(t)
	defineBaseSchema(t, db)
	insertPerson(t, db, "alice")
	insertPerson(t, db, "bob")

	txn := db.Session(SessionData).Transaction(TransactionRead)
	defer txn.Close()

	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	answers, err := procedure.Collect(txn.Query().Match(context.Background(), MatchQuery{Pattern: pattern.NewConjunction(x)}, Options{}))
	require.NoError(t, err)
	assert.Len(t, answers, 2)

	// Answers carry only named variables.
	for _, a := range answers {
		require.Contains(t, a, "$x")
		assert.Len(t, a, 1)
	}
}

func TestAttributeRoundTripSingleVertex(t *testing.T) {
	db := newTestDatabase(t)
	defineBaseSchema(t, db)

	txn := db.Session(SessionData).Transaction(TransactionWrite)
	defer txn.Close()

	insert := func() procedure.Answer {
		a := pattern.NewThingVariable(pattern.NewNameReference("a"))
		a.PutIsa(pattern.NewLabelVariable(graph.NewLabel("name")), false)
		a.PutValue(pattern.OpEQ, encoding.StringValue("foo"))
		answers, err := txn.Query().Insert(context.Background(), InsertQuery{Variables: []*pattern.ThingVariable{a}}, Options{})
		require.NoError(t, err)
		require.Len(t, answers, 1)
		return answers[0]
	}
	first := insert()
	second := insert()

	firstIID := first["$a"].AsThing().IID()
	assert.Equal(t, firstIID, second["$a"].AsThing().IID())

	// IID layout: attr-prefix | type-IID(name) | STRING | len=3 | "foo".
	nameType := db.Graph().Schema().GetType(graph.NewLabel("name"))
	require.NotNil(t, nameType)
	expected := append([]byte{byte(encoding.PrefixAttribute)}, nameType.IID().Bytes()...)
	expected = append(expected, byte(encoding.ValueString), 3)
	expected = append(expected, []byte("foo")...)
	assert.Equal(t, expected, firstIID.Bytes())

	// A single persisted vertex.
	assert.Equal(t, int64(1), db.Graph().Schema().Stats().InstancesCount(nameType))
}

func TestInsertRequiresWriteTransaction(t *testing.T) {
	db := newTestDatabase(t)
	defineBaseSchema(t, db)

	txn := db.Session(SessionData).Transaction(TransactionRead)
	defer txn.Close()
	p := pattern.NewThingVariable(pattern.NewNameReference("p"))
	p.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	_, err := txn.Query().Insert(context.Background(), InsertQuery{Variables: []*pattern.ThingVariable{p}}, Options{})
	require.ErrorIs(t, err, kgerr.ErrTransactionReadViolation)
}

func TestInsertRejectedInSchemaSession(t *testing.T) {
	db := newTestDatabase(t)
	defineBaseSchema(t, db)

	txn := db.Session(SessionSchema).Transaction(TransactionWrite)
	defer txn.Close()
	p := pattern.NewThingVariable(pattern.NewNameReference("p"))
	p.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	_, err := txn.Query().Insert(context.Background(), InsertQuery{Variables: []*pattern.ThingVariable{p}}, Options{})
	require.ErrorIs(t, err, kgerr.ErrSessionSchemaViolation)
}

func TestDefineRejectedInDataSession(t *testing.T) {
	db := newTestDatabase(t)
	txn := db.Session(SessionData).Transaction(TransactionWrite)
	defer txn.Close()
	err := txn.Query().Define(context.Background(), DefineQuery{
		Types: []TypeDef{{Kind: DefEntityType, Label: "person"}},
	})
	require.ErrorIs(t, err, kgerr.ErrSessionDataViolation)
}

func TestInsertWithoutIsaRejected(t *testing.T) {
	db := newTestDatabase(t)
	defineBaseSchema(t, db)

	txn := db.Session(SessionData).Transaction(TransactionWrite)
	defer txn.Close()
	p := pattern.NewThingVariable(pattern.NewNameReference("p"))
	_, err := txn.Query().Insert(context.Background(), InsertQuery{Variables: []*pattern.ThingVariable{p}}, Options{})
	require.ErrorIs(t, err, kgerr.ErrThingIsaMissing)
}

func TestInsertRelationWithMatch(t *testing.T) {
	db := newTestDatabase(t)
	defineBaseSchema(t, db)
	insertPerson(t, db, "alice")
	insertPerson(t, db, "bob")

	txn := db.Session(SessionData).Transaction(TransactionWrite)
	defer txn.Close()

	// match { $x has name "alice"; $y has name "bob" } insert (spouse: $x, spouse: $y) isa marriage
	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	nx := pattern.NewThingVariable(pattern.NewAnonymousReference(0))
	nx.PutIsa(pattern.NewLabelVariable(graph.NewLabel("name")), false)
	nx.PutValue(pattern.OpEQ, encoding.StringValue("alice"))
	x.PutHas(nx)
	y := pattern.NewThingVariable(pattern.NewNameReference("y"))
	y.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	ny := pattern.NewThingVariable(pattern.NewAnonymousReference(1))
	ny.PutIsa(pattern.NewLabelVariable(graph.NewLabel("name")), false)
	ny.PutValue(pattern.OpEQ, encoding.StringValue("bob"))
	y.PutHas(ny)
	match := MatchQuery{Pattern: pattern.NewConjunction(x, nx, y, ny)}

	m := pattern.NewThingVariable(pattern.NewNameReference("m"))
	m.PutIsa(pattern.NewLabelVariable(graph.NewLabel("marriage")), false)
	m.PutRelation(
		pattern.RolePlayer{RoleType: pattern.NewLabelVariable(graph.NewLabel("spouse")), Player: pattern.NewThingVariable(pattern.NewNameReference("x"))},
		pattern.RolePlayer{RoleType: pattern.NewLabelVariable(graph.NewLabel("spouse")), Player: pattern.NewThingVariable(pattern.NewNameReference("y"))},
	)

	answers, err := txn.Query().Insert(context.Background(), InsertQuery{
		Match:     &match,
		Variables: []*pattern.ThingVariable{m},
	}, Options{})
	require.NoError(t, err)
	require.Len(t, answers, 1)
	require.NoError(t, txn.Commit())

	marriageType := db.Graph().Schema().GetType(graph.NewLabel("marriage"))
	assert.Equal(t, int64(1), db.Graph().Schema().Stats().InstancesCount(marriageType))
}

func TestDeleteRemovesMatched(t *testing.T) {
	db := newTestDatabase(t)
	defineBaseSchema(t, db)
	insertPerson(t, db, "alice")

	txn := db.Session(SessionData).Transaction(TransactionWrite)
	defer txn.Close()

	// match { $x isa person; $x has $n } delete $x, $n
	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	n := pattern.NewThingVariable(pattern.NewNameReference("n"))
	x.PutHas(n)
	match := MatchQuery{Pattern: pattern.NewConjunction(x, n)}

	dx := pattern.NewThingVariable(pattern.NewNameReference("x"))
	dn := pattern.NewThingVariable(pattern.NewNameReference("n"))
	err := txn.Query().Delete(context.Background(), DeleteQuery{
		Match:     match,
		Variables: []*pattern.ThingVariable{dx, dn},
	}, Options{})
	require.NoError(t, err)

	person := db.Graph().Schema().GetType(graph.NewLabel("person"))
	assert.Equal(t, int64(0), db.Graph().Schema().Stats().InstancesCount(person))
}

func TestMatchAggregateCount(t *testing.T) {
	db := newTestDatabase(t)
	defineBaseSchema(t, db)
	insertPerson(t, db, "alice")
	insertPerson(t, db, "bob")

	txn := db.Session(SessionData).Transaction(TransactionRead)
	defer txn.Close()

	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	count, err := txn.Query().MatchAggregate(context.Background(), AggregateQuery{
		Match:  MatchQuery{Pattern: pattern.NewConjunction(x)},
		Method: AggregateCount,
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, count)
}

func TestMatchGroupByOwner(t *testing.T) {
	db := newTestDatabase(t)
	defineBaseSchema(t, db)
	insertPerson(t, db, "alice")
	insertPerson(t, db, "bob")

	txn := db.Session(SessionData).Transaction(TransactionRead)
	defer txn.Close()

	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	n := pattern.NewThingVariable(pattern.NewNameReference("n"))
	x.PutHas(n)

	groups, err := txn.Query().MatchGroup(context.Background(), GroupQuery{
		Match: MatchQuery{Pattern: pattern.NewConjunction(x, n)},
		By:    "x",
	}, Options{})
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestUndefineRule(t *testing.T) {
	db := newTestDatabase(t)
	defineBaseSchema(t, db)

	schemaTxn := db.Session(SessionSchema).Transaction(TransactionWrite)
	defer schemaTxn.Close()

	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	then := pattern.NewThingVariable(pattern.NewAnonymousReference(0))
	then.PutIsa(pattern.NewLabelVariable(graph.NewLabel("marriage")), false)
	then.PutRelation(pattern.RolePlayer{
		RoleType: pattern.NewLabelVariable(graph.NewScopedLabel("marriage", "spouse")),
		Player:   pattern.NewThingVariable(pattern.NewNameReference("x")),
	})
	err := schemaTxn.Query().Define(context.Background(), DefineQuery{
		Rules: []RuleDef{{Label: "self-marriage", When: pattern.NewConjunction(x), Then: then}},
	})
	require.NoError(t, err)
	require.NotNil(t, db.Logic().GetRule("self-marriage"))

	err = schemaTxn.Query().Undefine(context.Background(), UndefineQuery{Rules: []string{"self-marriage"}})
	require.NoError(t, err)
	assert.Nil(t, db.Logic().GetRule("self-marriage"))
}

func TestUpdateReplacesAttribute(t *testing.T) {
	db := newTestDatabase(t)
	defineBaseSchema(t, db)
	insertPerson(t, db, "alice")

	txn := db.Session(SessionData).Transaction(TransactionWrite)
	defer txn.Close()

	// match { $x isa person; $x has $n } delete $n insert $x has name "alicia"
	x := pattern.NewThingVariable(pattern.NewNameReference("x"))
	x.PutIsa(pattern.NewLabelVariable(graph.NewLabel("person")), false)
	n := pattern.NewThingVariable(pattern.NewNameReference("n"))
	x.PutHas(n)
	match := MatchQuery{Pattern: pattern.NewConjunction(x, n)}

	dx := pattern.NewThingVariable(pattern.NewNameReference("x"))
	dn := pattern.NewThingVariable(pattern.NewNameReference("n"))
	dx.PutHas(dn)

	ix := pattern.NewThingVariable(pattern.NewNameReference("x"))
	newName := pattern.NewThingVariable(pattern.NewAnonymousReference(0))
	newName.PutIsa(pattern.NewLabelVariable(graph.NewLabel("name")), false)
	newName.PutValue(pattern.OpEQ, encoding.StringValue("alicia"))
	ix.PutHas(newName)

	answers, err := txn.Query().Update(context.Background(), UpdateQuery{
		Match:   match,
		Deletes: []*pattern.ThingVariable{dx},
		Inserts: []*pattern.ThingVariable{ix, newName},
	}, Options{})
	require.NoError(t, err)
	require.Len(t, answers, 1)

	nameType := db.Graph().Schema().GetType(graph.NewLabel("name"))
	got, err := db.Graph().Data().GetAttribute(nameType, encoding.StringValue("alicia"))
	require.NoError(t, err)
	assert.NotNil(t, got)
}
