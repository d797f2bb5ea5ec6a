package graph

import (
	"sync"

	"go.uber.org/zap"

	"toposdb/src/encoding"
	"toposdb/src/kgerr"
	"toposdb/src/kvstore"
)

// DataGraph reads and writes instance vertices and edges. A thing vertex's
// type is embedded in its IID, so isa resolution is a slice, not a read.
// Attribute vertices are content-addressed: inserting the same typed value
// twice yields the same IID and a single persisted vertex.
type DataGraph struct {
	store  kvstore.Store
	schema *SchemaGraph
	logger *zap.SugaredLogger

	mu           sync.Mutex
	nextThingKey map[string]uint64

	attrMu    sync.Mutex
	attrLocks map[string]*sync.Mutex // per attribute type, upholds upsert uniqueness
}

// NewDataGraph builds a data graph over the store and schema.
func NewDataGraph(store kvstore.Store, schema *SchemaGraph, logger *zap.SugaredLogger) *DataGraph {
	return &DataGraph{
		store:        store,
		schema:       schema,
		logger:       logger,
		nextThingKey: make(map[string]uint64),
		attrLocks:    make(map[string]*sync.Mutex),
	}
}

func (d *DataGraph) allocateKey(t *TypeVertex) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := d.nextThingKey[string(t.iid)]
	d.nextThingKey[string(t.iid)] = key + 1
	return key
}

func (d *DataGraph) attrLock(t *TypeVertex) *sync.Mutex {
	d.attrMu.Lock()
	defer d.attrMu.Unlock()
	lock, ok := d.attrLocks[string(t.iid)]
	if !ok {
		lock = &sync.Mutex{}
		d.attrLocks[string(t.iid)] = lock
	}
	return lock
}

func (d *DataGraph) createThing(t *TypeVertex, prefix encoding.Prefix) (*Thing, error) {
	if t.IsAbstract() {
		return nil, kgerr.Of(kgerr.ErrIllegalAbstractWrite, "%q", t.Label().Scoped())
	}
	iid := encoding.NewThingIID(prefix, t.IID(), d.allocateKey(t))

	txn := d.store.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(iid.Bytes(), nil); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	d.schema.Stats().recordInstance(t, 1)
	return &Thing{iid: iid, typ: t}, nil
}

// CreateEntity creates a fresh entity instance.
func (d *DataGraph) CreateEntity(t *TypeVertex) (*Thing, error) {
	if !t.IsEntityType() {
		return nil, kgerr.Of(kgerr.ErrIllegalState, "%q is not an entity type", t.Label().Scoped())
	}
	return d.createThing(t, encoding.PrefixEntity)
}

// CreateRelation creates a fresh relation instance.
func (d *DataGraph) CreateRelation(t *TypeVertex) (*Thing, error) {
	if !t.IsRelationType() {
		return nil, kgerr.Of(kgerr.ErrIllegalState, "%q is not a relation type", t.Label().Scoped())
	}
	return d.createThing(t, encoding.PrefixRelation)
}

// PutAttribute upserts the attribute vertex addressed by the typed value.
func (d *DataGraph) PutAttribute(t *TypeVertex, value encoding.Value) (*Thing, error) {
	if !t.IsAttributeType() {
		return nil, kgerr.Of(kgerr.ErrIllegalState, "%q is not an attribute type", t.Label().Scoped())
	}
	if t.IsAbstract() {
		return nil, kgerr.Of(kgerr.ErrIllegalAbstractWrite, "%q", t.Label().Scoped())
	}
	if t.ValueKind() != value.Kind {
		return nil, kgerr.Of(kgerr.ErrIllegalState, "value kind %s does not match %q", value.Kind, t.Label().Scoped())
	}

	iid, err := d.attributeIID(t, value)
	if err != nil {
		return nil, err
	}

	lock := d.attrLock(t)
	lock.Lock()
	defer lock.Unlock()

	txn := d.store.NewTransaction(true)
	defer txn.Discard()
	exists, err := txn.Has(iid.Bytes())
	if err != nil {
		return nil, err
	}
	if exists {
		return &Thing{iid: iid, typ: t}, nil
	}
	if err := txn.Set(iid.Bytes(), nil); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	d.schema.Stats().recordInstance(t, 1)
	return &Thing{iid: iid, typ: t}, nil
}

func (d *DataGraph) attributeIID(t *TypeVertex, value encoding.Value) (encoding.ThingIID, error) {
	switch value.Kind {
	case encoding.ValueBool:
		return encoding.NewBoolAttributeIID(t.IID(), value.Bool), nil
	case encoding.ValueLong:
		return encoding.NewLongAttributeIID(t.IID(), value.Long), nil
	case encoding.ValueDouble:
		return encoding.NewDoubleAttributeIID(t.IID(), value.Double), nil
	case encoding.ValueString:
		return encoding.NewStringAttributeIID(t.IID(), value.Str)
	case encoding.ValueDateTime:
		return encoding.NewDateTimeAttributeIID(t.IID(), value.DateTime), nil
	}
	return nil, kgerr.Of(kgerr.ErrUnrecognisedValue, "value kind %d", value.Kind)
}

// GetAttribute resolves the attribute vertex for a typed value, nil when
// no such vertex has been persisted.
func (d *DataGraph) GetAttribute(t *TypeVertex, value encoding.Value) (*Thing, error) {
	iid, err := d.attributeIID(t, value)
	if err != nil {
		return nil, err
	}
	raw, err := d.store.Get(iid.Bytes())
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return &Thing{iid: iid, typ: t}, nil
}

// PutHas links an owner to an attribute it owns.
func (d *DataGraph) PutHas(owner, attr *Thing) error {
	owned := false
	for _, a := range owner.Type().Owns() {
		if attr.Type().IsSubtypeOf(a) {
			owned = true
			break
		}
	}
	if !owned {
		return kgerr.Of(kgerr.ErrOwnsIncompatible, "%q has %q", owner.Type().Label(), attr.Type().Label())
	}

	txn := d.store.NewTransaction(true)
	defer txn.Discard()
	out := encoding.NewThingEdgeIID(owner.iid, encoding.InfixHas, attr.iid)
	in := encoding.NewThingEdgeIID(attr.iid, encoding.InfixHas.In(), owner.iid)
	if err := txn.Set(out.Bytes(), nil); err != nil {
		return err
	}
	if err := txn.Set(in.Bytes(), nil); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	d.schema.Stats().recordHasEdge(owner.Type(), attr.Type(), 1)
	return nil
}

// DeleteHas unlinks an attribute from its owner, removing both edge
// copies.
func (d *DataGraph) DeleteHas(owner, attr *Thing) error {
	txn := d.store.NewTransaction(true)
	defer txn.Discard()
	out := encoding.NewThingEdgeIID(owner.iid, encoding.InfixHas, attr.iid)
	in := encoding.NewThingEdgeIID(attr.iid, encoding.InfixHas.In(), owner.iid)
	if err := txn.Delete(out.Bytes()); err != nil {
		return err
	}
	if err := txn.Delete(in.Bytes()); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	d.schema.Stats().recordHasEdge(owner.Type(), attr.Type(), -1)
	return nil
}

// AddRolePlayer extends a relation with a player in a role. It creates the
// role instance vertex and the playing, relating and optimised role-player
// edges, each in both directions.
func (d *DataGraph) AddRolePlayer(relation *Thing, roleType *TypeVertex, player *Thing) error {
	if !roleType.IsRoleType() {
		return kgerr.Of(kgerr.ErrIllegalState, "%q is not a role type", roleType.Label().Scoped())
	}
	plays := false
	for _, r := range player.Type().Plays() {
		if roleType.IsSubtypeOf(r) || r == roleType {
			plays = true
			break
		}
	}
	if !plays {
		return kgerr.Of(kgerr.ErrPlaysIncompatible, "%q plays %q", player.Type().Label(), roleType.Label().Scoped())
	}

	role := &Thing{
		iid: encoding.NewThingIID(encoding.PrefixRole, roleType.IID(), d.allocateKey(roleType)),
		typ: roleType,
	}

	txn := d.store.NewTransaction(true)
	defer txn.Discard()
	keys := []encoding.ThingEdgeIID{
		encoding.NewThingEdgeIID(relation.iid, encoding.InfixRelating, role.iid),
		encoding.NewThingEdgeIID(role.iid, encoding.InfixRelating.In(), relation.iid),
		encoding.NewThingEdgeIID(player.iid, encoding.InfixPlaying, role.iid),
		encoding.NewThingEdgeIID(role.iid, encoding.InfixPlaying.In(), player.iid),
		encoding.NewRolePlayerEdgeIID(relation.iid, encoding.InfixRolePlayer, player.iid, roleType.IID()),
		encoding.NewRolePlayerEdgeIID(player.iid, encoding.InfixRolePlayer.In(), relation.iid, roleType.IID()),
	}
	if err := txn.Set(role.iid.Bytes(), nil); err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Set(k.Bytes(), nil); err != nil {
			return err
		}
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	d.schema.Stats().recordInstance(roleType, 1)
	return nil
}

// GetThing resolves an IID to a thing handle, nil when absent.
func (d *DataGraph) GetThing(iid encoding.ThingIID) (*Thing, error) {
	value, err := d.store.Get(iid.Bytes())
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	typ := d.schema.GetTypeByIID(iid.Type())
	if typ == nil {
		return nil, kgerr.Of(kgerr.ErrEncodingViolation, "thing %s has unknown type", iid)
	}
	return &Thing{iid: iid, typ: typ}, nil
}

// thingOf rebuilds a handle from a decoded IID.
func (d *DataGraph) thingOf(iid encoding.ThingIID) (*Thing, error) {
	typ := d.schema.GetTypeByIID(iid.Type())
	if typ == nil {
		return nil, kgerr.Of(kgerr.ErrEncodingViolation, "thing %s has unknown type", iid)
	}
	return &Thing{iid: iid, typ: typ}, nil
}

// IterateInstances streams the instances of a type, and of its subtypes
// when transitive is set, in IID order per type.
func (d *DataGraph) IterateInstances(t *TypeVertex, transitive bool, fn func(*Thing) (bool, error)) error {
	types := []*TypeVertex{t}
	if transitive {
		types = t.Subtypes()
	}
	for _, typ := range types {
		thingPrefix := encoding.ThingPrefixForType(typ.IID().Prefix())
		if thingPrefix == 0 {
			continue
		}
		prefix := encoding.ThingIIDPrefix(thingPrefix, typ.IID())
		stop := false
		err := d.store.IteratePrefix(prefix, func(key, _ []byte) (bool, error) {
			iid := encoding.ThingIID(key)
			// Skip edge keys sharing the vertex prefix.
			if !d.isVertexKey(iid) {
				return true, nil
			}
			cont, err := fn(&Thing{iid: iid, typ: typ})
			if !cont || err != nil {
				stop = true
			}
			return cont, err
		})
		if err != nil || stop {
			return err
		}
	}
	return nil
}

// isVertexKey reports whether key is exactly a vertex IID rather than an
// edge key extending one.
func (d *DataGraph) isVertexKey(key []byte) bool {
	if encoding.Prefix(key[0]) == encoding.PrefixAttribute {
		kindAt := encoding.PrefixLength + encoding.TypeIIDLength
		if len(key) <= kindAt {
			return false
		}
		switch encoding.ValueKind(key[kindAt]) {
		case encoding.ValueBool:
			return len(key) == kindAt+2
		case encoding.ValueLong, encoding.ValueDouble, encoding.ValueDateTime:
			return len(key) == kindAt+9
		case encoding.ValueString:
			return len(key) == kindAt+2+int(key[kindAt+1])
		}
		return false
	}
	return len(key) == encoding.ThingIIDLength
}

// IterateEdges streams the edges of one kind and direction stored under a
// vertex.
func (d *DataGraph) IterateEdges(source *Thing, infix encoding.Infix, fn func(encoding.ThingEdgeIID) (bool, error)) error {
	prefix := encoding.ThingEdgePrefix(source.iid, infix)
	return d.store.IteratePrefix(prefix, func(key, _ []byte) (bool, error) {
		return fn(encoding.ThingEdgeIID(key))
	})
}

// EdgeExists reports whether a specific edge of the given kind links
// source to target.
func (d *DataGraph) EdgeExists(source *Thing, infix encoding.Infix, target *Thing) (bool, error) {
	key := encoding.NewThingEdgeIID(source.iid, infix, target.iid)
	value, err := d.store.Get(key.Bytes())
	if err != nil {
		return false, err
	}
	return value != nil, nil
}

// RolePlayerEdgeExists reports whether relation links player through the
// given role type.
func (d *DataGraph) RolePlayerEdgeExists(relation, player *Thing, roleType *TypeVertex) (bool, error) {
	key := encoding.NewRolePlayerEdgeIID(relation.iid, encoding.InfixRolePlayer, player.iid, roleType.iid)
	value, err := d.store.Get(key.Bytes())
	if err != nil {
		return false, err
	}
	return value != nil, nil
}

// HasEdges reports whether the vertex has any edge of any kind.
func (d *DataGraph) HasEdges(thing *Thing, ignore func(encoding.ThingIID) bool) (bool, error) {
	found := false
	err := d.store.IteratePrefix(thing.iid.Bytes(), func(key, _ []byte) (bool, error) {
		if len(key) == len(thing.iid) {
			return true, nil // the vertex itself
		}
		edge := encoding.ThingEdgeIID(key)
		if ignore != nil && ignore(edge.Target()) {
			return true, nil
		}
		found = true
		return false, nil
	})
	return found, err
}

// DeleteThing removes a vertex and its edges. Deletion fails when the
// vertex still has edges to vertices outside alsoDeleting.
func (d *DataGraph) DeleteThing(thing *Thing, alsoDeleting map[string]bool) error {
	live, err := d.HasEdges(thing, func(target encoding.ThingIID) bool {
		return alsoDeleting[string(target)]
	})
	if err != nil {
		return err
	}
	if live {
		return kgerr.Of(kgerr.ErrVertexHasLiveEdges, "%s", thing)
	}

	txn := d.store.NewTransaction(true)
	defer txn.Discard()

	// Collect the vertex key and every edge key under it, plus the
	// reciprocal edge keys stored under the far vertices.
	var toDelete [][]byte
	err = d.store.IteratePrefix(thing.iid.Bytes(), func(key, _ []byte) (bool, error) {
		toDelete = append(toDelete, key)
		if len(key) > len(thing.iid) {
			edge := encoding.ThingEdgeIID(key)
			infix := edge.Infix()
			var reciprocal encoding.ThingEdgeIID
			var flipped encoding.Infix
			if infix.IsOutwards() {
				flipped = infix.In()
			} else {
				flipped = infix.Out()
			}
			if infix.Kind() == encoding.InfixRolePlayer {
				reciprocal = encoding.NewRolePlayerEdgeIID(edge.Target(), flipped, thing.iid, edge.RoleType())
			} else {
				reciprocal = encoding.NewThingEdgeIID(edge.Target(), flipped, thing.iid)
			}
			toDelete = append(toDelete, reciprocal.Bytes())
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, key := range toDelete {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	d.schema.Stats().recordInstance(thing.Type(), -1)
	return nil
}

// Manager pairs the schema and data graphs for callers that need both.
type Manager struct {
	schema *SchemaGraph
	data   *DataGraph
}

// NewManager wires a schema and data graph over one store.
func NewManager(store kvstore.Store, logger *zap.SugaredLogger) (*Manager, error) {
	schema, err := NewSchemaGraph(store, logger)
	if err != nil {
		return nil, err
	}
	return &Manager{
		schema: schema,
		data:   NewDataGraph(store, schema, logger),
	}, nil
}

func (m *Manager) Schema() *SchemaGraph { return m.schema }
func (m *Manager) Data() *DataGraph     { return m.data }
