package graph

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"toposdb/src/encoding"
	"toposdb/src/kgerr"
	"toposdb/src/kvstore"
)

// Root type labels, pre-seeded on every database.
const (
	RootThingLabel     = "thing"
	RootEntityLabel    = "entity"
	RootRelationLabel  = "relation"
	RootAttributeLabel = "attribute"
	RootRoleLabel      = "role"
)

// typeDoc is the persisted form of a type vertex.
type typeDoc struct {
	IID       []byte `bson:"iid"`
	Label     string `bson:"label"`
	Scope     string `bson:"scope,omitempty"`
	Abstract  bool   `bson:"abstract,omitempty"`
	ValueKind byte   `bson:"value_kind,omitempty"`
	Parent    []byte `bson:"parent,omitempty"`
}

// SchemaGraph caches the loaded type DAG and serves the statistics the
// traversal planner costs edges with. Mutations happen only inside schema
// transactions; readers go through the snapshot counter on Statistics.
type SchemaGraph struct {
	store  kvstore.Store
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	byLabel map[string]*TypeVertex
	byIID   map[string]*TypeVertex
	nextKey map[encoding.Prefix]uint16

	rootThing     *TypeVertex // synthetic, not persisted
	rootEntity    *TypeVertex
	rootRelation  *TypeVertex
	rootAttribute *TypeVertex
	rootRole      *TypeVertex

	stats *Statistics
}

// NewSchemaGraph builds a schema graph over the store, seeding the root
// types.
// TODO: load persisted type documents on open so an existing database
// directory survives a restart.
func NewSchemaGraph(store kvstore.Store, logger *zap.SugaredLogger) (*SchemaGraph, error) {
	g := &SchemaGraph{
		store:   store,
		logger:  logger,
		byLabel: make(map[string]*TypeVertex),
		byIID:   make(map[string]*TypeVertex),
		nextKey: make(map[encoding.Prefix]uint16),
		stats:   newStatistics(),
	}
	if err := g.seedRoots(); err != nil {
		return nil, err
	}
	return g, nil
}

// Stats exposes the statistics view.
func (g *SchemaGraph) Stats() *Statistics { return g.stats }

func (g *SchemaGraph) seedRoots() error {
	var err error
	if g.rootEntity, err = g.createType(encoding.PrefixEntityType, NewLabel(RootEntityLabel), nil, true); err != nil {
		return err
	}
	if g.rootRelation, err = g.createType(encoding.PrefixRelationType, NewLabel(RootRelationLabel), nil, true); err != nil {
		return err
	}
	if g.rootAttribute, err = g.createType(encoding.PrefixAttributeType, NewLabel(RootAttributeLabel), nil, true); err != nil {
		return err
	}
	if g.rootRole, err = g.createType(encoding.PrefixRoleType, NewScopedLabel(RootRelationLabel, RootRoleLabel), nil, true); err != nil {
		return err
	}
	// The thing root is synthetic: it parents the three instance partitions
	// for statistics purposes and is never persisted or traversed.
	g.rootThing = &TypeVertex{
		label:    NewLabel(RootThingLabel),
		root:     true,
		abstract: true,
		children: []*TypeVertex{g.rootEntity, g.rootRelation, g.rootAttribute},
	}
	return nil
}

func (g *SchemaGraph) createType(prefix encoding.Prefix, label Label, parent *TypeVertex, root bool) (*TypeVertex, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.byLabel[label.Scoped()]; exists {
		return nil, kgerr.Of(kgerr.ErrIllegalState, "type %q already defined", label.Scoped())
	}

	key := g.nextKey[prefix]
	g.nextKey[prefix] = key + 1
	vertex := &TypeVertex{
		iid:    encoding.NewTypeIID(prefix, key),
		label:  label,
		root:   root,
		owns:   make(map[*TypeVertex]bool),
		parent: parent,
	}
	if root {
		vertex.abstract = true
	}
	if parent != nil {
		parent.children = append(parent.children, vertex)
	}
	g.byLabel[label.Scoped()] = vertex
	g.byIID[string(vertex.iid)] = vertex

	if err := g.persistType(vertex); err != nil {
		return nil, err
	}
	g.stats.bump()
	return vertex, nil
}

func (g *SchemaGraph) persistType(vertex *TypeVertex) error {
	doc := typeDoc{
		IID:      vertex.iid.Bytes(),
		Label:    vertex.label.Name,
		Scope:    vertex.label.Scope,
		Abstract: vertex.abstract,
	}
	if vertex.IsAttributeType() {
		doc.ValueKind = byte(vertex.valueKind)
	}
	if vertex.parent != nil {
		doc.Parent = vertex.parent.iid.Bytes()
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return kgerr.Wrap(kgerr.ErrIllegalState, err)
	}

	txn := g.store.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(vertex.iid.Bytes(), raw); err != nil {
		return err
	}
	if err := txn.Set(encoding.TypeIndexKey(vertex.label.Name, vertex.label.Scope), vertex.iid.Bytes()); err != nil {
		return err
	}
	return txn.Commit()
}

// PutEntityType creates an entity type under the entity root.
func (g *SchemaGraph) PutEntityType(name string) (*TypeVertex, error) {
	return g.createType(encoding.PrefixEntityType, NewLabel(name), g.rootEntity, false)
}

// PutRelationType creates a relation type under the relation root.
func (g *SchemaGraph) PutRelationType(name string) (*TypeVertex, error) {
	return g.createType(encoding.PrefixRelationType, NewLabel(name), g.rootRelation, false)
}

// PutAttributeType creates an attribute type with the given value kind
// under the attribute root.
func (g *SchemaGraph) PutAttributeType(name string, kind encoding.ValueKind) (*TypeVertex, error) {
	vertex, err := g.createType(encoding.PrefixAttributeType, NewLabel(name), g.rootAttribute, false)
	if err != nil {
		return nil, err
	}
	vertex.valueKind = kind
	return vertex, g.persistType(vertex)
}

// SetRelates declares a role on a relation type, creating the scoped role
// type if absent, and returns it.
func (g *SchemaGraph) SetRelates(relation *TypeVertex, roleName string) (*TypeVertex, error) {
	if !relation.IsRelationType() {
		return nil, kgerr.Of(kgerr.ErrIllegalState, "relates declared on non-relation type %q", relation.label)
	}
	label := NewScopedLabel(relation.label.Name, roleName)
	if existing := g.GetType(label); existing != nil {
		return existing, nil
	}
	role, err := g.createType(encoding.PrefixRoleType, label, g.rootRole, false)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	role.relation = relation
	relation.relates = append(relation.relates, role)
	g.mu.Unlock()
	g.stats.bump()
	return role, nil
}

// GetRelates resolves a declared role of a relation type by name.
func (g *SchemaGraph) GetRelates(relation *TypeVertex, roleName string) *TypeVertex {
	for _, role := range relation.Relates() {
		if role.label.Name == roleName {
			return role
		}
	}
	return nil
}

// SetSub reparents child under parent. Both must belong to the same
// partition and the move must not create a cycle.
func (g *SchemaGraph) SetSub(child, parent *TypeVertex) error {
	if child.root {
		return kgerr.ErrRootTypeModification
	}
	if child.iid.Prefix() != parent.iid.Prefix() {
		return kgerr.Of(kgerr.ErrIllegalState, "%q and %q are in different partitions", child.label, parent.label)
	}
	if parent.IsSubtypeOf(child) {
		return kgerr.Of(kgerr.ErrSubCycle, "%q sub %q", child.label, parent.label)
	}
	if child.IsAttributeType() && parent.IsAttributeType() && !parent.root &&
		child.valueKind != parent.valueKind {
		return kgerr.Of(kgerr.ErrIllegalState, "value kind mismatch between %q and %q", child.label, parent.label)
	}

	g.mu.Lock()
	if old := child.parent; old != nil {
		for i, c := range old.children {
			if c == child {
				old.children = append(old.children[:i], old.children[i+1:]...)
				break
			}
		}
	}
	child.parent = parent
	parent.children = append(parent.children, child)
	g.mu.Unlock()

	g.stats.bump()
	return g.persistType(child)
}

// SetOwns declares ownership of an attribute type, optionally as a key.
func (g *SchemaGraph) SetOwns(owner, attr *TypeVertex, isKey bool) error {
	if !attr.IsAttributeType() {
		return kgerr.Of(kgerr.ErrOwnsIncompatible, "%q is not an attribute type", attr.label)
	}
	if !owner.IsEntityType() && !owner.IsRelationType() && !owner.IsAttributeType() {
		return kgerr.Of(kgerr.ErrOwnsIncompatible, "%q cannot own attributes", owner.label)
	}
	g.mu.Lock()
	owner.owns[attr] = isKey
	g.mu.Unlock()
	g.stats.bump()
	return nil
}

// SetPlays declares that instances of owner can play the role type.
func (g *SchemaGraph) SetPlays(owner, role *TypeVertex) error {
	if !role.IsRoleType() {
		return kgerr.Of(kgerr.ErrPlaysIncompatible, "%q is not a role type", role.label)
	}
	g.mu.Lock()
	owner.plays = append(owner.plays, role)
	g.mu.Unlock()
	g.stats.bump()
	return nil
}

// DeleteType removes a leaf type without instances from the DAG.
func (g *SchemaGraph) DeleteType(label Label) error {
	t := g.GetType(label)
	if t == nil {
		return kgerr.Of(kgerr.ErrTypeNotFound, "%q", label.Scoped())
	}
	if t.root {
		return kgerr.ErrRootTypeModification
	}
	if len(t.children) > 0 {
		return kgerr.Of(kgerr.ErrIllegalState, "%q still has subtypes", label.Scoped())
	}
	if g.stats.InstancesCount(t) > 0 {
		return kgerr.Of(kgerr.ErrIllegalState, "%q still has instances", label.Scoped())
	}

	g.mu.Lock()
	if t.parent != nil {
		for i, c := range t.parent.children {
			if c == t {
				t.parent.children = append(t.parent.children[:i], t.parent.children[i+1:]...)
				break
			}
		}
	}
	delete(g.byLabel, label.Scoped())
	delete(g.byIID, string(t.iid))
	g.mu.Unlock()

	txn := g.store.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Delete(t.iid.Bytes()); err != nil {
		return err
	}
	if err := txn.Delete(encoding.TypeIndexKey(label.Name, label.Scope)); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	g.stats.bump()
	return nil
}

// GetType resolves a label to its type vertex, nil when absent.
func (g *SchemaGraph) GetType(label Label) *TypeVertex {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.byLabel[label.Scoped()]
}

// MustGetType resolves a label or fails with ErrTypeNotFound.
func (g *SchemaGraph) MustGetType(label Label) (*TypeVertex, error) {
	if t := g.GetType(label); t != nil {
		return t, nil
	}
	return nil, kgerr.Of(kgerr.ErrTypeNotFound, "%q", label.Scoped())
}

// GetTypeByIID resolves a type IID to its vertex.
func (g *SchemaGraph) GetTypeByIID(iid encoding.TypeIID) *TypeVertex {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.byIID[string(iid)]
}

// Root accessors.
func (g *SchemaGraph) RootThingType() *TypeVertex     { return g.rootThing }
func (g *SchemaGraph) RootEntityType() *TypeVertex    { return g.rootEntity }
func (g *SchemaGraph) RootRelationType() *TypeVertex  { return g.rootRelation }
func (g *SchemaGraph) RootAttributeType() *TypeVertex { return g.rootAttribute }
func (g *SchemaGraph) RootRoleType() *TypeVertex      { return g.rootRole }

// EntityTypes returns every entity type including the root.
func (g *SchemaGraph) EntityTypes() []*TypeVertex { return g.rootEntity.Subtypes() }

// RelationTypes returns every relation type including the root.
func (g *SchemaGraph) RelationTypes() []*TypeVertex { return g.rootRelation.Subtypes() }

// AttributeTypes returns every attribute type including the root.
func (g *SchemaGraph) AttributeTypes() []*TypeVertex { return g.rootAttribute.Subtypes() }

// ThingTypes returns every instantiable type partition root's subtree.
func (g *SchemaGraph) ThingTypes() []*TypeVertex {
	out := g.EntityTypes()
	out = append(out, g.RelationTypes()...)
	out = append(out, g.AttributeTypes()...)
	return out
}

// OwnersOfAttributeType returns the types that own attr, directly or by
// inheritance.
func (g *SchemaGraph) OwnersOfAttributeType(attr *TypeVertex) []*TypeVertex {
	var owners []*TypeVertex
	for _, t := range g.ThingTypes() {
		for _, owned := range t.Owns() {
			if attr.IsSubtypeOf(owned) || owned == attr {
				owners = append(owners, t)
				break
			}
		}
	}
	return owners
}

// ResolveLabels maps labels to type vertices, skipping unknown labels.
func (g *SchemaGraph) ResolveLabels(labels []Label) []*TypeVertex {
	out := make([]*TypeVertex, 0, len(labels))
	for _, l := range labels {
		if t := g.GetType(l); t != nil {
			out = append(out, t)
		}
	}
	return out
}
