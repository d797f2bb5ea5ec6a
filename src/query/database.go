package query

import (
	"go.uber.org/zap"

	"toposdb/src/graph"
	"toposdb/src/helpers"
	"toposdb/src/kvstore"
	"toposdb/src/logic"
	"toposdb/src/reasoner"
	"toposdb/src/settings"
	"toposdb/src/traversal"
)

// Database wires the storage, graph, rule and traversal layers into one
// queryable unit.
type Database struct {
	store    kvstore.Store
	mgr      *graph.Manager
	logicMgr *logic.Manager
	engine   *traversal.Engine
	reasoner *reasoner.Reasoner
	logger   *zap.SugaredLogger
	args     *settings.Arguments
}

// NewDatabase opens a database over the configured store.
func NewDatabase(args *settings.Arguments, logger *zap.SugaredLogger) (*Database, error) {
	store, err := kvstore.NewStore(args, logger)
	if err != nil {
		return nil, err
	}
	mgr, err := graph.NewManager(store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logicMgr := logic.NewManager(store, mgr.Schema(), logger)
	engine := traversal.NewEngine(mgr, logger, args)
	return &Database{
		store:    store,
		mgr:      mgr,
		logicMgr: logicMgr,
		engine:   engine,
		reasoner: reasoner.New(engine, logicMgr, logger, args),
		logger:   logger,
		args:     args,
	}, nil
}

// Session opens a session of the given kind.
func (db *Database) Session(typ SessionType) *Session {
	return &Session{ID: helpers.GenerateUUID(), Type: typ, db: db}
}

// Graph exposes the graph manager for tests and tools.
func (db *Database) Graph() *graph.Manager { return db.mgr }

// Logic exposes the rule manager.
func (db *Database) Logic() *logic.Manager { return db.logicMgr }

// Close releases the underlying store.
func (db *Database) Close() error {
	return db.store.Close()
}
