// Package kvstore wraps the embedded key-value store behind the ordered
// byte-key contract the graph layers depend on: snapshot reads, atomic
// commit, and range scans by key prefix.
package kvstore

import (
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"toposdb/src/helpers"
	"toposdb/src/settings"
)

// Store is the ordered byte-key contract consumed by the graph layers.
type Store interface {
	// Get performs a one-shot point read. Returns (nil, nil) when absent.
	Get(key []byte) ([]byte, error)

	// IteratePrefix streams every pair whose key starts with prefix, in
	// ascending key order, until fn returns false or an error.
	IteratePrefix(prefix []byte, fn func(key, value []byte) (bool, error)) error

	// NewTransaction opens a transaction. A read transaction pins a
	// snapshot; a write transaction additionally buffers writes that
	// become visible to its own reads and are committed atomically.
	NewTransaction(write bool) Txn

	Close() error
}

// Txn is a pinned view over the store, optionally buffering writes.
// Writes are observable to the transaction's own reads before commit.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	IteratePrefix(prefix []byte, fn func(key, value []byte) (bool, error)) error
	Set(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Discard()
}

// BadgerStore implements Store over a badger database.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.SugaredLogger
}

// NewStore opens the store in args.DataDir, or fully in memory when
// args.InMemory is set.
func NewStore(args *settings.Arguments, logger *zap.SugaredLogger) (*BadgerStore, error) {
	var opts badger.Options
	if args.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(args.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", args.DataDir, err)
		}
		opts = badger.DefaultOptions(args.DataDir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open key-value store: %w", err)
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	txn := s.NewTransaction(false)
	defer txn.Discard()
	return txn.Get(key)
}

func (s *BadgerStore) IteratePrefix(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	txn := s.NewTransaction(false)
	defer txn.Discard()
	return txn.IteratePrefix(prefix, fn)
}

func (s *BadgerStore) NewTransaction(write bool) Txn {
	return &badgerTxn{txn: s.db.NewTransaction(write)}
}

func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return multierr.Append(fmt.Errorf("failed to close key-value store"), err)
	}
	return nil
}

type badgerTxn struct {
	txn *badger.Txn
}

func (t *badgerTxn) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("point read failed: %w", err)
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (t *badgerTxn) Has(key []byte) (bool, error) {
	_, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *badgerTxn) IteratePrefix(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		cont, err := fn(key, value)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (t *badgerTxn) Set(key, value []byte) error {
	return t.txn.Set(helpers.CopyBytes(key), helpers.CopyBytes(value))
}

func (t *badgerTxn) Delete(key []byte) error {
	return t.txn.Delete(helpers.CopyBytes(key))
}

func (t *badgerTxn) Commit() error {
	return t.txn.Commit()
}

func (t *badgerTxn) Discard() {
	t.txn.Discard()
}
