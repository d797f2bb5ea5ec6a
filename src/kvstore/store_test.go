package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toposdb/src/settings"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	args := &settings.Arguments{InMemory: true}
	store, err := NewStore(args, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCommitAndGet(t *testing.T) {
	store := newTestStore(t)

	txn := store.NewTransaction(true)
	require.NoError(t, txn.Set([]byte("a1"), []byte("x")))
	require.NoError(t, txn.Set([]byte("a2"), []byte("y")))
	require.NoError(t, txn.Commit())

	v, err := store.Get([]byte("a1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), v)

	missing, err := store.Get([]byte("zz"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReadYourWrites(t *testing.T) {
	store := newTestStore(t)

	txn := store.NewTransaction(true)
	defer txn.Discard()
	require.NoError(t, txn.Set([]byte("k"), []byte("v")))

	v, err := txn.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	// Not yet visible outside the transaction.
	outside, err := store.Get([]byte("k"))
	require.NoError(t, err)
	assert.Nil(t, outside)
}

func TestIteratePrefixOrdered(t *testing.T) {
	store := newTestStore(t)

	txn := store.NewTransaction(true)
	for _, k := range []string{"p3", "p1", "q1", "p2"} {
		require.NoError(t, txn.Set([]byte(k), []byte(k)))
	}
	require.NoError(t, txn.Commit())

	var seen []string
	err := store.IteratePrefix([]byte("p"), func(key, value []byte) (bool, error) {
		seen = append(seen, string(key))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, seen)
}

func TestSnapshotIsolation(t *testing.T) {
	store := newTestStore(t)

	txn := store.NewTransaction(true)
	require.NoError(t, txn.Set([]byte("k"), []byte("old")))
	require.NoError(t, txn.Commit())

	snap := store.NewTransaction(false)
	defer snap.Discard()

	txn = store.NewTransaction(true)
	require.NoError(t, txn.Set([]byte("k"), []byte("new")))
	require.NoError(t, txn.Commit())

	v, err := snap.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), v)

	v, err = store.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)
}
