package bolt

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/kvdown/pkg/db"
	"github.com/eigerco/kvdown/pkg/db/enginetest"
)

func openStore(t *testing.T, location string, opts db.EnvOptions) db.Engine {
	t.Helper()

	store, err := Open(location, opts)
	require.NoError(t, err)
	return store
}

func TestEngine(t *testing.T) {
	enginetest.Suite{Open: openStore, Persistent: true}.Run(t)
}

func TestStore(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, location string)
	}{
		{name: "map_size_exceeded", fn: testMapSizeExceeded},
		{name: "copy", fn: testCopy},
		{name: "single_file_layout", fn: testNoSubdir},
		{name: "read_only", fn: testReadOnly},
		{name: "store_closure", fn: testStoreClosure},
		{name: "properties", fn: testProperties},
		{name: "entry_count", fn: testEntryCount},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, t.TempDir())
		})
	}
}

func testMapSizeExceeded(t *testing.T, location string) {
	store := openStore(t, location, db.EnvOptions{MapSize: 256 * 1024})
	defer store.Close() //nolint:errcheck

	txn, err := store.Begin(true)
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("big"), make([]byte, 1024*1024)))
	assert.ErrorIs(t, txn.Commit(false), db.ErrMapFull)

	enginetest.Fill(t, store, "small")
	enginetest.RequireKeys(t, []string{"small"}, enginetest.ScanKeys(t, store, false))
}

func testCopy(t *testing.T, location string) {
	store := openStore(t, location, db.EnvOptions{})
	enginetest.Fill(t, store, "a", "b")

	backup := t.TempDir()
	require.NoError(t, store.Copy(backup))
	assert.Error(t, store.Copy(backup), "copy must not overwrite")
	require.NoError(t, store.Close())

	copied := openStore(t, backup, db.EnvOptions{})
	defer copied.Close() //nolint:errcheck
	enginetest.RequireKeys(t, []string{"a", "b"}, enginetest.ScanKeys(t, copied, false))
}

func testNoSubdir(t *testing.T, location string) {
	file := filepath.Join(location, "single.db")

	store := openStore(t, file, db.EnvOptions{NoSubdir: true})
	enginetest.Fill(t, store, "a")
	require.NoError(t, store.Close())

	assert.FileExists(t, file)

	store = openStore(t, file, db.EnvOptions{NoSubdir: true})
	defer store.Close() //nolint:errcheck
	enginetest.RequireKeys(t, []string{"a"}, enginetest.ScanKeys(t, store, false))
}

func testReadOnly(t *testing.T, location string) {
	store := openStore(t, location, db.EnvOptions{})
	enginetest.Fill(t, store, "a")
	require.NoError(t, store.Close())

	ro := openStore(t, location, db.EnvOptions{ReadOnly: true})
	defer ro.Close() //nolint:errcheck

	_, err := ro.Begin(true)
	assert.ErrorIs(t, err, db.ErrReadOnly)
	enginetest.RequireKeys(t, []string{"a"}, enginetest.ScanKeys(t, ro, false))
}

func testStoreClosure(t *testing.T, location string) {
	store := openStore(t, location, db.EnvOptions{})
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Begin(true)
	assert.ErrorIs(t, err, db.ErrClosed)

	_, ok := store.Property(db.PropEntries)
	assert.False(t, ok)
}

func testProperties(t *testing.T, location string) {
	store := openStore(t, location, db.EnvOptions{})
	defer store.Close() //nolint:errcheck

	enginetest.Fill(t, store, "a", "b", "c")

	entries, ok := store.Property(db.PropEntries)
	require.True(t, ok)
	assert.Equal(t, "3", entries)

	version, ok := store.Property(db.PropVersion)
	require.True(t, ok)
	assert.Equal(t, "bbolt/1.4.0", version)

	psize, ok := store.Property(db.PropPageSize)
	require.True(t, ok)
	n, err := strconv.Atoi(psize)
	require.NoError(t, err)
	assert.Positive(t, n)

	before, ok := store.Property(db.PropLastTxnID)
	require.True(t, ok)
	enginetest.Fill(t, store, "d")
	after, _ := store.Property(db.PropLastTxnID)
	assert.NotEqual(t, before, after)

	for _, name := range []string{db.PropDepth, db.PropLeafPages, db.PropBranchPages, db.PropOverflowPages, db.PropLastPageNo, db.PropMapSize} {
		_, ok := store.Property(name)
		assert.True(t, ok, name)
	}
}

func testEntryCount(t *testing.T, location string) {
	store := openStore(t, location, db.EnvOptions{MapSize: 256 * 1024})

	requireEntries := func(want string) {
		t.Helper()
		got, ok := store.Property(db.PropEntries)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	requireEntries("0")
	enginetest.Fill(t, store, "a", "b", "c")
	requireEntries("3")

	// overwrites, empty values and deletes in one transaction
	txn, err := store.Begin(true)
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("a"), []byte("again")))
	require.NoError(t, txn.Put([]byte("e"), []byte{}))
	require.NoError(t, txn.Put([]byte("e"), []byte("x")))
	require.NoError(t, txn.Delete([]byte("b")))
	require.NoError(t, txn.Delete([]byte("b")))
	require.NoError(t, txn.Delete([]byte("missing")))
	requireEntries("3")
	require.NoError(t, txn.Commit(false))
	requireEntries("3")

	txn, err = store.Begin(true)
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("f"), []byte("f")))
	txn.Abort()
	requireEntries("3")

	txn, err = store.Begin(true)
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("big"), make([]byte, 1024*1024)))
	require.ErrorIs(t, txn.Commit(false), db.ErrMapFull)
	requireEntries("3")

	require.NoError(t, store.Close())
	store = openStore(t, location, db.EnvOptions{})
	defer store.Close() //nolint:errcheck
	requireEntries("3")
	enginetest.RequireKeys(t, []string{"a", "c", "e"}, enginetest.ScanKeys(t, store, false))
}
