// Package enginetest holds the behaviour every db.Engine implementation must
// share. Engine packages run it from their own tests.
package enginetest

import (
	"slices"
	"strconv"
	"testing"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/kvdown/pkg/db"
)

// OpenFunc opens a fresh engine at location.
type OpenFunc func(t *testing.T, location string, opts db.EnvOptions) db.Engine

type Suite struct {
	Open OpenFunc
	// Persistent engines must keep committed data across Close and reopen.
	Persistent bool
}

func (s Suite) Run(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, eng db.Engine)
	}{
		{name: "put_get", fn: testPutGet},
		{name: "write_txn_reads_own_writes", fn: testReadOwnWrites},
		{name: "abort_discards_writes", fn: testAbort},
		{name: "read_txn_is_a_snapshot", fn: testSnapshotIsolation},
		{name: "delete", fn: testDelete},
		{name: "read_txn_rejects_writes", fn: testReadTxnRejectsWrites},
		{name: "txn_done", fn: testTxnDone},
		{name: "cursor_forward", fn: testCursorForward},
		{name: "cursor_reverse", fn: testCursorReverse},
		{name: "cursor_seek", fn: testCursorSeek},
		{name: "cursor_empty", fn: testCursorEmpty},
		{name: "compare", fn: testCompare},
		{name: "version_property", fn: testVersionProperty},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eng := s.Open(t, t.TempDir(), db.EnvOptions{Sync: true}.WithDefaults())
			defer eng.Close() //nolint:errcheck

			tc.fn(t, eng)
		})
	}

	t.Run("readers_full", func(t *testing.T) {
		eng := s.Open(t, t.TempDir(), db.EnvOptions{MaxReaders: 2}.WithDefaults())
		defer eng.Close() //nolint:errcheck

		testReadersFull(t, eng)
	})

	if s.Persistent {
		t.Run("reopen_keeps_data", func(t *testing.T) {
			location := t.TempDir()
			opts := db.EnvOptions{Sync: true}.WithDefaults()

			eng := s.Open(t, location, opts)
			Fill(t, eng, "a", "b")
			require.NoError(t, eng.Close())

			eng = s.Open(t, location, opts)
			defer eng.Close() //nolint:errcheck
			RequireKeys(t, []string{"a", "b"}, ScanKeys(t, eng, false))
		})
	}
}

// Fill commits one value per key; the value is "v-" + key.
func Fill(t *testing.T, eng db.Engine, keys ...string) {
	t.Helper()

	txn, err := eng.Begin(true)
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, txn.Put([]byte(k), []byte("v-"+k)))
	}
	require.NoError(t, txn.Commit(true))
}

// ScanKeys walks the whole store in one read transaction.
func ScanKeys(t *testing.T, eng db.Engine, reverse bool) []string {
	t.Helper()

	txn, err := eng.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()

	cur, err := txn.NewCursor()
	require.NoError(t, err)
	defer cur.Close() //nolint:errcheck

	var keys []string
	if reverse {
		for ok := cur.Last(); ok; ok = cur.Prev() {
			keys = append(keys, string(cur.Key()))
		}
	} else {
		for ok := cur.First(); ok; ok = cur.Next() {
			keys = append(keys, string(cur.Key()))
		}
	}
	require.NoError(t, cur.Err())
	return keys
}

// RequireKeys fails with a unified diff when the key sequences differ.
func RequireKeys(t *testing.T, want, got []string) {
	t.Helper()

	if slices.Equal(want, got) {
		return
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        lines(want),
		B:        lines(got),
		FromFile: "want",
		ToFile:   "got",
		Context:  2,
	})
	require.NoError(t, err)
	t.Fatalf("key sequence mismatch:\n%s", diff)
}

func lines(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strconv.Quote(k) + "\n"
	}
	return out
}

func get(t *testing.T, eng db.Engine, key string) ([]byte, error) {
	t.Helper()

	txn, err := eng.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()
	return txn.Get([]byte(key))
}

func testPutGet(t *testing.T, eng db.Engine) {
	Fill(t, eng, "a", "b")

	v, err := get(t, eng, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v-a"), v)

	_, err = get(t, eng, "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func testReadOwnWrites(t *testing.T, eng db.Engine) {
	txn, err := eng.Begin(true)
	require.NoError(t, err)
	defer txn.Abort()

	require.NoError(t, txn.Put([]byte("k"), []byte("v")))
	v, err := txn.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func testAbort(t *testing.T, eng db.Engine) {
	txn, err := eng.Begin(true)
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("k"), []byte("v")))
	txn.Abort()

	_, err = get(t, eng, "k")
	assert.ErrorIs(t, err, db.ErrNotFound)

	// the writer slot is free again
	Fill(t, eng, "k")
}

func testSnapshotIsolation(t *testing.T, eng db.Engine) {
	Fill(t, eng, "a")

	reader, err := eng.Begin(false)
	require.NoError(t, err)
	defer reader.Abort()

	Fill(t, eng, "b")

	_, err = reader.Get([]byte("b"))
	assert.ErrorIs(t, err, db.ErrNotFound)

	v, err := get(t, eng, "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("v-b"), v)
}

func testDelete(t *testing.T, eng db.Engine) {
	Fill(t, eng, "a", "b")

	txn, err := eng.Begin(true)
	require.NoError(t, err)
	require.NoError(t, txn.Delete([]byte("a")))
	if err := txn.Delete([]byte("never-written")); err != nil {
		assert.ErrorIs(t, err, db.ErrNotFound)
	}
	require.NoError(t, txn.Commit(false))

	RequireKeys(t, []string{"b"}, ScanKeys(t, eng, false))
}

func testReadTxnRejectsWrites(t *testing.T, eng db.Engine) {
	txn, err := eng.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()

	assert.ErrorIs(t, txn.Put([]byte("k"), []byte("v")), db.ErrReadOnly)
	assert.ErrorIs(t, txn.Delete([]byte("k")), db.ErrReadOnly)
}

func testTxnDone(t *testing.T, eng db.Engine) {
	txn, err := eng.Begin(true)
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("k"), []byte("v")))
	require.NoError(t, txn.Commit(false))

	assert.ErrorIs(t, txn.Commit(false), db.ErrTxnDone)
	assert.ErrorIs(t, txn.Put([]byte("k"), []byte("v")), db.ErrTxnDone)
	txn.Abort()
}

func testCursorForward(t *testing.T, eng db.Engine) {
	Fill(t, eng, "c", "a", "e", "b", "d")
	RequireKeys(t, []string{"a", "b", "c", "d", "e"}, ScanKeys(t, eng, false))

	txn, err := eng.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()
	cur, err := txn.NewCursor()
	require.NoError(t, err)
	defer cur.Close() //nolint:errcheck

	require.True(t, cur.First())
	v, err := cur.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("v-a"), v)
}

func testCursorReverse(t *testing.T, eng db.Engine) {
	Fill(t, eng, "c", "a", "e", "b", "d")
	RequireKeys(t, []string{"e", "d", "c", "b", "a"}, ScanKeys(t, eng, true))
}

func testCursorSeek(t *testing.T, eng db.Engine) {
	Fill(t, eng, "a", "c", "e")

	txn, err := eng.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()
	cur, err := txn.NewCursor()
	require.NoError(t, err)
	defer cur.Close() //nolint:errcheck

	require.True(t, cur.SeekGE([]byte("c")))
	assert.Equal(t, []byte("c"), cur.Key())

	require.True(t, cur.SeekGE([]byte("b")))
	assert.Equal(t, []byte("c"), cur.Key())

	require.True(t, cur.Prev())
	assert.Equal(t, []byte("a"), cur.Key())

	require.True(t, cur.SeekGE([]byte("d")))
	assert.Equal(t, []byte("e"), cur.Key())
	assert.False(t, cur.Next())
	assert.False(t, cur.Valid())

	assert.False(t, cur.SeekGE([]byte("f")))
	assert.False(t, cur.Valid())
	assert.NoError(t, cur.Err())
}

func testCursorEmpty(t *testing.T, eng db.Engine) {
	txn, err := eng.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()
	cur, err := txn.NewCursor()
	require.NoError(t, err)
	defer cur.Close() //nolint:errcheck

	assert.False(t, cur.First())
	assert.False(t, cur.Last())
	assert.False(t, cur.SeekGE([]byte("a")))
	assert.False(t, cur.Valid())
}

func testCompare(t *testing.T, eng db.Engine) {
	txn, err := eng.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()

	assert.Negative(t, txn.Compare([]byte("a"), []byte("b")))
	assert.Positive(t, txn.Compare([]byte("b"), []byte("a")))
	assert.Zero(t, txn.Compare([]byte("ab"), []byte("ab")))
	assert.Negative(t, txn.Compare([]byte("a"), []byte("ab")))
}

func testVersionProperty(t *testing.T, eng db.Engine) {
	v, ok := eng.Property(db.PropVersion)
	require.True(t, ok)
	assert.NotEmpty(t, v)

	_, ok = eng.Property("db.no_such_property")
	assert.False(t, ok)
}

func testReadersFull(t *testing.T, eng db.Engine) {
	r1, err := eng.Begin(false)
	require.NoError(t, err)
	r2, err := eng.Begin(false)
	require.NoError(t, err)

	n, ok := eng.Property(db.PropNumReaders)
	require.True(t, ok)
	assert.Equal(t, "2", n)

	_, err = eng.Begin(false)
	assert.ErrorIs(t, err, db.ErrReadersFull)

	r1.Abort()
	r3, err := eng.Begin(false)
	require.NoError(t, err)

	r2.Abort()
	r3.Abort()

	n, _ = eng.Property(db.PropNumReaders)
	assert.Equal(t, "0", n)
	limit, _ := eng.Property(db.PropMaxReaders)
	assert.Equal(t, "2", limit)
}
