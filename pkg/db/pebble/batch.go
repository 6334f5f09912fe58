package pebble

import (
	"errors"
	"fmt"
	"io"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/kvdown/pkg/db"
)

// writeTxn buffers writes in an indexed batch so the transaction can read
// its own writes. It holds the store's writer lock until Commit or Abort.
type writeTxn struct {
	store *Store
	batch *pebble.Batch
	done  bool
}

func (t *writeTxn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, db.ErrTxnDone
	}
	return get(t.batch, key)
}

func (t *writeTxn) Put(key, value []byte) error {
	if t.done {
		return db.ErrTxnDone
	}
	return t.batch.Set(key, value, nil)
}

func (t *writeTxn) Delete(key []byte) error {
	if t.done {
		return db.ErrTxnDone
	}
	return t.batch.Delete(key, nil)
}

func (t *writeTxn) NewCursor() (db.Cursor, error) {
	if t.done {
		return nil, db.ErrTxnDone
	}
	return newCursor(t.batch)
}

func (t *writeTxn) Compare(a, b []byte) int {
	return t.store.compare(a, b)
}

func (t *writeTxn) Commit(sync bool) error {
	if t.done {
		return db.ErrTxnDone
	}
	defer t.finish()

	if limit := t.store.opts.MapSize; limit > 0 && t.store.usage()+uint64(t.batch.Len()) > limit {
		return db.ErrMapFull
	}
	if err := t.batch.Commit(t.store.writeOptions(sync)); err != nil {
		return fmt.Errorf("pebble: commit: %w", err)
	}
	t.store.lastTxn.Add(1)
	return nil
}

func (t *writeTxn) Abort() {
	if t.done {
		return
	}
	t.finish()
}

func (t *writeTxn) finish() {
	t.done = true
	_ = t.batch.Close()
	t.store.writeMu.Unlock()
}

// readTxn reads from a snapshot taken at Begin.
type readTxn struct {
	store *Store
	snap  *pebble.Snapshot
	done  bool
}

func (t *readTxn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, db.ErrTxnDone
	}
	return get(t.snap, key)
}

func (t *readTxn) Put(key, value []byte) error {
	if t.done {
		return db.ErrTxnDone
	}
	return db.ErrReadOnly
}

func (t *readTxn) Delete(key []byte) error {
	if t.done {
		return db.ErrTxnDone
	}
	return db.ErrReadOnly
}

func (t *readTxn) NewCursor() (db.Cursor, error) {
	if t.done {
		return nil, db.ErrTxnDone
	}
	return newCursor(t.snap)
}

func (t *readTxn) Compare(a, b []byte) int {
	return t.store.compare(a, b)
}

// Commit ends the read transaction; there is nothing to persist.
func (t *readTxn) Commit(bool) error {
	if t.done {
		return db.ErrTxnDone
	}
	t.finish()
	return nil
}

func (t *readTxn) Abort() {
	if t.done {
		return
	}
	t.finish()
}

func (t *readTxn) finish() {
	t.done = true
	_ = t.snap.Close()
	t.store.readers.Release()
}

type getter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func get(g getter, key []byte) ([]byte, error) {
	value, closer, err := g.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close() //nolint:errcheck

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}
