package bolt

import (
	"bytes"

	bolt "go.etcd.io/bbolt"

	"github.com/eigerco/kvdown/pkg/db"
)

type txn struct {
	store *Store
	tx    *bolt.Tx
	// bucket is nil when a read-only store was opened on a file that never
	// had the bucket created.
	bucket   *bolt.Bucket
	writable bool
	// pending counts bytes put in this transaction; bolt only allocates
	// pages at commit time.
	pending int64
	// delta is the change in entry count applied at commit.
	delta int64
	done  bool
}

func (t *txn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, db.ErrTxnDone
	}
	if t.bucket == nil {
		return nil, db.ErrNotFound
	}

	value := t.bucket.Get(key)
	if value == nil {
		return nil, db.ErrNotFound
	}
	return bytes.Clone(value), nil
}

func (t *txn) Put(key, value []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	exists := t.exists(key)
	if err := t.bucket.Put(key, value); err != nil {
		return err
	}
	t.pending += int64(len(key) + len(value))
	if !exists {
		t.delta++
	}
	return nil
}

func (t *txn) Delete(key []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	exists := t.exists(key)
	if err := t.bucket.Delete(key); err != nil {
		return err
	}
	if exists {
		t.delta--
	}
	return nil
}

// exists reports whether key is present, including keys with empty values.
func (t *txn) exists(key []byte) bool {
	k, _ := t.bucket.Cursor().Seek(key)
	return k != nil && bytes.Equal(k, key)
}

func (t *txn) checkWritable() error {
	if t.done {
		return db.ErrTxnDone
	}
	if !t.writable {
		return db.ErrReadOnly
	}
	return nil
}

func (t *txn) NewCursor() (db.Cursor, error) {
	if t.done {
		return nil, db.ErrTxnDone
	}
	if t.bucket == nil {
		return &cursor{}, nil
	}
	return &cursor{c: t.bucket.Cursor()}, nil
}

func (t *txn) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

func (t *txn) Commit(sync bool) error {
	if t.done {
		return db.ErrTxnDone
	}
	t.done = true

	if !t.writable {
		t.store.readers.Release()
		return t.tx.Rollback()
	}

	if limit := int64(t.store.opts.MapSize); limit > 0 && t.tx.Size()+t.pending > limit {
		_ = t.tx.Rollback()
		return db.ErrMapFull
	}
	if err := t.tx.Commit(); err != nil {
		return err
	}
	t.store.entries.Add(t.delta)
	if sync && !t.store.opts.Sync {
		return t.store.db.Sync()
	}
	return nil
}

func (t *txn) Abort() {
	if t.done {
		return
	}
	t.done = true

	_ = t.tx.Rollback()
	if !t.writable {
		t.store.readers.Release()
	}
}

// cursor keeps the current pair because bolt cursors only return it from
// the positioning calls.
type cursor struct {
	c          *bolt.Cursor
	key, value []byte
}

func (c *cursor) set(key, value []byte) bool {
	c.key, c.value = key, value
	return key != nil
}

func (c *cursor) SeekGE(key []byte) bool {
	if c.c == nil {
		return false
	}
	return c.set(c.c.Seek(key))
}

func (c *cursor) First() bool {
	if c.c == nil {
		return false
	}
	return c.set(c.c.First())
}

func (c *cursor) Last() bool {
	if c.c == nil {
		return false
	}
	return c.set(c.c.Last())
}

func (c *cursor) Next() bool {
	if c.c == nil || c.key == nil {
		return false
	}
	return c.set(c.c.Next())
}

func (c *cursor) Prev() bool {
	if c.c == nil || c.key == nil {
		return false
	}
	return c.set(c.c.Prev())
}

func (c *cursor) Valid() bool { return c.key != nil }
func (c *cursor) Err() error  { return nil }
func (c *cursor) Close() error {
	c.c, c.key, c.value = nil, nil, nil
	return nil
}

func (c *cursor) Key() []byte {
	return bytes.Clone(c.key)
}

func (c *cursor) Value() ([]byte, error) {
	if c.key == nil {
		return nil, db.ErrNotFound
	}
	if c.value == nil {
		return []byte{}, nil
	}
	return bytes.Clone(c.value), nil
}
