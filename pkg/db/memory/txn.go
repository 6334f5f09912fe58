package memory

import (
	"bytes"

	"github.com/google/btree"

	"github.com/eigerco/kvdown/pkg/db"
)

type txn struct {
	store    *Store
	tree     *btree.BTreeG[item]
	size     int64
	writable bool
	done     bool
}

func (t *txn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, db.ErrTxnDone
	}

	found, ok := t.tree.Get(item{key: key})
	if !ok {
		return nil, db.ErrNotFound
	}
	return bytes.Clone(found.value), nil
}

func (t *txn) Put(key, value []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}

	it := item{key: bytes.Clone(key), value: bytes.Clone(value)}
	if it.value == nil {
		it.value = []byte{}
	}
	if old, replaced := t.tree.ReplaceOrInsert(it); replaced {
		t.size -= itemSize(old)
	}
	t.size += itemSize(it)
	return nil
}

func (t *txn) Delete(key []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}

	old, ok := t.tree.Delete(item{key: key})
	if !ok {
		return db.ErrNotFound
	}
	t.size -= itemSize(old)
	return nil
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
	return &cursor{tree: t.tree}, nil
}

func (t *txn) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

func (t *txn) Commit(bool) error {
	if t.done {
		return db.ErrTxnDone
	}
	defer t.finish()

	if !t.writable {
		return nil
	}
	if limit := int64(t.store.opts.MapSize); limit > 0 && t.size > limit {
		return db.ErrMapFull
	}
	return t.store.commit(t.tree, t.size)
}

func (t *txn) Abort() {
	if t.done {
		return
	}
	t.finish()
}

func (t *txn) finish() {
	t.done = true
	t.tree = nil
	if t.writable {
		t.store.writeMu.Unlock()
	} else {
		t.store.readers.Release()
	}
}

// cursor re-seeks from the current key on every step so it stays valid
// while its own transaction writes to the tree.
type cursor struct {
	tree  *btree.BTreeG[item]
	cur   item
	valid bool
}

func (c *cursor) SeekGE(key []byte) bool {
	c.valid = false
	if c.tree == nil {
		return false
	}
	c.tree.AscendGreaterOrEqual(item{key: key}, func(it item) bool {
		c.cur, c.valid = it, true
		return false
	})
	return c.valid
}

func (c *cursor) First() bool {
	if c.tree == nil {
		return false
	}
	c.cur, c.valid = c.tree.Min()
	return c.valid
}

func (c *cursor) Last() bool {
	if c.tree == nil {
		return false
	}
	c.cur, c.valid = c.tree.Max()
	return c.valid
}

func (c *cursor) Next() bool {
	if !c.valid || c.tree == nil {
		return false
	}
	from := c.cur
	c.valid = false
	c.tree.AscendGreaterOrEqual(from, func(it item) bool {
		if bytes.Equal(it.key, from.key) {
			return true
		}
		c.cur, c.valid = it, true
		return false
	})
	return c.valid
}

func (c *cursor) Prev() bool {
	if !c.valid || c.tree == nil {
		return false
	}
	from := c.cur
	c.valid = false
	c.tree.DescendLessOrEqual(from, func(it item) bool {
		if bytes.Equal(it.key, from.key) {
			return true
		}
		c.cur, c.valid = it, true
		return false
	})
	return c.valid
}

func (c *cursor) Valid() bool { return c.valid }
func (c *cursor) Err() error  { return nil }

func (c *cursor) Key() []byte {
	if !c.valid {
		return nil
	}
	return bytes.Clone(c.cur.key)
}

func (c *cursor) Value() ([]byte, error) {
	if !c.valid {
		return nil, db.ErrNotFound
	}
	return bytes.Clone(c.cur.value), nil
}

func (c *cursor) Close() error {
	c.tree = nil
	c.valid = false
	return nil
}
