package pebble

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/kvdown/pkg/db"
)

type iterSource interface {
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

type cursor struct {
	iter *pebble.Iterator
}

func newCursor(src iterSource) (db.Cursor, error) {
	iter, err := src.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf(ErrInIteratorCreation, err)
	}
	return &cursor{iter: iter}, nil
}

func (c *cursor) SeekGE(key []byte) bool { return c.iter.SeekGE(key) }
func (c *cursor) First() bool            { return c.iter.First() }
func (c *cursor) Last() bool             { return c.iter.Last() }
func (c *cursor) Next() bool             { return c.iter.Next() }
func (c *cursor) Prev() bool             { return c.iter.Prev() }
func (c *cursor) Valid() bool            { return c.iter.Valid() }
func (c *cursor) Err() error             { return c.iter.Error() }

func (c *cursor) Key() []byte {
	key := c.iter.Key()
	result := make([]byte, len(key))
	copy(result, key)
	return result
}

func (c *cursor) Value() ([]byte, error) {
	if !c.iter.Valid() {
		return nil, ErrIteratorInvalid
	}

	val, err := c.iter.ValueAndErr()
	if err != nil {
		return nil, fmt.Errorf(ErrIteratorValue, err)
	}

	result := make([]byte, len(val))
	copy(result, val)
	return result, nil
}

func (c *cursor) Close() error {
	return c.iter.Close()
}
