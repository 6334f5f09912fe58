// Package memory is a volatile db.Engine over a copy-on-write B-tree. Data
// lives as long as the Store; the location is ignored.
package memory

import (
	"bytes"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/eigerco/kvdown/pkg/db"
)

const (
	DriverName = "memory"
	degree     = 32
)

func init() {
	db.MustRegister(db.Driver{
		Name: DriverName,
		Open: func(_ string, opts db.EnvOptions) (db.Engine, error) {
			return New(opts), nil
		},
	})
}

type item struct {
	key, value []byte
}

func less(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

func itemSize(it item) int64 {
	return int64(len(it.key) + len(it.value))
}

// Store keeps the committed tree in root. Committed trees are never written
// again: readers take a clone, writers work on a clone and swap it in.
type Store struct {
	opts    db.EnvOptions
	readers *db.ReaderSlots
	writeMu sync.Mutex
	lastTxn atomic.Uint64

	mu     sync.Mutex
	root   *btree.BTreeG[item]
	size   int64
	closed bool
}

func New(opts db.EnvOptions) *Store {
	opts = opts.WithDefaults()
	return &Store{
		opts:    opts,
		readers: db.NewReaderSlots(opts.MaxReaders),
		root:    btree.NewG[item](degree, less),
	}
}

// snapshot returns a private clone of the committed tree and its size.
func (s *Store) snapshot() (*btree.BTreeG[item], int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, 0, db.ErrClosed
	}
	return s.root.Clone(), s.size, nil
}

func (s *Store) Begin(writable bool) (db.Txn, error) {
	if !writable {
		if err := s.readers.Acquire(); err != nil {
			return nil, err
		}
		tree, _, err := s.snapshot()
		if err != nil {
			s.readers.Release()
			return nil, err
		}
		return &txn{store: s, tree: tree}, nil
	}
	if s.opts.ReadOnly {
		return nil, db.ErrReadOnly
	}

	s.writeMu.Lock()
	tree, size, err := s.snapshot()
	if err != nil {
		s.writeMu.Unlock()
		return nil, err
	}
	return &txn{store: s, tree: tree, size: size, writable: true}, nil
}

func (s *Store) Copy(string) error {
	return db.ErrUnsupported
}

func (s *Store) Property(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", false
	}

	switch name {
	case db.PropVersion:
		return "memory/btree", true
	case db.PropMapSize:
		return strconv.FormatUint(s.opts.MapSize, 10), true
	case db.PropMaxReaders:
		return strconv.FormatInt(s.readers.Max(), 10), true
	case db.PropNumReaders:
		return strconv.FormatInt(s.readers.InUse(), 10), true
	case db.PropLastTxnID:
		return strconv.FormatUint(s.lastTxn.Load(), 10), true
	case db.PropEntries:
		return strconv.Itoa(s.root.Len()), true
	}
	return "", false
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.root = btree.NewG[item](degree, less)
	s.size = 0
	return nil
}

func (s *Store) commit(tree *btree.BTreeG[item], size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return db.ErrClosed
	}
	s.root = tree
	s.size = size
	s.lastTxn.Add(1)
	return nil
}
