package pebble

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/kvdown/pkg/db"
)

const DriverName = "pebble"

func init() {
	db.MustRegister(db.Driver{
		Name: DriverName,
		Open: func(location string, opts db.EnvOptions) (db.Engine, error) {
			return Open(location, opts)
		},
	})
}

// Store is a db.Engine backed by a pebble LSM tree. Read transactions are
// pebble snapshots, write transactions are indexed batches serialised by a
// writer lock.
type Store struct {
	db      *pebble.DB
	opts    db.EnvOptions
	compare func(a, b []byte) int
	readers *db.ReaderSlots
	writeMu sync.Mutex
	lastTxn atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func Open(location string, opts db.EnvOptions) (*Store, error) {
	if opts.NoSubdir {
		return nil, fmt.Errorf("pebble: single file layout: %w", db.ErrUnsupported)
	}
	opts = opts.WithDefaults()

	cache := pebble.NewCache(64 * 1024 * 1024) // 64MB
	defer cache.Unref()

	pdb, err := pebble.Open(location, &pebble.Options{
		Cache:        cache,
		MemTableSize: 32 * 1024 * 1024, // 32MB
		ReadOnly:     opts.ReadOnly,
	})
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      pdb,
		opts:    opts,
		compare: pebble.DefaultComparer.Compare,
		readers: db.NewReaderSlots(opts.MaxReaders),
	}, nil
}

func (s *Store) Begin(writable bool) (db.Txn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, db.ErrClosed
	}
	if !writable {
		if err := s.readers.Acquire(); err != nil {
			return nil, err
		}
		return &readTxn{store: s, snap: s.db.NewSnapshot()}, nil
	}
	if s.opts.ReadOnly {
		return nil, db.ErrReadOnly
	}

	s.writeMu.Lock()
	return &writeTxn{store: s, batch: s.db.NewIndexedBatch()}, nil
}

// Copy writes a checkpoint of the store into path. Pebble creates the
// checkpoint directory itself, so an empty pre-created path is removed first.
func (s *Store) Copy(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return db.ErrClosed
	}

	entries, err := os.ReadDir(path)
	switch {
	case err == nil && len(entries) > 0:
		return fmt.Errorf("pebble: checkpoint destination %s is not empty", path)
	case err == nil:
		if err := os.Remove(path); err != nil {
			return err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	return s.db.Checkpoint(path, pebble.WithFlushedWAL())
}

func (s *Store) Property(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false
	}

	switch name {
	case db.PropVersion:
		return "pebble/" + strconv.FormatUint(uint64(s.db.FormatMajorVersion()), 10), true
	case db.PropMapSize:
		return strconv.FormatUint(s.opts.MapSize, 10), true
	case db.PropMaxReaders:
		return strconv.FormatInt(s.readers.Max(), 10), true
	case db.PropNumReaders:
		return strconv.FormatInt(s.readers.InUse(), 10), true
	case db.PropLastTxnID:
		return strconv.FormatUint(s.lastTxn.Load(), 10), true
	case db.PropDepth:
		m := s.db.Metrics()
		depth := 0
		for _, level := range m.Levels {
			if level.NumFiles > 0 {
				depth++
			}
		}
		return strconv.Itoa(depth), true
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
	return s.db.Close()
}

// usage approximates the space the store occupies: table files plus the
// live part of the WAL.
func (s *Store) usage() uint64 {
	m := s.db.Metrics()
	return uint64(m.Total().Size) + m.WAL.Size
}

func (s *Store) writeOptions(sync bool) *pebble.WriteOptions {
	if sync || s.opts.Sync {
		return pebble.Sync
	}
	return pebble.NoSync
}
