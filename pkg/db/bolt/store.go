package bolt

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/eigerco/kvdown/pkg/db"
)

const (
	DriverName = "bolt"
	Version    = "bbolt/1.4.0"
	// DataFile is the file name used inside the location directory.
	DataFile = "data.mdb"
)

var bucketName = []byte("kvdown")

func init() {
	db.MustRegister(db.Driver{
		Name: DriverName,
		Open: func(location string, opts db.EnvOptions) (db.Engine, error) {
			return Open(location, opts)
		},
	})
}

// Store is a db.Engine backed by a single bolt bucket.
type Store struct {
	db      *bolt.DB
	path    string
	opts    db.EnvOptions
	readers *db.ReaderSlots
	// entries is kept current by committed writes so the entries property
	// does not walk the bucket.
	entries atomic.Int64

	mu     sync.RWMutex
	closed bool
}

func Open(location string, opts db.EnvOptions) (*Store, error) {
	opts = opts.WithDefaults()

	path := location
	if !opts.NoSubdir {
		path = filepath.Join(location, DataFile)
	}

	// Bolt cannot remap while read transactions are open, so the initial
	// mapping leaves headroom above the map size.
	bdb, err := bolt.Open(path, 0o644, &bolt.Options{
		Timeout:         time.Second,
		ReadOnly:        opts.ReadOnly,
		InitialMmapSize: int(2 * opts.MapSize),
	})
	if err != nil {
		return nil, err
	}
	bdb.NoSync = !opts.Sync

	if !opts.ReadOnly {
		err := bdb.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketName)
			return err
		})
		if err != nil {
			_ = bdb.Close()
			return nil, fmt.Errorf("bolt: creating bucket: %w", err)
		}
	}

	s := &Store{
		db:      bdb,
		path:    path,
		opts:    opts,
		readers: db.NewReaderSlots(opts.MaxReaders),
	}
	err = bdb.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketName); b != nil {
			s.entries.Store(int64(b.Stats().KeyN))
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("bolt: counting entries: %w", err)
	}
	return s, nil
}

func (s *Store) Begin(writable bool) (db.Txn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, db.ErrClosed
	}
	if writable && s.opts.ReadOnly {
		return nil, db.ErrReadOnly
	}
	if !writable {
		if err := s.readers.Acquire(); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.Begin(writable)
	if err != nil {
		if !writable {
			s.readers.Release()
		}
		return nil, err
	}
	return &txn{store: s, tx: tx, bucket: tx.Bucket(bucketName), writable: writable}, nil
}

// Copy writes the data file into path, or to path itself for single file
// stores.
func (s *Store) Copy(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return db.ErrClosed
	}

	dest := path
	if !s.opts.NoSubdir {
		dest = filepath.Join(path, DataFile)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("bolt: copy destination %s already exists", dest)
	}

	return s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(dest, 0o644)
	})
}

// Property answers from the bolt meta page and the bucket statistics. The
// entry count is tracked across commits. Depth and the page counts come
// from bucket.Stats, which visits every page of the bucket.
func (s *Store) Property(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false
	}

	switch name {
	case db.PropVersion:
		return Version, true
	case db.PropEntries:
		return strconv.FormatInt(s.entries.Load(), 10), true
	case db.PropMapSize:
		return strconv.FormatUint(s.opts.MapSize, 10), true
	case db.PropMaxReaders:
		return strconv.FormatInt(s.readers.Max(), 10), true
	case db.PropNumReaders:
		return strconv.FormatInt(s.readers.InUse(), 10), true
	case db.PropPageSize:
		return strconv.Itoa(s.db.Info().PageSize), true
	case db.PropLastTxnID, db.PropLastPageNo, db.PropDepth,
		db.PropBranchPages, db.PropLeafPages, db.PropOverflowPages:
	default:
		return "", false
	}

	var value int64
	err := s.db.View(func(tx *bolt.Tx) error {
		switch name {
		case db.PropLastTxnID:
			value = int64(tx.ID())
			return nil
		case db.PropLastPageNo:
			value = tx.Size()/int64(s.db.Info().PageSize) - 1
			return nil
		}

		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		st := b.Stats()
		switch name {
		case db.PropDepth:
			value = int64(st.Depth)
		case db.PropBranchPages:
			value = int64(st.BranchPageN)
		case db.PropLeafPages:
			value = int64(st.LeafPageN)
		case db.PropOverflowPages:
			value = int64(st.BranchOverflowN + st.LeafOverflowN)
		}
		return nil
	})
	if err != nil {
		return "", false
	}
	return strconv.FormatInt(value, 10), true
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
