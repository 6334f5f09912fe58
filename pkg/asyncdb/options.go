package asyncdb

import (
	"github.com/eigerco/kvdown/pkg/db"
	"github.com/eigerco/kvdown/pkg/db/pebble"
)

const DefaultHighWaterMark = 16 * 1024

// OpenOptions configure Open and Destroy. The zero value opens the default
// engine, creating the location when missing, with durable commits.
type OpenOptions struct {
	// Engine names a registered driver. Defaults to pebble.
	Engine string

	ErrorIfMissing bool
	ErrorIfExists  bool

	// MapSize defaults to 10 MiB; MaxReaders to 126.
	MapSize    uint64
	MaxReaders uint

	NoSync   bool
	ReadOnly bool
	// NoSubdir treats the location as a file rather than a directory.
	NoSubdir bool

	// Forwarded to the engine, which may ignore them.
	WriteMap   bool
	NoMetaSync bool
	MapAsync   bool
	NoTLS      bool
}

func (o OpenOptions) engine() string {
	if o.Engine == "" {
		return pebble.DriverName
	}
	return o.Engine
}

func (o OpenOptions) env() db.EnvOptions {
	return db.EnvOptions{
		MapSize:    o.MapSize,
		MaxReaders: o.MaxReaders,
		Sync:       !o.NoSync,
		ReadOnly:   o.ReadOnly,
		NoSubdir:   o.NoSubdir,
		WriteMap:   o.WriteMap,
		MetaSync:   !o.NoMetaSync,
		MapAsync:   o.MapAsync,
		NoTLS:      o.NoTLS,
	}.WithDefaults()
}

type ReadOptions struct {
	// AsString asks hosts to render the value as text. Values are always
	// delivered as byte slices.
	AsString bool
	// FillCache has no effect.
	FillCache bool
}

type WriteOptions struct {
	// Sync forces a durable commit even when the database was opened with
	// NoSync.
	Sync bool
}

// IteratorOptions select and order the records an Iterator yields. Empty
// bounds are unset. Start is where the scan begins and End where it stops,
// so for a reverse scan Start is the upper bound.
type IteratorOptions struct {
	Start, End []byte
	Lt, Lte    []byte
	Gt, Gte    []byte
	Reverse    bool
	// Limit caps the number of records; zero or negative is unlimited.
	Limit int

	OmitKeys   bool
	OmitValues bool
	// KeyAsString and ValueAsString are rendering hints for hosts.
	KeyAsString   bool
	ValueAsString bool

	// HighWaterMark is the byte budget of one NextBatch call.
	HighWaterMark int
}

type OpType uint8

const (
	OpPut OpType = iota + 1
	OpDel
)

func (t OpType) String() string {
	switch t {
	case OpPut:
		return "put"
	case OpDel:
		return "del"
	}
	return "unknown"
}

// Op is one operation of Database.Batch.
type Op struct {
	Type  OpType
	Key   []byte
	Value []byte
}

// Entry is one record delivered by NextBatch.
type Entry struct {
	Key   []byte
	Value []byte
}
