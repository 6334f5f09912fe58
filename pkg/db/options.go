package db

const (
	DefaultMapSize    = 10 << 20
	DefaultMaxReaders = 126
)

// EnvOptions configure an engine at open time.
type EnvOptions struct {
	// MapSize caps the on-disk size of the store in bytes.
	MapSize uint64
	// MaxReaders caps the number of concurrently open read transactions.
	MaxReaders uint
	// Sync makes every commit durable.
	Sync     bool
	ReadOnly bool
	// NoSubdir treats the location as the data file instead of a directory.
	NoSubdir bool

	// Accepted for compatibility with LMDB environments; no engine acts on them.
	WriteMap bool
	MetaSync bool
	MapAsync bool
	NoTLS    bool
}

// WithDefaults fills zero sizes.
func (o EnvOptions) WithDefaults() EnvOptions {
	if o.MapSize == 0 {
		o.MapSize = DefaultMapSize
	}
	if o.MaxReaders == 0 {
		o.MaxReaders = DefaultMaxReaders
	}
	return o
}
