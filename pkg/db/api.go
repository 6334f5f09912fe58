package db

// Engine is a transactional ordered key-value store. Implementations must be
// safe for use from multiple goroutines; the transactions and cursors they
// hand out are not, and are used by one goroutine at a time.
type Engine interface {
	// Begin starts a transaction. Read transactions observe a consistent
	// snapshot. At most one write transaction is open at a time; Begin(true)
	// blocks until the previous writer commits or aborts.
	Begin(writable bool) (Txn, error)
	// Copy writes a consistent copy of the store into path.
	Copy(path string) error
	// Property reports an engine statistic by name. See the Prop constants.
	Property(name string) (string, bool)
	Close() error
}

type Reader interface {
	Get(key []byte) ([]byte, error)
}

type Writer interface {
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Txn is a transaction on an Engine. Values returned by Get are owned by the
// caller.
type Txn interface {
	Reader
	Writer
	NewCursor() (Cursor, error)
	// Compare orders keys the way the engine does.
	Compare(a, b []byte) int
	Commit(sync bool) error
	// Abort discards the transaction. It is a no-op after Commit.
	Abort()
}

// Cursor provides positioned access over the keys of a transaction.
// Positioning methods report whether the cursor is valid afterwards.
// Cursors must be closed before their transaction ends.
type Cursor interface {
	SeekGE(key []byte) bool
	First() bool
	Last() bool
	Next() bool
	Prev() bool
	Valid() bool
	Key() []byte
	Value() ([]byte, error)
	// Err reports the error that invalidated the cursor, if any.
	Err() error
	Close() error
}
