package db

import "errors"

var (
	// ErrNotFound is returned when a key is not present.
	ErrNotFound = errors.New("db: key not found")
	// ErrClosed is returned by an engine after Close.
	ErrClosed = errors.New("db: engine is closed")
	// ErrTxnDone is returned when a committed or aborted transaction is used.
	ErrTxnDone = errors.New("db: transaction already committed or aborted")
	// ErrReadOnly is returned on writes to a read transaction or a read-only engine.
	ErrReadOnly = errors.New("db: read-only")
	// ErrMapFull is returned when a commit would grow the store past its map size.
	ErrMapFull = errors.New("db: map size exceeded")
	// ErrReadersFull is returned when all reader slots are taken.
	ErrReadersFull = errors.New("db: maximum number of readers reached")
	// ErrUnsupported is returned for options or operations an engine lacks.
	ErrUnsupported = errors.New("db: not supported by engine")
	// ErrUnknownDriver is returned by Open for an unregistered engine name.
	ErrUnknownDriver = errors.New("db: unknown driver")
)
