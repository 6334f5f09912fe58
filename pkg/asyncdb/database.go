// Package asyncdb exposes a transactional ordered key-value engine to a
// single caller goroutine that must never block. Every method of Database,
// Iterator and WriteBatch must be called on the dispatcher's Loop; engine
// work runs on worker goroutines and callbacks are delivered back on the
// Loop.
package asyncdb

import (
	"bytes"
	"slices"

	"github.com/rs/zerolog"

	"github.com/eigerco/kvdown/internal/dispatch"
	"github.com/eigerco/kvdown/pkg/db"
)

type state uint8

const (
	stateUnopened state = iota
	stateOpening
	stateOpen
	stateClosing
	stateClosed
)

// Database is a handle on one engine location.
type Database struct {
	location   string
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger

	state  state
	opts   OpenOptions
	engine db.Engine

	iterators    map[uint32]*Iterator
	nextIterator uint32
	// inflight counts submitted operations that use the engine outside an
	// iterator; a pending close waits for them as well.
	inflight     int
	pendingClose *closeTask
}

func New(location string, d *dispatch.Dispatcher, logger zerolog.Logger) *Database {
	return &Database{
		location:   location,
		dispatcher: d,
		log:        logger.With().Str("location", location).Logger(),
		iterators:  make(map[uint32]*Iterator),
	}
}

func (d *Database) Location() string {
	return d.location
}

// Open prepares the location and opens the engine.
func (d *Database) Open(opts OpenOptions, cb func(error)) {
	if cb == nil {
		panic(ErrNilCallback)
	}
	if d.state != stateUnopened {
		d.post(func() { cb(usage("open", ErrAlreadyOpen)) })
		return
	}

	d.state = stateOpening
	d.dispatcher.Submit(&openTask{db: d, location: d.location, opts: opts, cb: cb})
}

// Close releases the engine. Iterators still registered are ended first and
// the engine is closed once the last of them has been torn down and every
// operation in flight has completed.
func (d *Database) Close(cb func(error)) {
	if cb == nil {
		panic(ErrNilCallback)
	}

	switch d.state {
	case stateUnopened, stateClosed:
		d.post(func() { cb(nil) })
		return
	case stateOpening, stateClosing:
		d.post(func() { cb(usage("close", ErrNotOpen)) })
		return
	}

	d.state = stateClosing
	task := &closeTask{db: d, engine: d.engine, cb: cb}

	if len(d.iterators) == 0 && d.inflight == 0 {
		d.dispatcher.Submit(task)
		return
	}

	d.log.Debug().Int("iterators", len(d.iterators)).Int("inflight", d.inflight).Msg("close deferred")
	d.pendingClose = task

	ids := make([]uint32, 0, len(d.iterators))
	for id := range d.iterators {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if it := d.iterators[id]; !it.ended {
			it.End(func(error) {})
		}
	}
}

func (d *Database) Put(key, value []byte, opts WriteOptions, cb func(error)) {
	if cb == nil {
		panic(ErrNilCallback)
	}
	if err := d.check("put", key); err != nil {
		d.post(func() { cb(err) })
		return
	}
	if value == nil {
		d.post(func() { cb(usage("put", ErrNilValue)) })
		return
	}

	d.submit(&putTask{
		engine: d.engine,
		key:    bytes.Clone(key),
		value:  bytes.Clone(value),
		sync:   opts.Sync,
		cb:     cb,
	})
}

// Get delivers the value of key, or ErrNotFound.
func (d *Database) Get(key []byte, _ ReadOptions, cb func([]byte, error)) {
	if cb == nil {
		panic(ErrNilCallback)
	}
	if err := d.check("get", key); err != nil {
		d.post(func() { cb(nil, err) })
		return
	}

	d.submit(&getTask{engine: d.engine, key: bytes.Clone(key), cb: cb})
}

// Delete removes key. Deleting a missing key succeeds.
func (d *Database) Delete(key []byte, opts WriteOptions, cb func(error)) {
	if cb == nil {
		panic(ErrNilCallback)
	}
	if err := d.check("del", key); err != nil {
		d.post(func() { cb(err) })
		return
	}

	d.submit(&deleteTask{engine: d.engine, key: bytes.Clone(key), sync: opts.Sync, cb: cb})
}

func (d *Database) NewBatch() *WriteBatch {
	return &WriteBatch{db: d}
}

// Batch applies ops atomically. Any invalid op fails the whole call before
// anything is scheduled.
func (d *Database) Batch(ops []Op, opts WriteOptions, cb func(error)) {
	if cb == nil {
		panic(ErrNilCallback)
	}

	b := d.NewBatch()
	for _, op := range ops {
		var err error
		switch op.Type {
		case OpPut:
			err = b.Put(op.Key, op.Value)
		case OpDel:
			err = b.Delete(op.Key)
		default:
			err = usage("batch", ErrInvalidOp)
		}
		if err != nil {
			d.post(func() { cb(err) })
			return
		}
	}
	b.Write(opts, cb)
}

// ApproximateSize delivers the summed key and value length of the records
// with start <= key <= end. Empty bounds are open.
func (d *Database) ApproximateSize(start, end []byte, cb func(uint64, error)) {
	if cb == nil {
		panic(ErrNilCallback)
	}
	if err := d.checkOpen("approximateSize"); err != nil {
		d.post(func() { cb(0, err) })
		return
	}

	d.submit(&sizeTask{
		engine: d.engine,
		start:  bytes.Clone(start),
		end:    bytes.Clone(end),
		cb:     cb,
	})
}

// Backup writes a consistent copy of the database into path.
func (d *Database) Backup(path string, cb func(error)) {
	if cb == nil {
		panic(ErrNilCallback)
	}
	if err := d.checkOpen("backup"); err != nil {
		d.post(func() { cb(err) })
		return
	}

	d.submit(&backupTask{engine: d.engine, path: path, noSubdir: d.opts.NoSubdir, cb: cb})
}

// GetProperty answers synchronously from engine statistics. Unknown names and
// a database that is not open yield "".
func (d *Database) GetProperty(name string) string {
	if d.state != stateOpen {
		return ""
	}
	v, _ := d.engine.Property(name)
	return v
}

// NewIterator registers an iterator. Its transaction is opened by the first
// Next.
func (d *Database) NewIterator(opts IteratorOptions) (*Iterator, error) {
	if err := d.checkOpen("iterator"); err != nil {
		return nil, err
	}

	d.nextIterator++
	it := newIterator(d, d.nextIterator, opts)
	d.iterators[it.id] = it
	return it, nil
}

// releaseIterator drops a torn down iterator.
func (d *Database) releaseIterator(id uint32) {
	delete(d.iterators, id)
	d.maybeClose()
}

// maybeClose submits a pending close once nothing uses the engine.
func (d *Database) maybeClose() {
	if d.pendingClose == nil || len(d.iterators) > 0 || d.inflight > 0 {
		return
	}
	task := d.pendingClose
	d.pendingClose = nil
	d.dispatcher.Submit(task)
}

// submit schedules an operation task and tracks it until it completes.
func (d *Database) submit(t dispatch.Task) {
	d.inflight++
	d.dispatcher.Submit(tracked{Task: t, db: d})
}

type tracked struct {
	dispatch.Task
	db *Database
}

func (t tracked) Complete(err error) {
	t.db.inflight--
	t.Task.Complete(err)
	t.db.maybeClose()
}

func (d *Database) checkOpen(op string) error {
	if d.state != stateOpen {
		return usage(op, ErrNotOpen)
	}
	return nil
}

func (d *Database) check(op string, key []byte) error {
	if err := d.checkOpen(op); err != nil {
		return err
	}
	if len(key) == 0 {
		return usage(op, ErrEmptyKey)
	}
	return nil
}

// post delivers a result on the loop without scheduling a task.
func (d *Database) post(deliver func()) {
	d.dispatcher.Post(deliver)
}
