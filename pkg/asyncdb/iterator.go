package asyncdb

import "bytes"

// Iterator scans a range of the database one record, or one batch, per
// request. At most one request is outstanding at a time. An iterator holds a
// read transaction from its first Next until End.
type Iterator struct {
	db *Database
	id uint32

	reader        *rangeReader
	highWaterMark int

	nexting     bool
	ended       bool
	pendingSeek []byte
	pendingEnd  *endTask
}

func newIterator(d *Database, id uint32, opts IteratorOptions) *Iterator {
	opts.Start = bytes.Clone(opts.Start)
	opts.End = bytes.Clone(opts.End)
	opts.Lt = bytes.Clone(opts.Lt)
	opts.Lte = bytes.Clone(opts.Lte)
	opts.Gt = bytes.Clone(opts.Gt)
	opts.Gte = bytes.Clone(opts.Gte)

	hwm := opts.HighWaterMark
	if hwm <= 0 {
		hwm = DefaultHighWaterMark
	}

	return &Iterator{
		db:            d,
		id:            id,
		reader:        &rangeReader{engine: d.engine, opts: opts},
		highWaterMark: hwm,
	}
}

// Seek moves the iterator so that the next record read is the first at or
// after key, or at or before it for a reverse iterator.
func (it *Iterator) Seek(key []byte) error {
	switch {
	case it.ended:
		return usage("seek", ErrAlreadyEnded)
	case it.nexting:
		return usage("seek", ErrSeekWhileNexting)
	case len(key) == 0:
		return usage("seek", ErrEmptyKey)
	}
	it.pendingSeek = bytes.Clone(key)
	return nil
}

// Next delivers the next record. Once the range is exhausted it delivers
// nil key, nil value and nil error. Omitted keys or values are delivered as
// empty non-nil slices.
func (it *Iterator) Next(cb func(key, value []byte, err error)) {
	if cb == nil {
		panic(ErrNilCallback)
	}
	if err := it.checkNext("next"); err != nil {
		it.db.post(func() { cb(nil, nil, err) })
		return
	}
	it.submitNext(&nextTask{it: it, reader: it.reader, seek: it.takeSeek(), cb: cb})
}

// NextBatch delivers records until their summed size exceeds the iterator's
// high water mark. An empty slice means the range is exhausted.
func (it *Iterator) NextBatch(cb func([]Entry, error)) {
	if cb == nil {
		panic(ErrNilCallback)
	}
	if err := it.checkNext("nextBatch"); err != nil {
		it.db.post(func() { cb(nil, err) })
		return
	}
	it.submitNext(&nextTask{it: it, reader: it.reader, seek: it.takeSeek(), budget: it.highWaterMark, batchCb: cb})
}

// End releases the iterator's transaction. A pending Next completes first.
func (it *Iterator) End(cb func(error)) {
	if cb == nil {
		panic(ErrNilCallback)
	}
	if it.ended {
		it.db.post(func() { cb(usage("end", ErrAlreadyEnded)) })
		return
	}

	it.ended = true
	task := &endTask{it: it, reader: it.reader, cb: cb}
	if it.nexting {
		it.pendingEnd = task
		return
	}
	it.db.dispatcher.Submit(task)
}

func (it *Iterator) checkNext(op string) error {
	if it.ended {
		return usage(op, ErrAlreadyEnded)
	}
	if it.nexting {
		return usage(op, ErrConcurrentNext)
	}
	return nil
}

func (it *Iterator) takeSeek() []byte {
	seek := it.pendingSeek
	it.pendingSeek = nil
	return seek
}

func (it *Iterator) submitNext(t *nextTask) {
	it.nexting = true
	it.db.dispatcher.Submit(t)
}

// nextDone runs before the caller's callback so that an End queued during
// the next is submitted first.
func (it *Iterator) nextDone() {
	it.nexting = false
	if it.pendingEnd != nil {
		task := it.pendingEnd
		it.pendingEnd = nil
		it.db.dispatcher.Submit(task)
	}
}

type nextTask struct {
	it     *Iterator
	reader *rangeReader
	seek   []byte
	// budget > 0 selects batch mode.
	budget  int
	cb      func(key, value []byte, err error)
	batchCb func([]Entry, error)

	key, value []byte
	entries    []Entry
}

func (t *nextTask) Kind() string { return kindNext }

func (t *nextTask) Execute() error {
	if t.seek != nil {
		if err := t.reader.seek(t.seek); err != nil {
			return err
		}
	}

	if t.budget > 0 {
		entries, err := t.reader.batch(t.budget)
		if err != nil {
			return err
		}
		t.entries = entries
		return nil
	}

	key, value, ok, err := t.reader.read()
	if err != nil {
		return err
	}
	if ok {
		t.key, t.value = key, value
	}
	return nil
}

func (t *nextTask) Complete(err error) {
	t.it.nextDone()

	if t.budget > 0 {
		if err != nil {
			t.batchCb(nil, err)
			return
		}
		if t.entries == nil {
			t.entries = []Entry{}
		}
		t.batchCb(t.entries, nil)
		return
	}

	if err != nil {
		t.cb(nil, nil, err)
		return
	}
	t.cb(t.key, t.value, nil)
}

type endTask struct {
	it     *Iterator
	reader *rangeReader
	cb     func(error)
}

func (t *endTask) Kind() string { return kindEnd }

func (t *endTask) Execute() error {
	return t.reader.close()
}

func (t *endTask) Complete(err error) {
	t.it.db.releaseIterator(t.it.id)
	t.cb(err)
}
