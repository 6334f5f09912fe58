package asyncdb

import (
	"github.com/eigerco/kvdown/pkg/db"
)

// rangeReader walks a cursor within the iterator's bounds. It lives on the
// worker side: only the task that currently owns the iterator touches it.
type rangeReader struct {
	engine db.Engine
	opts   IteratorOptions

	txn db.Txn
	cur db.Cursor

	started bool
	// seeked means the cursor already sits on the record to read next.
	seeked    bool
	exhausted bool
	count     int
}

func (r *rangeReader) compare(a, b []byte) int {
	return r.txn.Compare(a, b)
}

func (r *rangeReader) start() error {
	r.started = true

	txn, err := r.engine.Begin(false)
	if err != nil {
		r.exhausted = true
		return engineErr(kindNext, err)
	}
	cur, err := txn.NewCursor()
	if err != nil {
		txn.Abort()
		r.exhausted = true
		return engineErr(kindNext, err)
	}
	r.txn, r.cur = txn, cur

	r.position()
	r.seeked = true
	return nil
}

// position places the cursor on the first candidate record, starting from
// the tightest bound in the scan direction.
func (r *rangeReader) position() {
	o := r.opts
	if !o.Reverse {
		from := r.tightest(+1, o.Start, o.Gt, o.Gte)
		if from == nil {
			r.cur.First()
			return
		}
		r.cur.SeekGE(from)
		for r.cur.Valid() && len(o.Gt) > 0 && r.compare(r.cur.Key(), o.Gt) <= 0 {
			r.cur.Next()
		}
		return
	}

	from := r.tightest(-1, o.Start, o.Lt, o.Lte)
	if from == nil {
		r.cur.Last()
		return
	}
	if !r.cur.SeekGE(from) && r.cur.Err() == nil {
		r.cur.Last()
	}
	for r.cur.Valid() && r.aboveUpper(r.cur.Key(), from) {
		r.cur.Prev()
	}
}

// tightest picks the greatest (dir > 0) or least (dir < 0) non-empty bound.
func (r *rangeReader) tightest(dir int, bounds ...[]byte) []byte {
	var best []byte
	for _, b := range bounds {
		if len(b) == 0 {
			continue
		}
		if best == nil || dir*r.compare(b, best) > 0 {
			best = b
		}
	}
	return best
}

func (r *rangeReader) aboveUpper(key, from []byte) bool {
	o := r.opts
	if r.compare(key, from) > 0 {
		return true
	}
	if len(o.Lt) > 0 && r.compare(key, o.Lt) >= 0 {
		return true
	}
	return len(o.Lte) > 0 && r.compare(key, o.Lte) > 0
}

// seek repositions the cursor at target for the next read: the first key at
// or after it going forward, at or before it going in reverse.
func (r *rangeReader) seek(target []byte) error {
	if !r.started {
		if err := r.start(); err != nil {
			return err
		}
	}
	if r.cur == nil {
		return nil
	}

	r.exhausted = false
	r.seeked = true

	if r.cur.SeekGE(target) {
		if r.opts.Reverse && r.compare(r.cur.Key(), target) > 0 {
			r.cur.Prev()
		}
		return nil
	}
	if r.opts.Reverse && r.cur.Err() == nil {
		r.cur.Last()
	}
	return nil
}

// read returns the next record in range. ok is false once the range is
// exhausted; the cursor then stays where it is until a seek.
func (r *rangeReader) read() (key, value []byte, ok bool, err error) {
	if r.exhausted {
		return nil, nil, false, nil
	}
	if !r.started {
		if err := r.start(); err != nil {
			return nil, nil, false, err
		}
	}

	if r.seeked {
		r.seeked = false
	} else if r.cur.Valid() {
		if r.opts.Reverse {
			r.cur.Prev()
		} else {
			r.cur.Next()
		}
	}

	if !r.cur.Valid() {
		r.exhausted = true
		if err := r.cur.Err(); err != nil {
			return nil, nil, false, engineErr(kindNext, err)
		}
		return nil, nil, false, nil
	}

	k := r.cur.Key()
	if !r.accept(k) {
		r.exhausted = true
		return nil, nil, false, nil
	}

	key, value = []byte{}, []byte{}
	if !r.opts.OmitKeys {
		key = k
	}
	if !r.opts.OmitValues {
		v, err := r.cur.Value()
		if err != nil {
			r.exhausted = true
			return nil, nil, false, engineErr(kindNext, err)
		}
		value = v
	}
	return key, value, true, nil
}

// accept applies the limit and every bound to key, counting it when it
// passes.
func (r *rangeReader) accept(key []byte) bool {
	o := r.opts

	if o.Limit > 0 && r.count >= o.Limit {
		return false
	}
	if len(o.End) > 0 {
		c := r.compare(key, o.End)
		if (!o.Reverse && c > 0) || (o.Reverse && c < 0) {
			return false
		}
	}
	if len(o.Lt) > 0 && r.compare(key, o.Lt) >= 0 {
		return false
	}
	if len(o.Lte) > 0 && r.compare(key, o.Lte) > 0 {
		return false
	}
	if len(o.Gt) > 0 && r.compare(key, o.Gt) <= 0 {
		return false
	}
	if len(o.Gte) > 0 && r.compare(key, o.Gte) < 0 {
		return false
	}

	r.count++
	return true
}

// batch reads records until the range is exhausted or their summed size
// exceeds budget.
func (r *rangeReader) batch(budget int) ([]Entry, error) {
	var (
		entries []Entry
		size    int
	)
	for {
		key, value, ok, err := r.read()
		if err != nil {
			return nil, err
		}
		if !ok {
			return entries, nil
		}
		entries = append(entries, Entry{Key: key, Value: value})
		size += len(key) + len(value)
		if size > budget {
			return entries, nil
		}
	}
}

func (r *rangeReader) close() error {
	r.exhausted = true
	if r.txn == nil {
		return nil
	}

	err := r.cur.Close()
	r.txn.Abort()
	r.cur, r.txn = nil, nil
	if err != nil {
		return engineErr(kindEnd, err)
	}
	return nil
}
