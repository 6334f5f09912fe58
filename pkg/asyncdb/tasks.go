package asyncdb

import (
	"errors"
	"os"

	"github.com/eigerco/kvdown/pkg/db"
)

// Task kinds, used as log and metric labels.
const (
	kindOpen    = "open"
	kindClose   = "close"
	kindPut     = "put"
	kindGet     = "get"
	kindDelete  = "del"
	kindBatch   = "batch"
	kindSize    = "approximate_size"
	kindBackup  = "backup"
	kindDestroy = "destroy"
	kindNext    = "next"
	kindEnd     = "end"
)

type openTask struct {
	db       *Database
	location string
	opts     OpenOptions
	cb       func(error)

	engine db.Engine
}

func (t *openTask) Kind() string { return kindOpen }

func (t *openTask) Execute() error {
	if err := prepareLocation(t.location, t.opts); err != nil {
		return err
	}

	engine, err := db.Open(t.opts.engine(), t.location, t.opts.env())
	if err != nil {
		return engineErr(kindOpen, err)
	}
	t.engine = engine
	return nil
}

func (t *openTask) Complete(err error) {
	d := t.db
	if err != nil {
		d.state = stateUnopened
		d.log.Warn().Err(err).Msg("open failed")
		t.cb(err)
		return
	}

	d.engine = t.engine
	d.opts = t.opts
	d.state = stateOpen
	d.log.Debug().Str("engine", t.opts.engine()).Msg("opened")
	t.cb(nil)
}

type closeTask struct {
	db     *Database
	engine db.Engine
	cb     func(error)
}

func (t *closeTask) Kind() string { return kindClose }

func (t *closeTask) Execute() error {
	if err := t.engine.Close(); err != nil {
		return engineErr(kindClose, err)
	}
	return nil
}

func (t *closeTask) Complete(err error) {
	d := t.db
	d.state = stateClosed
	d.engine = nil
	d.log.Debug().Err(err).Msg("closed")
	t.cb(err)
}

type putTask struct {
	engine     db.Engine
	key, value []byte
	sync       bool
	cb         func(error)
}

func (t *putTask) Kind() string { return kindPut }

func (t *putTask) Execute() error {
	return write(t.engine, kindPut, t.sync, func(txn db.Txn) error {
		return txn.Put(t.key, t.value)
	})
}

func (t *putTask) Complete(err error) { t.cb(err) }

type getTask struct {
	engine db.Engine
	key    []byte
	cb     func([]byte, error)

	value []byte
}

func (t *getTask) Kind() string { return kindGet }

func (t *getTask) Execute() error {
	txn, err := t.engine.Begin(false)
	if err != nil {
		return engineErr(kindGet, err)
	}
	defer txn.Abort()

	value, err := txn.Get(t.key)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return ErrNotFound
	case err != nil:
		return engineErr(kindGet, err)
	}
	t.value = value
	return nil
}

func (t *getTask) Complete(err error) {
	if err != nil {
		t.cb(nil, err)
		return
	}
	t.cb(t.value, nil)
}

type deleteTask struct {
	engine db.Engine
	key    []byte
	sync   bool
	cb     func(error)
}

func (t *deleteTask) Kind() string { return kindDelete }

func (t *deleteTask) Execute() error {
	return write(t.engine, kindDelete, t.sync, func(txn db.Txn) error {
		return deleteKey(txn, t.key)
	})
}

func (t *deleteTask) Complete(err error) { t.cb(err) }

type batchTask struct {
	engine db.Engine
	ops    []batchOp
	sync   bool
	cb     func(error)
}

func (t *batchTask) Kind() string { return kindBatch }

func (t *batchTask) Execute() error {
	return write(t.engine, kindBatch, t.sync, func(txn db.Txn) error {
		for _, op := range t.ops {
			var err error
			if op.del {
				err = deleteKey(txn, op.key)
			} else {
				err = txn.Put(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *batchTask) Complete(err error) { t.cb(err) }

type sizeTask struct {
	engine     db.Engine
	start, end []byte
	cb         func(uint64, error)

	size uint64
}

func (t *sizeTask) Kind() string { return kindSize }

func (t *sizeTask) Execute() error {
	txn, err := t.engine.Begin(false)
	if err != nil {
		return engineErr(kindSize, err)
	}
	defer txn.Abort()

	cur, err := txn.NewCursor()
	if err != nil {
		return engineErr(kindSize, err)
	}
	defer cur.Close() //nolint:errcheck

	ok := cur.First()
	if len(t.start) > 0 {
		ok = cur.SeekGE(t.start)
	}
	for ; ok; ok = cur.Next() {
		key := cur.Key()
		if len(t.end) > 0 && txn.Compare(key, t.end) > 0 {
			break
		}
		value, err := cur.Value()
		if err != nil {
			return engineErr(kindSize, err)
		}
		t.size += uint64(len(key) + len(value))
	}
	if err := cur.Err(); err != nil {
		return engineErr(kindSize, err)
	}
	return nil
}

func (t *sizeTask) Complete(err error) {
	if err != nil {
		t.cb(0, err)
		return
	}
	t.cb(t.size, nil)
}

type backupTask struct {
	engine   db.Engine
	path     string
	noSubdir bool
	cb       func(error)
}

func (t *backupTask) Kind() string { return kindBackup }

func (t *backupTask) Execute() error {
	if !t.noSubdir {
		if err := os.MkdirAll(t.path, 0o755); err != nil {
			return &PathError{Location: t.path, Err: err}
		}
	}
	if err := t.engine.Copy(t.path); err != nil {
		return engineErr(kindBackup, err)
	}
	return nil
}

func (t *backupTask) Complete(err error) { t.cb(err) }

// write runs fn in a write transaction and commits it, aborting on any error.
func write(engine db.Engine, op string, sync bool, fn func(db.Txn) error) error {
	txn, err := engine.Begin(true)
	if err != nil {
		return engineErr(op, err)
	}
	if err := fn(txn); err != nil {
		txn.Abort()
		return engineErr(op, err)
	}
	if err := txn.Commit(sync); err != nil {
		return engineErr(op, err)
	}
	return nil
}

// deleteKey tolerates missing keys.
func deleteKey(txn db.Txn, key []byte) error {
	if err := txn.Delete(key); err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	return nil
}
