package asyncdb

import (
	"errors"
	"io/fs"
	"os"

	"github.com/eigerco/kvdown/internal/dispatch"
	"github.com/eigerco/kvdown/pkg/db"
)

// Destroy empties the database at location. The location must exist and
// must not be open elsewhere.
func Destroy(d *dispatch.Dispatcher, location string, opts OpenOptions, cb func(error)) {
	if cb == nil {
		panic(ErrNilCallback)
	}
	d.Submit(&destroyTask{location: location, opts: opts, cb: cb})
}

type destroyTask struct {
	location string
	opts     OpenOptions
	cb       func(error)
}

func (t *destroyTask) Kind() string { return kindDestroy }

func (t *destroyTask) Execute() error {
	if _, err := os.Stat(t.location); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &PathError{Location: t.location, Err: ErrPathMissing}
		}
		return &PathError{Location: t.location, Err: err}
	}

	opts := t.opts
	opts.ReadOnly = false
	engine, err := db.Open(opts.engine(), t.location, opts.env())
	if err != nil {
		return engineErr(kindDestroy, err)
	}

	err = write(engine, kindDestroy, true, func(txn db.Txn) error {
		keys, err := allKeys(txn)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := deleteKey(txn, key); err != nil {
				return err
			}
		}
		return nil
	})
	if closeErr := engine.Close(); err == nil && closeErr != nil {
		err = engineErr(kindDestroy, closeErr)
	}
	return err
}

func (t *destroyTask) Complete(err error) { t.cb(err) }

func allKeys(txn db.Txn) ([][]byte, error) {
	cur, err := txn.NewCursor()
	if err != nil {
		return nil, err
	}
	defer cur.Close() //nolint:errcheck

	var keys [][]byte
	for ok := cur.First(); ok; ok = cur.Next() {
		keys = append(keys, cur.Key())
	}
	return keys, cur.Err()
}
