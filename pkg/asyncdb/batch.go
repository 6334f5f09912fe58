package asyncdb

import "bytes"

type batchOp struct {
	del        bool
	key, value []byte
}

// WriteBatch accumulates puts and deletes and commits them in one write
// transaction. It can be written once.
type WriteBatch struct {
	db      *Database
	ops     []batchOp
	written bool
}

func (b *WriteBatch) Put(key, value []byte) error {
	if b.written {
		return usage("batch.put", ErrAlreadyWritten)
	}
	if len(key) == 0 {
		return usage("batch.put", ErrEmptyKey)
	}
	if value == nil {
		return usage("batch.put", ErrNilValue)
	}

	b.ops = append(b.ops, batchOp{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

func (b *WriteBatch) Delete(key []byte) error {
	if b.written {
		return usage("batch.del", ErrAlreadyWritten)
	}
	if len(key) == 0 {
		return usage("batch.del", ErrEmptyKey)
	}

	b.ops = append(b.ops, batchOp{del: true, key: bytes.Clone(key)})
	return nil
}

// Clear drops the queued operations.
func (b *WriteBatch) Clear() error {
	if b.written {
		return usage("batch.clear", ErrAlreadyWritten)
	}
	b.ops = nil
	return nil
}

func (b *WriteBatch) Len() int {
	return len(b.ops)
}

// Write commits the queued operations atomically. An empty batch completes
// without touching the engine.
func (b *WriteBatch) Write(opts WriteOptions, cb func(error)) {
	if cb == nil {
		panic(ErrNilCallback)
	}
	if b.written {
		b.db.post(func() { cb(usage("batch.write", ErrAlreadyWritten)) })
		return
	}
	if err := b.db.checkOpen("batch.write"); err != nil {
		b.db.post(func() { cb(err) })
		return
	}

	b.written = true
	if len(b.ops) == 0 {
		b.db.post(func() { cb(nil) })
		return
	}

	ops := b.ops
	b.ops = nil
	b.db.submit(&batchTask{engine: b.db.engine, ops: ops, sync: opts.Sync, cb: cb})
}
