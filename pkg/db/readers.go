package db

import "sync/atomic"

// ReaderSlots counts open read transactions against a fixed maximum.
type ReaderSlots struct {
	max  int64
	used atomic.Int64
}

func NewReaderSlots(n uint) *ReaderSlots {
	return &ReaderSlots{max: int64(n)}
}

// Acquire takes a slot or fails with ErrReadersFull.
func (r *ReaderSlots) Acquire() error {
	for {
		n := r.used.Load()
		if n >= r.max {
			return ErrReadersFull
		}
		if r.used.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

func (r *ReaderSlots) Release() {
	r.used.Add(-1)
}

func (r *ReaderSlots) InUse() int64 {
	return r.used.Load()
}

func (r *ReaderSlots) Max() int64 {
	return r.max
}
