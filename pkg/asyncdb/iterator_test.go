package asyncdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/kvdown/pkg/db"
)

func TestIteratorRanges(t *testing.T) {
	tests := []struct {
		name string
		opts IteratorOptions
		want []string
	}{
		{name: "all", want: []string{"a", "b", "c", "d", "e"}},
		{name: "all_reverse", opts: IteratorOptions{Reverse: true}, want: []string{"e", "d", "c", "b", "a"}},
		{
			name: "start_end",
			opts: IteratorOptions{Start: []byte("b"), End: []byte("d")},
			want: []string{"b", "c", "d"},
		},
		{
			name: "start_end_reverse",
			opts: IteratorOptions{Start: []byte("d"), End: []byte("b"), Reverse: true},
			want: []string{"d", "c", "b"},
		},
		{
			name: "gt_lt",
			opts: IteratorOptions{Gt: []byte("b"), Lt: []byte("d")},
			want: []string{"c"},
		},
		{
			name: "gt_lt_reverse",
			opts: IteratorOptions{Gt: []byte("b"), Lt: []byte("d"), Reverse: true},
			want: []string{"c"},
		},
		{
			name: "gte_lte",
			opts: IteratorOptions{Gte: []byte("b"), Lte: []byte("d")},
			want: []string{"b", "c", "d"},
		},
		{
			name: "gte_lte_reverse",
			opts: IteratorOptions{Gte: []byte("b"), Lte: []byte("d"), Reverse: true},
			want: []string{"d", "c", "b"},
		},
		{
			name: "bounds_between_keys",
			opts: IteratorOptions{Gte: []byte("aa"), Lte: []byte("cc")},
			want: []string{"b", "c"},
		},
		{
			name: "bounds_between_keys_reverse",
			opts: IteratorOptions{Gte: []byte("aa"), Lte: []byte("cc"), Reverse: true},
			want: []string{"c", "b"},
		},
		{
			name: "tightest_lower_bound_wins",
			opts: IteratorOptions{Start: []byte("a"), Gt: []byte("c")},
			want: []string{"d", "e"},
		},
		{
			name: "upper_bound_past_last_key_reverse",
			opts: IteratorOptions{Lt: []byte("z"), Reverse: true},
			want: []string{"e", "d", "c", "b", "a"},
		},
		{name: "limit", opts: IteratorOptions{Limit: 2}, want: []string{"a", "b"}},
		{name: "limit_reverse", opts: IteratorOptions{Limit: 2, Reverse: true}, want: []string{"e", "d"}},
		{name: "negative_limit", opts: IteratorOptions{Limit: -1}, want: []string{"a", "b", "c", "d", "e"}},
		{name: "start_past_end", opts: IteratorOptions{Start: []byte("x")}},
		{name: "empty_range", opts: IteratorOptions{Gt: []byte("d"), Lt: []byte("b")}},
	}

	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			h := newHarness(t)
			d := h.open(OpenOptions{Engine: engine})
			defer h.close(d)
			h.fill(d, "c", "a", "e", "b", "d")

			for _, tc := range tests {
				t.Run(tc.name, func(t *testing.T) {
					got := h.scan(d, tc.opts)
					if tc.want == nil {
						assert.Empty(t, got)
						return
					}
					assert.Equal(t, tc.want, got)
				})
			}
		})
	}
}

func TestIterator(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, h *harness, d *Database)
	}{
		{name: "values", fn: testIteratorValues},
		{name: "omit_keys_and_values", fn: testIteratorOmit},
		{name: "empty_database", fn: testIteratorEmpty},
		{name: "exhausted_stays_exhausted", fn: testIteratorExhausted},
		{name: "concurrent_next", fn: testConcurrentNext},
		{name: "end", fn: testIteratorEnd},
		{name: "end_while_nexting", fn: testEndWhileNexting},
		{name: "seek", fn: testIteratorSeek},
		{name: "seek_reverse", fn: testIteratorSeekReverse},
		{name: "seek_errors", fn: testIteratorSeekErrors},
		{name: "next_batch", fn: testNextBatch},
		{name: "snapshot", fn: testIteratorSnapshot},
		{name: "holds_a_reader", fn: testIteratorReader},
	}

	for _, engine := range engines {
		for _, tc := range tests {
			t.Run(engine+"/"+tc.name, func(t *testing.T) {
				h := newHarness(t)
				d := h.open(OpenOptions{Engine: engine})
				tc.fn(t, h, d)
				h.close(d)
			})
		}
	}
}

func testIteratorValues(t *testing.T, h *harness, d *Database) {
	h.fill(d, "a", "b")

	it := h.iterator(d, IteratorOptions{})
	r := h.next(it)
	require.NoError(t, r.err)
	assert.Equal(t, []byte("a"), r.key)
	assert.Equal(t, []byte("v-a"), r.value)
	require.NoError(t, h.call(it.End))
}

func testIteratorOmit(t *testing.T, h *harness, d *Database) {
	h.fill(d, "a")

	it := h.iterator(d, IteratorOptions{OmitKeys: true})
	r := h.next(it)
	require.NoError(t, r.err)
	require.False(t, r.exhausted())
	assert.NotNil(t, r.key)
	assert.Empty(t, r.key)
	assert.Equal(t, []byte("v-a"), r.value)
	assert.True(t, h.next(it).exhausted())
	require.NoError(t, h.call(it.End))

	it = h.iterator(d, IteratorOptions{OmitValues: true})
	r = h.next(it)
	require.NoError(t, r.err)
	assert.Equal(t, []byte("a"), r.key)
	assert.NotNil(t, r.value)
	assert.Empty(t, r.value)
	require.NoError(t, h.call(it.End))
}

func testIteratorEmpty(t *testing.T, h *harness, d *Database) {
	it := h.iterator(d, IteratorOptions{})
	assert.True(t, h.next(it).exhausted())
	require.NoError(t, h.call(it.End))
}

func testIteratorExhausted(t *testing.T, h *harness, d *Database) {
	h.fill(d, "a")

	it := h.iterator(d, IteratorOptions{})
	assert.Equal(t, []string{"a"}, h.keys(it))

	h.fill(d, "b")
	assert.True(t, h.next(it).exhausted())
	assert.True(t, h.next(it).exhausted())
	require.NoError(t, h.call(it.End))
}

func testConcurrentNext(t *testing.T, h *harness, d *Database) {
	h.fill(d, "a")
	it := h.iterator(d, IteratorOptions{})

	first := make(chan record, 1)
	second := make(chan record, 1)
	h.on(func() {
		it.Next(func(key, value []byte, err error) { first <- record{key, value, err} })
		it.Next(func(key, value []byte, err error) { second <- record{key, value, err} })
	})

	r := await(t, second)
	assert.ErrorIs(t, r.err, ErrConcurrentNext)

	r = await(t, first)
	require.NoError(t, r.err)
	assert.Equal(t, []byte("a"), r.key)

	// the rejected call left the iterator usable
	assert.True(t, h.next(it).exhausted())
	require.NoError(t, h.call(it.End))
}

func testIteratorEnd(t *testing.T, h *harness, d *Database) {
	h.fill(d, "a")
	it := h.iterator(d, IteratorOptions{})
	require.NoError(t, h.next(it).err)

	before := h.submitted()
	require.NoError(t, h.call(it.End))
	assert.Equal(t, before+1, h.submitted())

	assert.ErrorIs(t, h.call(it.End), ErrAlreadyEnded)
	assert.ErrorIs(t, h.next(it).err, ErrAlreadyEnded)

	ch := make(chan error, 1)
	h.on(func() { it.NextBatch(func(_ []Entry, err error) { ch <- err }) })
	assert.ErrorIs(t, await(t, ch), ErrAlreadyEnded)

	assert.Equal(t, before+1, h.submitted())
}

func testEndWhileNexting(t *testing.T, h *harness, d *Database) {
	h.fill(d, "a")
	it := h.iterator(d, IteratorOptions{})

	var order []string
	done := make(chan struct{}, 1)
	h.on(func() {
		it.Next(func(key, _ []byte, err error) {
			assert.NoError(t, err)
			assert.Equal(t, []byte("a"), key)
			order = append(order, "next")
		})
		it.End(func(err error) {
			assert.NoError(t, err)
			order = append(order, "end")
			done <- struct{}{}
		})
	})
	await(t, done)

	assert.Equal(t, []string{"next", "end"}, order)
}

func testIteratorSeek(t *testing.T, h *harness, d *Database) {
	h.fill(d, "a", "b", "d", "e")
	it := h.iterator(d, IteratorOptions{})

	// before the first next
	h.on(func() { require.NoError(t, it.Seek([]byte("b"))) })
	assert.Equal(t, []byte("b"), h.next(it).key)

	// between keys
	h.on(func() { require.NoError(t, it.Seek([]byte("c"))) })
	assert.Equal(t, []byte("d"), h.next(it).key)
	assert.Equal(t, []byte("e"), h.next(it).key)

	// backwards, after exhaustion
	assert.True(t, h.next(it).exhausted())
	h.on(func() { require.NoError(t, it.Seek([]byte("a"))) })
	assert.Equal(t, []string{"a", "b", "d", "e"}, h.keys(it))

	// past the last key
	h.on(func() { require.NoError(t, it.Seek([]byte("z"))) })
	assert.True(t, h.next(it).exhausted())

	require.NoError(t, h.call(it.End))
}

func testIteratorSeekReverse(t *testing.T, h *harness, d *Database) {
	h.fill(d, "a", "b", "d", "e")
	it := h.iterator(d, IteratorOptions{Reverse: true})

	assert.Equal(t, []byte("e"), h.next(it).key)

	h.on(func() { require.NoError(t, it.Seek([]byte("c"))) })
	assert.Equal(t, []string{"b", "a"}, h.keys(it))

	h.on(func() { require.NoError(t, it.Seek([]byte("d"))) })
	assert.Equal(t, []byte("d"), h.next(it).key)

	h.on(func() { require.NoError(t, it.Seek([]byte("z"))) })
	assert.Equal(t, []byte("e"), h.next(it).key)

	require.NoError(t, h.call(it.End))
}

func testIteratorSeekErrors(t *testing.T, h *harness, d *Database) {
	h.fill(d, "a")
	it := h.iterator(d, IteratorOptions{})

	h.on(func() { assert.ErrorIs(t, it.Seek(nil), ErrEmptyKey) })

	ch := make(chan record, 1)
	h.on(func() {
		it.Next(func(key, value []byte, err error) { ch <- record{key, value, err} })
		assert.ErrorIs(t, it.Seek([]byte("a")), ErrSeekWhileNexting)
	})
	require.NoError(t, await(t, ch).err)

	require.NoError(t, h.call(it.End))
	h.on(func() { assert.ErrorIs(t, it.Seek([]byte("a")), ErrAlreadyEnded) })
}

func testNextBatch(t *testing.T, h *harness, d *Database) {
	h.fill(d, "a", "b", "c", "d", "e")

	// every record is 4 bytes
	it := h.iterator(d, IteratorOptions{HighWaterMark: 8})
	batch := func() []Entry {
		type result struct {
			entries []Entry
			err     error
		}
		ch := make(chan result, 1)
		h.on(func() { it.NextBatch(func(entries []Entry, err error) { ch <- result{entries, err} }) })
		r := await(t, ch)
		require.NoError(t, r.err)
		return r.entries
	}

	entries := batch()
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Key: []byte("a"), Value: []byte("v-a")}, entries[0])
	assert.Equal(t, []byte("c"), entries[2].Key)

	entries = batch()
	require.Len(t, entries, 2)
	assert.Equal(t, []byte("e"), entries[1].Key)

	entries = batch()
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	require.NoError(t, h.call(it.End))
}

func testIteratorSnapshot(t *testing.T, h *harness, d *Database) {
	h.fill(d, "a", "b", "c")

	it := h.iterator(d, IteratorOptions{})
	assert.Equal(t, []byte("a"), h.next(it).key)

	h.fill(d, "bb")
	require.NoError(t, h.call(func(done func(error)) { d.Delete([]byte("c"), WriteOptions{}, done) }))

	assert.Equal(t, []string{"b", "c"}, h.keys(it))
	require.NoError(t, h.call(it.End))

	assert.Equal(t, []string{"a", "b", "bb"}, h.scan(d, IteratorOptions{}))
}

func testIteratorReader(t *testing.T, h *harness, d *Database) {
	h.fill(d, "a")
	readers := func() (n string) {
		h.on(func() { n = d.GetProperty(db.PropNumReaders) })
		return n
	}

	it := h.iterator(d, IteratorOptions{})
	assert.Equal(t, "0", readers())

	require.NoError(t, h.next(it).err)
	assert.Equal(t, "1", readers())

	require.NoError(t, h.call(it.End))
	assert.Equal(t, "0", readers())
}

func TestIteratorReadersFull(t *testing.T) {
	h := newHarness(t)
	d := h.open(OpenOptions{MaxReaders: 1})
	defer h.close(d)
	h.fill(d, "a")

	first := h.iterator(d, IteratorOptions{})
	second := h.iterator(d, IteratorOptions{})

	require.Equal(t, []byte("a"), h.next(first).key)

	r := h.next(second)
	var engineErr *EngineError
	require.ErrorAs(t, r.err, &engineErr)
	assert.Equal(t, kindNext, engineErr.Op)
	assert.ErrorIs(t, r.err, db.ErrReadersFull)

	// a failed start leaves the iterator exhausted
	assert.True(t, h.next(second).exhausted())

	require.NoError(t, h.call(second.End))
	require.NoError(t, h.call(first.End))
}

func TestCloseWithIterators(t *testing.T) {
	h := newHarness(t)
	d := h.open(OpenOptions{})
	h.fill(d, "a", "b")

	started := h.iterator(d, IteratorOptions{})
	require.NoError(t, h.next(started).err)
	idle := h.iterator(d, IteratorOptions{})

	var order []string
	done := make(chan struct{}, 1)
	h.on(func() {
		started.Next(func(key, _ []byte, err error) {
			assert.NoError(t, err)
			assert.Equal(t, []byte("b"), key)
			order = append(order, "next")
		})
		d.Close(func(err error) {
			assert.NoError(t, err)
			order = append(order, "close")
			done <- struct{}{}
		})

		_, err := d.NewIterator(IteratorOptions{})
		assert.ErrorIs(t, err, ErrNotOpen)
	})
	await(t, done)

	assert.Equal(t, []string{"next", "close"}, order)
	assert.ErrorIs(t, h.next(started).err, ErrAlreadyEnded)
	assert.ErrorIs(t, h.next(idle).err, ErrAlreadyEnded)
	assert.ErrorIs(t, h.call(idle.End), ErrAlreadyEnded)
}

func TestCloseAfterExplicitEnd(t *testing.T) {
	h := newHarness(t)
	d := h.open(OpenOptions{})
	h.fill(d, "a")

	it := h.iterator(d, IteratorOptions{})

	var order []string
	done := make(chan struct{}, 1)
	h.on(func() {
		it.Next(func(_, _ []byte, err error) {
			assert.NoError(t, err)
			order = append(order, "next")
		})
		it.End(func(err error) {
			assert.NoError(t, err)
			order = append(order, "end")
		})
		d.Close(func(err error) {
			assert.NoError(t, err)
			order = append(order, "close")
			done <- struct{}{}
		})
	})
	await(t, done)

	assert.Equal(t, []string{"next", "end", "close"}, order)
}
