package asyncdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/kvdown/internal/dispatch"
	"github.com/eigerco/kvdown/pkg/db"
	"github.com/eigerco/kvdown/pkg/db/bolt"
	"github.com/eigerco/kvdown/pkg/db/memory"
	"github.com/eigerco/kvdown/pkg/db/pebble"
)

const (
	failingDriver = "test-failing"
	mockDriver    = "test-mock"
)

var (
	// engines lists every built-in engine the shared tables run against.
	engines = []string{memory.DriverName, pebble.DriverName, bolt.DriverName}

	errInjected = errors.New("injected failure")
	// mockEngines maps a location to the engine the mock driver returns.
	mockEngines sync.Map
)

func init() {
	db.MustRegister(db.Driver{
		Name: failingDriver,
		Open: func(_ string, opts db.EnvOptions) (db.Engine, error) {
			return failingEngine{Store: memory.New(opts)}, nil
		},
	})
	db.MustRegister(db.Driver{
		Name: mockDriver,
		Open: func(location string, _ db.EnvOptions) (db.Engine, error) {
			e, ok := mockEngines.Load(location)
			if !ok {
				return nil, errors.New("no mock engine for " + location)
			}
			return e.(*mockEngine), nil
		},
	})
}

// failingEngine fails any write of the key "boom".
type failingEngine struct {
	*memory.Store
}

func (e failingEngine) Begin(writable bool) (db.Txn, error) {
	txn, err := e.Store.Begin(writable)
	if err != nil {
		return nil, err
	}
	return failingTxn{Txn: txn}, nil
}

type failingTxn struct {
	db.Txn
}

func (t failingTxn) Put(key, value []byte) error {
	if string(key) == "boom" {
		return errInjected
	}
	return t.Txn.Put(key, value)
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Begin(writable bool) (db.Txn, error) {
	args := m.Called(writable)
	txn, _ := args.Get(0).(db.Txn)
	return txn, args.Error(1)
}

func (m *mockEngine) Copy(path string) error {
	return m.Called(path).Error(0)
}

func (m *mockEngine) Property(name string) (string, bool) {
	args := m.Called(name)
	return args.String(0), args.Bool(1)
}

func (m *mockEngine) Close() error {
	return m.Called().Error(0)
}

type harness struct {
	t    *testing.T
	loop *dispatch.Loop
	d    *dispatch.Dispatcher
	reg  *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	loop := dispatch.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx) //nolint:errcheck

	reg := prometheus.NewRegistry()
	d := dispatch.NewDispatcher(loop, dispatch.Config{Workers: 4, Metrics: dispatch.NewMetrics(reg)}, zerolog.Nop())

	t.Cleanup(func() {
		d.Wait()
		cancel()
		<-loop.Done()
	})
	return &harness{t: t, loop: loop, d: d, reg: reg}
}

// on runs fn on the loop and waits for it.
func (h *harness) on(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Do(context.Background(), fn))
}

func await[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not delivered")
		panic("unreachable")
	}
}

// call starts an operation on the loop and waits for its callback.
func (h *harness) call(start func(done func(error))) error {
	h.t.Helper()

	ch := make(chan error, 1)
	h.on(func() { start(func(err error) { ch <- err }) })
	return await(h.t, ch)
}

// open opens a database at a fresh location, on the memory engine unless
// opts names another.
func (h *harness) open(opts OpenOptions) *Database {
	h.t.Helper()
	return h.openAt(h.t.TempDir(), opts)
}

func (h *harness) openAt(location string, opts OpenOptions) *Database {
	h.t.Helper()

	if opts.Engine == "" {
		opts.Engine = memory.DriverName
	}
	d := New(location, h.d, zerolog.Nop())
	require.NoError(h.t, h.call(func(done func(error)) { d.Open(opts, done) }))
	return d
}

func (h *harness) close(d *Database) {
	h.t.Helper()
	require.NoError(h.t, h.call(d.Close))
}

func (h *harness) put(d *Database, pairs ...string) {
	h.t.Helper()

	for i := 0; i+1 < len(pairs); i += 2 {
		key, value := pairs[i], pairs[i+1]
		require.NoError(h.t, h.call(func(done func(error)) {
			d.Put([]byte(key), []byte(value), WriteOptions{}, done)
		}))
	}
}

func (h *harness) fill(d *Database, keys ...string) {
	h.t.Helper()

	for _, k := range keys {
		h.put(d, k, "v-"+k)
	}
}

func (h *harness) get(d *Database, key string) ([]byte, error) {
	h.t.Helper()

	type result struct {
		value []byte
		err   error
	}
	ch := make(chan result, 1)
	h.on(func() {
		d.Get([]byte(key), ReadOptions{}, func(value []byte, err error) { ch <- result{value, err} })
	})
	r := await(h.t, ch)
	return r.value, r.err
}

type record struct {
	key, value []byte
	err        error
}

func (r record) exhausted() bool {
	return r.key == nil && r.value == nil && r.err == nil
}

func (h *harness) next(it *Iterator) record {
	h.t.Helper()

	ch := make(chan record, 1)
	h.on(func() {
		it.Next(func(key, value []byte, err error) { ch <- record{key, value, err} })
	})
	return await(h.t, ch)
}

// keys reads it to exhaustion.
func (h *harness) keys(it *Iterator) []string {
	h.t.Helper()

	var keys []string
	for {
		r := h.next(it)
		require.NoError(h.t, r.err)
		if r.exhausted() {
			return keys
		}
		keys = append(keys, string(r.key))
	}
}

func (h *harness) iterator(d *Database, opts IteratorOptions) *Iterator {
	h.t.Helper()

	var (
		it  *Iterator
		err error
	)
	h.on(func() { it, err = d.NewIterator(opts) })
	require.NoError(h.t, err)
	return it
}

// scan runs one iterator over opts to exhaustion and ends it.
func (h *harness) scan(d *Database, opts IteratorOptions) []string {
	h.t.Helper()

	it := h.iterator(d, opts)
	keys := h.keys(it)
	require.NoError(h.t, h.call(it.End))
	return keys
}

// submitted sums the task counter over all kinds.
func (h *harness) submitted() float64 {
	h.t.Helper()

	families, err := h.reg.Gather()
	require.NoError(h.t, err)

	var total float64
	for _, f := range families {
		if f.GetName() != "kvdown_tasks_submitted_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
