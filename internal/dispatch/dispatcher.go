package dispatch

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

type Config struct {
	// Workers bounds how many Execute phases run at once.
	// Zero means four per GOMAXPROCS.
	Workers int
	// Metrics may be nil.
	Metrics *Metrics
}

// Dispatcher runs task Execute phases on worker goroutines and delivers each
// completion back on its Loop.
type Dispatcher struct {
	loop    *Loop
	sem     *semaphore.Weighted
	metrics *Metrics
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(loop *Loop, cfg Config, logger zerolog.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0) * 4
	}
	return &Dispatcher{
		loop:    loop,
		sem:     semaphore.NewWeighted(int64(workers)),
		metrics: cfg.Metrics,
		log:     logger,
	}
}

// Submit schedules t and returns immediately.
func (d *Dispatcher) Submit(t Task) {
	d.wg.Add(1)
	d.metrics.taskSubmitted(t.Kind())
	go d.run(t)
}

// Post delivers fn on the loop without scheduling a task.
func (d *Dispatcher) Post(fn func()) {
	d.loop.Post(fn)
}

// Wait blocks until every submitted task has completed. It must not be
// called from the loop goroutine.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(t Task) {
	// Acquire with a background context cannot fail.
	_ = d.sem.Acquire(context.Background(), 1)
	start := time.Now()
	err := d.execute(t)
	took := time.Since(start)
	d.sem.Release(1)

	d.metrics.taskExecuted(t.Kind(), took)
	d.loop.Post(func() {
		defer d.wg.Done()

		d.metrics.taskCompleted(t.Kind(), err)
		d.log.Debug().Str("kind", t.Kind()).Dur("took", took).Err(err).Msg("task completed")
		t.Complete(err)
	})
}

func (d *Dispatcher) execute(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Kind: t.Kind(), Value: r}
			d.log.Error().Str("kind", t.Kind()).Interface("panic", r).Msg("task panicked")
		}
	}()
	return t.Execute()
}
