package dispatch

import (
	"context"
	"sync"
)

// Loop runs posted functions one at a time on the goroutine that calls Run.
// It plays the role of the caller thread: completions and usage errors are
// delivered through it, in the order they were posted.
type Loop struct {
	mu    sync.Mutex
	queue []func()

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Post enqueues fn. It never blocks and is safe from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes posted functions until ctx is done or Stop is called.
// It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case <-l.wake:
		}
	}
}

// Stop makes Run return once the function it is running, if any, returns.
// Functions still queued are dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Do posts fn and waits until it has run. It must not be called from the
// loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	l.Post(func() {
		defer close(ran)
		fn()
	})

	select {
	case <-ran:
		return nil
	case <-l.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Idle reports whether nothing is queued.
func (l *Loop) Idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) == 0
}
