package host

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/dshills/keystorm-collab/internal/logging"
)

// Loop is the host main thread. Closures posted from any goroutine run one
// at a time, in posting order, on the goroutine executing Run.
type Loop struct {
	log *logging.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake    chan struct{}
	done    chan struct{}
	running atomic.Bool

	executed atomic.Uint64
	panics   atomic.Uint64
}

// NewLoop creates a loop. It does nothing until Start or Run is called.
func NewLoop(log *logging.Logger) *Loop {
	if log == nil {
		log = logging.Discard()
	}
	return &Loop{
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues fn. It returns false once the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Start runs the loop on a new goroutine.
func (l *Loop) Start() error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	go l.run(context.Background())
	return nil
}

// Run runs the loop on the calling goroutine until Stop is called and the
// queue has drained, or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	return l.run(ctx)
}

func (l *Loop) run(ctx context.Context) error {
	defer close(l.done)
	for {
		batch, closed := l.take()
		for _, fn := range batch {
			l.execute(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return nil
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			l.close()
			return ctx.Err()
		}
	}
}

func (l *Loop) take() ([]func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch, l.closed
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.log.Error("host callback panicked: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
	l.executed.Add(1)
}

func (l *Loop) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Stop refuses further posts, lets queued closures finish and waits for the
// loop to exit. It must not be called from the loop goroutine.
func (l *Loop) Stop() {
	l.close()
	if l.running.Load() {
		<-l.done
	}
}

// Done returns a channel closed when the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Call runs fn on the loop and waits for it to return. It must not be
// called from the loop goroutine.
func (l *Loop) Call(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// The loop may have exited after running fn.
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopClosed
		}
	}
}

// Pending returns the number of queued closures.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Executed returns the number of closures that ran to completion.
func (l *Loop) Executed() uint64 {
	return l.executed.Load()
}
