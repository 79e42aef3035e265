package bridge

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/keystorm-collab/internal/logging"
)

// PanicHandler is called with the recovered value and stack of a panicking
// task or host call.
type PanicHandler func(name string, recovered any, stack []byte)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(l *logging.Logger) Option {
	return func(rt *Runtime) {
		if l != nil {
			rt.log = l
		}
	}
}

// WithPanicHandler sets a hook called after a panic has been recovered.
func WithPanicHandler(h PanicHandler) Option {
	return func(rt *Runtime) {
		rt.panicHandler = h
	}
}

// Runtime runs named background tasks on behalf of the host thread.
type Runtime struct {
	host         HostExecutor
	log          *logging.Logger
	panicHandler PanicHandler

	base     context.Context
	stopBase context.CancelFunc

	requests chan func(*tableState)
	stopped  chan struct{}

	mu      sync.Mutex // serializes Start and Shutdown
	running atomic.Bool
	closed  atomic.Bool

	dispatched  atomic.Uint64
	completed   atomic.Uint64
	cancelled   atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	hostCalls   atomic.Uint64
	hostPending atomic.Int64
}

// tableState is owned by the scheduler goroutine.
type tableState struct {
	tasks   map[string]*Task
	closing bool
	exit    bool
}

// NewRuntime creates a runtime posting host work to host.
func NewRuntime(host HostExecutor, opts ...Option) *Runtime {
	rt := &Runtime{
		host:     host,
		log:      logging.Discard(),
		requests: make(chan func(*tableState)),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.base, rt.stopBase = context.WithCancel(context.Background())
	return rt
}

// Start launches the scheduler goroutine.
func (rt *Runtime) Start() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed.Load() {
		return ErrShutdown
	}
	if rt.running.Load() {
		return ErrAlreadyRunning
	}
	rt.running.Store(true)
	go rt.schedule()
	rt.log.Debug("runtime started")
	return nil
}

// IsRunning reports whether the scheduler is running.
func (rt *Runtime) IsRunning() bool {
	return rt.running.Load()
}

func (rt *Runtime) schedule() {
	defer close(rt.stopped)
	state := &tableState{tasks: make(map[string]*Task)}
	for req := range rt.requests {
		req(state)
		if state.exit {
			return
		}
	}
}

// do runs fn on the scheduler goroutine and waits for it to complete.
func (rt *Runtime) do(fn func(*tableState)) error {
	if !rt.running.Load() && !rt.closed.Load() {
		return ErrNotRunning
	}
	done := make(chan struct{})
	req := func(s *tableState) {
		defer close(done)
		fn(s)
	}
	select {
	case rt.requests <- req:
	case <-rt.stopped:
		return ErrShutdown
	}
	<-done
	return nil
}

// Dispatch schedules fn as a task called name and returns once the
// scheduler has created it. An empty name gets a generated unique name.
func (rt *Runtime) Dispatch(name string, fn TaskFunc) (*Task, error) {
	if fn == nil {
		return nil, ErrNilTask
	}
	id := uuid.NewString()
	if name == "" {
		name = "task-" + id
	}

	var task *Task
	var dispatchErr error
	err := rt.do(func(s *tableState) {
		if s.closing {
			dispatchErr = ErrShutdown
			return
		}
		if _, exists := s.tasks[name]; exists {
			dispatchErr = fmt.Errorf("%w: %s", ErrTaskExists, name)
			return
		}
		task = newTask(rt.base, id, name)
		s.tasks[name] = task
		rt.dispatched.Add(1)
		go rt.run(task, fn)
	})
	if err != nil {
		return nil, err
	}
	if dispatchErr != nil {
		return nil, dispatchErr
	}
	rt.log.WithField("task", name).Debug("task dispatched")
	return task, nil
}

func (rt *Runtime) run(t *Task, fn TaskFunc) {
	err := rt.invoke(t, fn)

	// Drop the table entry before releasing waiters so that a caller woken
	// by Cancel can reuse the name at once.
	_ = rt.do(func(s *tableState) {
		if s.tasks[t.name] == t {
			delete(s.tasks, t.name)
		}
	})

	log := rt.log.WithField("task", t.name)
	defer t.release()
	switch t.settle(err) {
	case StateDone:
		rt.completed.Add(1)
		log.Debug("task finished")
	case StateCancelled:
		rt.cancelled.Add(1)
		log.Debug("task cancelled")
	case StateFailed:
		rt.failed.Add(1)
		log.Error("task crashed: %v", err)
	}
}

func (rt *Runtime) invoke(t *Task, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			rt.panicked.Add(1)
			rt.log.WithField("task", t.name).Error("task panicked: %v\n%s", r, stack)
			rt.notifyPanic(t.name, r, stack)
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return fn(t.ctx)
}

func (rt *Runtime) notifyPanic(name string, r any, stack []byte) {
	if rt.panicHandler == nil {
		return
	}
	defer func() { _ = recover() }()
	rt.panicHandler(name, r, stack)
}

// Cancel requests cancellation of the named task. The returned future
// resolves once the task body has returned.
func (rt *Runtime) Cancel(name string) *Future[struct{}] {
	var task *Task
	if err := rt.do(func(s *tableState) { task = s.tasks[name] }); err != nil {
		return Failed[struct{}](err)
	}
	if task == nil {
		return Failed[struct{}](fmt.Errorf("%w: %s", ErrTaskNotFound, name))
	}

	rt.log.WithField("task", name).Debug("cancelling task")
	task.requestCancel()

	f := NewFuture[struct{}]()
	go func() {
		<-task.done
		f.Resolve(struct{}{})
	}()
	return f
}

// Get returns the live task with the given name.
func (rt *Runtime) Get(name string) (*Task, bool) {
	var task *Task
	if err := rt.do(func(s *tableState) { task = s.tasks[name] }); err != nil {
		return nil, false
	}
	return task, task != nil
}

// Tasks returns the live tasks sorted by name.
func (rt *Runtime) Tasks() []TaskInfo {
	var infos []TaskInfo
	_ = rt.do(func(s *tableState) {
		infos = make([]TaskInfo, 0, len(s.tasks))
		for _, t := range s.tasks {
			infos = append(infos, t.Info())
		}
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Shutdown stops accepting tasks and cancels every live task. With drain
// set it waits for all of them to return before stopping the scheduler.
func (rt *Runtime) Shutdown(drain bool) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed.Load() {
		return ErrShutdown
	}
	if !rt.running.Load() {
		return ErrNotRunning
	}

	var live []*Task
	_ = rt.do(func(s *tableState) {
		s.closing = true
		for _, t := range s.tasks {
			t.requestCancel()
			live = append(live, t)
		}
	})
	rt.closed.Store(true)
	rt.log.Debug("runtime shutting down, %d live tasks", len(live))

	if drain {
		for _, t := range live {
			<-t.done
		}
	}

	_ = rt.do(func(s *tableState) { s.exit = true })
	<-rt.stopped
	rt.stopBase()
	rt.running.Store(false)
	rt.log.Debug("runtime stopped")
	return nil
}

// Stats holds runtime counters.
type Stats struct {
	Live        int
	Dispatched  uint64
	Completed   uint64
	Cancelled   uint64
	Failed      uint64
	Panicked    uint64
	HostCalls   uint64
	HostPending int64
}

// Stats returns a snapshot of the runtime counters.
func (rt *Runtime) Stats() Stats {
	live := 0
	_ = rt.do(func(s *tableState) { live = len(s.tasks) })
	return Stats{
		Live:        live,
		Dispatched:  rt.dispatched.Load(),
		Completed:   rt.completed.Load(),
		Cancelled:   rt.cancelled.Load(),
		Failed:      rt.failed.Load(),
		Panicked:    rt.panicked.Load(),
		HostCalls:   rt.hostCalls.Load(),
		HostPending: rt.hostPending.Load(),
	}
}

// Host returns the executor host calls are posted to.
func (rt *Runtime) Host() HostExecutor {
	return rt.host
}

// OnHost runs fn on the host thread and returns a future for its result.
// A panic in fn rejects the future with ErrHostPanicked.
func OnHost[T any](rt *Runtime, fn func() (T, error)) *Future[T] {
	f := NewFuture[T]()
	rt.hostCalls.Add(1)
	rt.hostPending.Add(1)

	posted := rt.host.Post(func() {
		defer rt.hostPending.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				rt.log.Error("host call panicked: %v\n%s", r, stack)
				rt.notifyPanic("host", r, stack)
				f.Reject(fmt.Errorf("%w: %v", ErrHostPanicked, r))
			}
		}()
		f.Complete(fn())
	})
	if !posted {
		rt.hostPending.Add(-1)
		f.Reject(ErrHostClosed)
	}
	return f
}

// Post runs fn on the host thread and returns a future that resolves when
// it has returned.
func Post(rt *Runtime, fn func() error) *Future[struct{}] {
	return OnHost(rt, func() (struct{}, error) {
		return struct{}{}, fn()
	})
}
