package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/fyrsmithlabs/launchpad/internal/logging"
)

// ErrShuttingDown is returned when work is launched after Shutdown.
var ErrShuttingDown = errors.New("pipeline service is shutting down")

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// taskRegistry tracks the background task of each execution. At most one
// task runs per execution; a new one waits for its predecessor.
type taskRegistry struct {
	mu     sync.Mutex
	base   context.Context
	stop   context.CancelFunc
	tasks  map[string]*task
	wg     sync.WaitGroup
	closed bool
}

func newTaskRegistry() *taskRegistry {
	base, stop := context.WithCancel(context.Background())
	return &taskRegistry{base: base, stop: stop, tasks: make(map[string]*task)}
}

// launch runs fn in a goroutine under a context detached from any request.
// The context carries id for log correlation.
func (r *taskRegistry) launch(id string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShuttingDown
	}

	prev := r.tasks[id]
	ctx, cancel := context.WithCancel(logging.WithExecutionID(r.base, id))
	t := &task{cancel: cancel, done: make(chan struct{})}
	r.tasks[id] = t
	r.wg.Add(1)
	ActiveTasks.Inc()

	go func() {
		defer r.wg.Done()
		defer ActiveTasks.Dec()
		defer cancel()
		defer close(t.done)
		defer r.forget(id, t)

		if prev != nil {
			select {
			case <-prev.done:
			case <-ctx.Done():
				return
			}
		}
		fn(ctx)
	}()
	return nil
}

func (r *taskRegistry) forget(id string, t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[id] == t {
		delete(r.tasks, id)
	}
}

// wait blocks until no task is registered for id.
func (r *taskRegistry) wait(ctx context.Context, id string) error {
	for {
		r.mu.Lock()
		t := r.tasks[id]
		r.mu.Unlock()
		if t == nil {
			return nil
		}
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// active reports whether a task is registered for id.
func (r *taskRegistry) active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id] != nil
}

// shutdown cancels every task and waits for them or ctx.
func (r *taskRegistry) shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
