package astireader

import (
	"context"
	"fmt"
	"sync"

	"github.com/asticode/go-astikit"
)

// task runs the reader's workers between open and close
type task struct {
	c       *astikit.Closer
	cancel  context.CancelFunc
	ctx     context.Context
	done    chan struct{}
	e       *astikit.EventManager
	m       *sync.Mutex // Locks s
	onStart onTaskStart
	onStop  onTaskStop
	s       Status
	t       *astikit.Task
}

type onTaskStart func(ctx context.Context, tc astikit.TaskCreator)

type onTaskStop func()

func newTask(c *astikit.Closer, onStart onTaskStart, onStop onTaskStop) *task {
	// Create task
	t := &task{
		c:       c,
		done:    make(chan struct{}),
		e:       astikit.NewEventManager(),
		m:       &sync.Mutex{},
		onStart: onStart,
		onStop:  onStop,
		s:       StatusCreated,
	}

	// Make sure context is cancelled
	t.c.Add(func() {
		if t.cancel != nil {
			t.cancel()
		}
	})

	// Emit closed event when task closes
	t.c.OnClosed(func(err error) { t.e.Emit(eventNameTaskClosed, nil) })
	return t
}

func (t *task) status() Status {
	t.m.Lock()
	defer t.m.Unlock()
	return t.s
}

func (t *task) start(ctx context.Context, tc astikit.TaskCreator) error {
	// Lock
	t.m.Lock()

	// Invalid status
	if t.s != StatusCreated {
		t.m.Unlock()
		return fmt.Errorf("astireader: invalid status %s", t.s)
	}

	// Check context
	if ctx.Err() != nil {
		t.m.Unlock()
		return ctx.Err()
	}

	// Create task
	t.t = tc()

	// Create context
	t.ctx, t.cancel = context.WithCancel(ctx)

	// Update status
	t.s = StatusOpening

	// Unlock
	t.m.Unlock()

	//!\\ Mutex should be unlocked at this point

	// Emit event
	t.e.Emit(eventNameTaskStarting, nil)

	// Callback
	t.onStart(t.ctx, t.t.NewSubTask)

	// Update status
	t.m.Lock()
	t.s = StatusOpened
	t.m.Unlock()

	// Emit event
	t.e.Emit(eventNameTaskRunning, nil)

	// Execute the rest in a goroutine
	// We can't use t.Do() since we want closed status to be updated after workers are done
	go func() {
		// Wait for context
		<-t.ctx.Done()

		// Make sure task is properly stopped
		t.m.Lock()
		if t.s == StatusOpened {
			t.stopUnsafe()
		} else {
			t.m.Unlock()
		}

		// Wait for workers to be done
		t.t.Wait()

		// Close task
		t.c.Close()

		// Update status
		t.m.Lock()
		t.s = StatusClosed
		t.m.Unlock()

		// Emit event
		t.e.Emit(eventNameTaskDone, nil)

		// Task is done
		close(t.done)
		t.t.Done()
	}()
	return nil
}

func (t *task) stop() error {
	// Lock
	t.m.Lock()

	// Invalid status
	if s := t.s; s != StatusOpened {
		t.m.Unlock()
		if s == StatusClosing || s == StatusClosed {
			return nil
		}
		return fmt.Errorf("astireader: invalid status %s", s)
	}

	// Stop
	t.stopUnsafe()
	return nil
}

// Mutex should be locked
func (t *task) stopUnsafe() {
	// Update status
	t.s = StatusClosing

	// Unlock
	t.m.Unlock()

	//!\\ Mutex should be unlocked at this point

	// Emit event
	t.e.Emit(eventNameTaskStopping, nil)

	// Callback
	if t.onStop != nil {
		t.onStop()
	}

	// Cancel context
	if t.cancel != nil {
		t.cancel()
	}
}

// close stops the task and waits for it to be done. A task that never started is only
// closed.
func (t *task) close() error {
	// Lock
	t.m.Lock()

	// Never started
	if t.s == StatusCreated {
		t.s = StatusClosed
		t.m.Unlock()
		close(t.done)
		return t.c.Close()
	}

	// Already closed
	if t.s == StatusClosed {
		t.m.Unlock()
		return nil
	}

	// Stop
	if t.s == StatusOpened {
		t.stopUnsafe()
	} else {
		cancel := t.cancel
		t.m.Unlock()
		if cancel != nil {
			cancel()
		}
	}

	// Wait
	<-t.done
	return nil
}
