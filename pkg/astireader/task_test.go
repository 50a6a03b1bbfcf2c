package astireader

import (
	"context"
	"testing"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestTaskShouldRunProperly(t *testing.T) {
	c := astikit.NewCloser()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	var stopped bool
	tk := newTask(c, func(ctx context.Context, tc astikit.TaskCreator) {
		tc().Do(func() { <-ctx.Done() })
	}, func() { stopped = true })

	var eventNames []astikit.EventName
	for _, n := range []astikit.EventName{
		eventNameTaskClosed,
		eventNameTaskDone,
		eventNameTaskRunning,
		eventNameTaskStarting,
		eventNameTaskStopping,
	} {
		ln := n
		tk.e.On(ln, func(payload interface{}) (delete bool) {
			eventNames = append(eventNames, ln)
			return
		})
	}

	require.NoError(t, tk.start(ctx, w.NewTask))
	require.Equal(t, StatusOpened, tk.status())
	require.Equal(t, []astikit.EventName{
		eventNameTaskStarting,
		eventNameTaskRunning,
	}, eventNames)
	eventNames = []astikit.EventName{}
	require.Error(t, tk.start(ctx, w.NewTask))

	require.NoError(t, tk.stop())
	require.True(t, stopped)
	require.NoError(t, tk.stop())

	require.Eventually(t, func() bool { return tk.status() == StatusClosed }, time.Second, 10*time.Millisecond)
	require.True(t, c.IsClosed())
	require.Equal(t, []astikit.EventName{
		eventNameTaskStopping,
		eventNameTaskClosed,
		eventNameTaskDone,
	}, eventNames)
}

func TestTaskShouldBeProperlyStoppedWhenContextIsCancelled(t *testing.T) {
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	var stopped bool
	tk := newTask(astikit.NewCloser(), func(ctx context.Context, tc astikit.TaskCreator) {
		tc().Do(func() { <-ctx.Done() })
	}, func() { stopped = true })

	require.NoError(t, tk.start(ctx, w.NewTask))
	cancel()

	require.Eventually(t, func() bool { return tk.status() == StatusClosed }, time.Second, 10*time.Millisecond)
	require.True(t, stopped)
}

func TestTaskShouldNotStartIfContextIsDone(t *testing.T) {
	c := astikit.NewCloser()
	defer c.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	tk := newTask(c, nil, nil)
	require.Error(t, tk.start(ctx, w.NewTask))
}

func TestTaskShouldCloseProperly(t *testing.T) {
	// Never started
	c := astikit.NewCloser()
	tk := newTask(c, nil, nil)
	require.NoError(t, tk.close())
	require.Equal(t, StatusClosed, tk.status())
	require.True(t, c.IsClosed())
	require.Nil(t, tk.cancel)
	require.NoError(t, tk.close())

	// Started
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	c = astikit.NewCloser()
	var done bool
	tk = newTask(c, func(ctx context.Context, tc astikit.TaskCreator) {
		tc().Do(func() {
			<-ctx.Done()
			done = true
		})
	}, nil)
	require.NoError(t, tk.start(context.Background(), w.NewTask))
	require.NoError(t, tk.close())
	require.True(t, done)
	require.Equal(t, StatusClosed, tk.status())
	require.True(t, c.IsClosed())
}
