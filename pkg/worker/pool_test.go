package worker_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ingesthub/ingesthub/pkg/worker"
	"github.com/stretchr/testify/assert"
)

func Test_Pool_ResultsResolveIndependentlyOfCompletionOrder(t *testing.T) {
	t.Parallel()
	pool := worker.NewPool[int](2)
	defer pool.Close()

	slow := pool.Submit(func() (int, error) {
		time.Sleep(50 * time.Millisecond)
		return 1, nil
	})
	fast := pool.Submit(func() (int, error) { return 2, nil })

	// Awaiting in submission order must still yield the right values even
	// though the second task finishes first.
	v, err := slow.Await()
	assert.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = fast.Await()
	assert.NoError(t, err)
	assert.Equal(t, 2, v)
}

func Test_Pool_AwaitTimeoutDoesNotCancelTask(t *testing.T) {
	t.Parallel()
	pool := worker.NewPool[int](1)

	var finished atomic.Bool
	release := make(chan struct{})
	future := pool.Submit(func() (int, error) {
		<-release
		finished.Store(true)
		return 42, nil
	})

	_, err := future.AwaitTimeout(10 * time.Millisecond)
	assert.ErrorIs(t, err, worker.ErrTimeout)
	assert.False(t, finished.Load())

	// Close must still wait for the timed-out task to drain.
	close(release)
	pool.Close()
	assert.True(t, finished.Load())

	v, err := future.Await()
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
}

func Test_Pool_CloseDrainsQueuedTasks(t *testing.T) {
	t.Parallel()
	pool := worker.NewPool[struct{}](1)

	var executed atomic.Int32
	for i := 0; i < 16; i++ {
		pool.Submit(func() (struct{}, error) {
			executed.Add(1)
			return struct{}{}, nil
		})
	}

	pool.Close()
	assert.EqualValues(t, 16, executed.Load())
}

func Test_Pool_PanicResolvesFutureWithError(t *testing.T) {
	t.Parallel()
	pool := worker.NewPool[int](1)
	defer pool.Close()

	future := pool.Submit(func() (int, error) { panic("boom") })
	_, err := future.Await()
	assert.ErrorContains(t, err, "panicked")

	// The worker must survive the panic and keep serving tasks.
	v, err := pool.Submit(func() (int, error) { return 7, nil }).Await()
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
}

func Test_Pool_SubmitAfterCloseResolvesWithError(t *testing.T) {
	t.Parallel()
	pool := worker.NewPool[int](1)
	pool.Close()

	_, err := pool.Submit(func() (int, error) { return 0, errors.New("unreachable") }).Await()
	assert.ErrorContains(t, err, "closed worker pool")
}
