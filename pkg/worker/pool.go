package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout is returned by Future.AwaitTimeout when the unit of work
// did not finish within the allowed duration. The unit itself is NOT
// cancelled; it continues to run and the pool will still wait for it
// during Close.
var ErrTimeout = errors.New("timed out waiting for worker task")

// Task is a single blocking unit of work executed by a pool worker.
type Task[R any] func() (R, error)

// Future is the awaitable handle returned by Pool.Submit. The result
// becomes available exactly once, when the task returns (or panics).
type Future[R any] struct {
	done   chan struct{}
	result R
	err    error
}

// Await blocks until the task has finished and returns its result.
func (future *Future[R]) Await() (R, error) {
	<-future.done
	return future.result, future.err
}

// AwaitTimeout blocks until the task has finished, or until the given
// duration has elapsed - whichever comes first. On timeout the zero
// value and ErrTimeout are returned.
func (future *Future[R]) AwaitTimeout(timeout time.Duration) (R, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-future.done:
		return future.result, future.err
	case <-timer.C:
		var zero R
		return zero, ErrTimeout
	}
}

// Pool is a fixed-size worker pool. Tasks submitted to the pool are
// queued and executed by the next free worker; each submission hands
// back a Future which can be awaited independently of submission order.
//
// The pool guarantees that Close will not return until every queued
// AND running task has finished, which makes a deferred Close a
// reliable way to avoid orphaning external subprocesses spawned by
// in-flight tasks.
type Pool[R any] struct {
	mutex  sync.Mutex
	cond   *sync.Cond
	queue  []*queuedTask[R]
	closed bool
	wg     sync.WaitGroup
}

type queuedTask[R any] struct {
	run    Task[R]
	future *Future[R]
}

// NewPool creates a Pool and starts 'size' workers. A size below one is
// clamped to one.
func NewPool[R any](size int) *Pool[R] {
	if size < 1 {
		size = 1
	}

	pool := &Pool[R]{}
	pool.cond = sync.NewCond(&pool.mutex)

	pool.wg.Add(size)
	for i := 0; i < size; i++ {
		go pool.work()
	}

	return pool
}

// Submit queues the task for execution and returns its Future. Submit
// never blocks waiting for a free worker. Submitting to a closed pool
// returns an immediately-resolved Future carrying an error.
func (pool *Pool[R]) Submit(task Task[R]) *Future[R] {
	future := &Future[R]{done: make(chan struct{})}

	pool.mutex.Lock()
	if pool.closed {
		pool.mutex.Unlock()
		future.err = errors.New("cannot submit task to a closed worker pool")
		close(future.done)
		return future
	}

	pool.queue = append(pool.queue, &queuedTask[R]{run: task, future: future})
	pool.mutex.Unlock()
	pool.cond.Signal()

	return future
}

// Close marks the pool as closed and blocks until all queued and
// running tasks have completed. Close is idempotent.
func (pool *Pool[R]) Close() {
	pool.mutex.Lock()
	if pool.closed {
		pool.mutex.Unlock()
		pool.wg.Wait()
		return
	}
	pool.closed = true
	pool.mutex.Unlock()

	pool.cond.Broadcast()
	pool.wg.Wait()
}

// work is the main loop of a single pool worker. Workers keep draining
// the queue after Close is called; they only exit once the queue is
// empty and no further submissions can arrive.
func (pool *Pool[R]) work() {
	defer pool.wg.Done()

	for {
		pool.mutex.Lock()
		for len(pool.queue) == 0 && !pool.closed {
			pool.cond.Wait()
		}

		if len(pool.queue) == 0 {
			// Closed and drained.
			pool.mutex.Unlock()
			return
		}

		next := pool.queue[0]
		pool.queue = pool.queue[1:]
		pool.mutex.Unlock()

		pool.execute(next)
	}
}

// execute runs a single task, converting panics in to errors so that a
// misbehaving task cannot take down the worker (or leave its Future
// unresolved).
func (pool *Pool[R]) execute(task *queuedTask[R]) {
	defer func() {
		if r := recover(); r != nil {
			task.future.err = fmt.Errorf("worker task panicked: %v", r)
		}
		close(task.future.done)
	}()

	task.future.result, task.future.err = task.run()
}
