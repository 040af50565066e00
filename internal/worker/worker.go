// Package worker runs tasks on a fixed number of goroutines with a per-task
// deadline and a hard abort. It backs the app's image uploads and other
// cancellable background jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrPoolAborted is returned by Submit after Abort has been called.
	// An aborted pool accepts no further work.
	ErrPoolAborted = errors.New("worker: pool aborted")

	// ErrTaskAborted resolves a task that Abort cancelled, whether it was
	// still queued or already running.
	ErrTaskAborted = errors.New("worker: task aborted")

	// ErrTaskTimeout resolves a task that exceeded the pool's per-task
	// deadline.
	ErrTaskTimeout = errors.New("worker: task timed out")
)

// Task is one unit of work. The context carries the per-task deadline and
// the pool-wide abort; tasks that can block should honor it.
type Task func(ctx context.Context) (any, error)

// Pending is the handle for a submitted task.
type Pending struct {
	done   chan struct{}
	result any
	err    error
}

func (p *Pending) complete(result any, err error) {
	p.result = result
	p.err = err
	close(p.done)
}

// Done is closed when the task has resolved, successfully or not.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the task resolves or ctx is cancelled. The returned
// error is the task's own, or ErrTaskTimeout / ErrTaskAborted when the pool
// cut it short.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type job struct {
	task    Task
	pending *Pending
}

// Pool is a bounded task runner. At most concurrency tasks run at once;
// the rest wait in FIFO order.
type Pool struct {
	concurrency int
	timeout     time.Duration

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu      sync.Mutex
	queue   []*job
	running int
	aborted bool
	idle    chan struct{} // closed while the pool is idle, swapped when work arrives
}

// New builds a pool. concurrency below 1 is raised to 1; a zero timeout
// means tasks run without a deadline.
func New(concurrency int, timeout time.Duration) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Pool{
		concurrency: concurrency,
		timeout:     timeout,
		baseCtx:     ctx,
		cancelAll:   cancel,
		idle:        idle,
	}
}

// Submit queues a task and returns its handle. Execution starts immediately
// when a slot is free.
func (p *Pool) Submit(task Task) (*Pending, error) {
	if task == nil {
		return nil, errors.New("worker: nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.aborted {
		return nil, ErrPoolAborted
	}

	pending := &Pending{done: make(chan struct{})}
	p.queue = append(p.queue, &job{task: task, pending: pending})

	if p.running == 0 && len(p.queue) == 1 {
		// Pool was idle; open a fresh idle gate for waiters.
		p.idle = make(chan struct{})
	}
	if p.running < p.concurrency {
		p.running++
		go p.drain()
	}
	return pending, nil
}

// drain runs queued jobs until none are left, then retires its slot.
func (p *Pool) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 || p.aborted {
			p.running--
			if p.running == 0 && len(p.queue) == 0 {
				close(p.idle)
			}
			p.mu.Unlock()
			return
		}
		j := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.runJob(j)
	}
}

func (p *Pool) runJob(j *job) {
	ctx := p.baseCtx
	cancel := context.CancelFunc(func() {})
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("worker: task panic: %v", r)}
			}
		}()
		result, err := j.task(ctx)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case out := <-ch:
		// A task that returns its context error races the ctx.Done branch
		// below; map both outcomes to the same sentinel.
		err := out.err
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = ErrTaskTimeout
		case errors.Is(err, context.Canceled) && p.baseCtx.Err() != nil:
			err = ErrTaskAborted
		}
		j.pending.complete(out.result, err)
	case <-ctx.Done():
		// The task goroutine keeps running until it honors ctx; its late
		// result lands in the buffered channel and is dropped.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slog.Warn("worker: task exceeded deadline", "timeout", p.timeout)
			j.pending.complete(nil, ErrTaskTimeout)
		} else {
			j.pending.complete(nil, ErrTaskAborted)
		}
	}
}

// Abort rejects all queued tasks, cancels running ones, and permanently
// closes the pool to new submissions. Each cancelled task's Pending resolves
// with ErrTaskAborted.
func (p *Pool) Abort() {
	p.mu.Lock()
	if p.aborted {
		p.mu.Unlock()
		return
	}
	p.aborted = true
	dropped := p.queue
	p.queue = nil
	if p.running == 0 {
		select {
		case <-p.idle:
		default:
			close(p.idle)
		}
	}
	p.mu.Unlock()

	p.cancelAll()
	for _, j := range dropped {
		j.pending.complete(nil, ErrTaskAborted)
	}
	if len(dropped) > 0 {
		slog.Info("worker: aborted queued tasks", "count", len(dropped))
	}
}

// Wait blocks until the pool has no queued or running tasks, or until ctx
// is cancelled. It is level-triggered: tasks submitted while waiting extend
// the wait.
func (p *Pool) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		idle := p.idle
		p.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}

		p.mu.Lock()
		done := p.running == 0 && len(p.queue) == 0
		p.mu.Unlock()
		if done {
			return nil
		}
	}
}

// QueueLen reports how many tasks are waiting for a slot.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Running reports how many tasks are executing right now.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// IsIdle reports whether nothing is queued or running.
func (p *Pool) IsIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running == 0 && len(p.queue) == 0
}

// IsAborted reports whether Abort has been called.
func (p *Pool) IsAborted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aborted
}
