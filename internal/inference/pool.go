package inference

import (
	"context"
	"sync"
)

type task struct {
	ctx context.Context
	fn  func() error
	res chan error
}

// Pool is the bounded FIFO worker pool that all forward passes run on.
// Entries whose context is done before pickup are dropped; a task already
// running is never preempted, its result is simply discarded by the caller.
type Pool struct {
	tasks chan *task
	wg    sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{tasks: make(chan *task, size*4)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		if err := t.ctx.Err(); err != nil {
			t.res <- err
			continue
		}
		t.res <- t.fn()
	}
}

// Do submits fn and waits for its result. If the context ends while the task
// is still queued the worker skips it; if it ends mid-run the caller returns
// immediately and the result is dropped.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	t := &task{ctx: ctx, fn: fn, res: make(chan error, 1)}

	select {
	case p.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the workers. Only for shutdown and tests.
func (p *Pool) Close() {
	close(p.tasks)
	p.wg.Wait()
}
