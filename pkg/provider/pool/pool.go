// Package pool provides a fixed-size worker pool for local per-connection
// work, keeping that work bounded independently of how many peers are
// connected.
package pool

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Run after the pool has been closed.
var ErrClosed = errors.New("worker pool closed")

type task struct {
	f    func() error
	done chan error
}

// Pool runs submitted functions on a fixed set of workers.
type Pool struct {
	mu     sync.RWMutex
	closed bool
	tasks  chan task
	wg     sync.WaitGroup
}

// New creates a pool with the given number of workers.
func New(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{tasks: make(chan task)}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		t.done <- t.f()
	}
}

// Run submits f to the pool and waits for it to complete, returning its
// error.
func (p *Pool) Run(f func() error) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	t := task{f: f, done: make(chan error, 1)}
	p.tasks <- t
	p.mu.RUnlock()
	return <-t.done
}

// Close stops the workers after in-flight tasks finish. Run calls after Close
// return ErrClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
