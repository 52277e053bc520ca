package server

import (
	"sync"
	"time"
)

// pool runs session loops on a fixed set of workers. A bounded queue admits
// a few sessions beyond the worker count; anything past that is rejected so
// a connection flood cannot pile up goroutines.
type pool struct {
	tasks chan func()
	wg    sync.WaitGroup
}

func newPool(workers, queueSize int) *pool {
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	p := &pool{tasks: make(chan func(), queueSize)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// trySubmit enqueues a task without blocking. False means the queue is full.
func (p *pool) trySubmit(task func()) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// shutdown stops accepting tasks and waits for running ones to finish.
// False means the timeout elapsed with workers still busy.
func (p *pool) shutdown(timeout time.Duration) bool {
	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
