package resolver

import (
	"sync"
	"time"
)

// workerPool is a fixed-size pool with a bounded queue. When the queue is
// full the submitting goroutine runs the task itself: backpressure instead of
// dropped queries.
type workerPool struct {
	tasks       chan func()
	wg          sync.WaitGroup
	mu          sync.Mutex
	closed      bool
	onCallerRun func()
}

func newWorkerPool(workers, queueCapacity int, onCallerRun func()) *workerPool {
	p := &workerPool{
		tasks:       make(chan func(), queueCapacity),
		onCallerRun: onCallerRun,
	}
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

// submit queues the task, or runs it inline when the queue is saturated or
// the pool is already shut down.
func (p *workerPool) submit(task func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		task()
		return
	}
	select {
	case p.tasks <- task:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		if p.onCallerRun != nil {
			p.onCallerRun()
		}
		task()
	}
}

// shutdown stops accepting work and waits up to graceful for in-flight tasks.
// Workers past the deadline are abandoned; their tasks still observe the
// resolver's cancelled context.
func (p *workerPool) shutdown(graceful time.Duration) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return true
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(graceful):
		return false
	}
}
