package sender

import (
	"context"
	"log"
	"sync"
)

// Pool is a bounded worker pool for send attempts. The sweep submits claimed
// jobs; at most numWorkers provider calls run concurrently.
type Pool struct {
	tasks   chan func(ctx context.Context)
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewPool creates a pool with the given concurrency and queue depth.
func NewPool(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 10
	}
	p := &Pool{tasks: make(chan func(ctx context.Context), numWorkers*4)}
	p.start(numWorkers)
	return p
}

func (p *Pool) start(numWorkers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	log.Printf("[SenderPool] Started %d workers", numWorkers)
}

func (p *Pool) worker() {
	defer p.wg.Done()
	ctx := context.Background()
	for task := range p.tasks {
		task(ctx)
	}
}

// Submit queues one send attempt. Blocks when the queue is full, which
// naturally throttles the sweep's claim rate.
func (p *Pool) Submit(task func(ctx context.Context)) {
	p.tasks <- task
}

// SubmitContext queues one send attempt, giving up when ctx ends before the
// queue accepts it. Reports whether the task was queued; a dropped task's
// claim is released later by stale-claim recovery.
func (p *Pool) SubmitContext(ctx context.Context, task func(ctx context.Context)) bool {
	select {
	case p.tasks <- task:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop drains the queue and waits for in-flight attempts to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.tasks)
	p.wg.Wait()
	log.Printf("[SenderPool] Stopped")
}
