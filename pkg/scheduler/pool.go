package scheduler

import "sync"

// workerPool bounds how many task goroutines run at once. Shrinking never
// interrupts running tasks; busy may exceed size until they finish.
type workerPool struct {
	mu   sync.Mutex
	size int
	busy int
}

func newWorkerPool(size int) *workerPool {
	if size < 1 {
		size = 1
	}
	return &workerPool{size: size}
}

func (p *workerPool) tryAcquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy >= p.size {
		return false
	}
	p.busy++
	return true
}

func (p *workerPool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy > 0 {
		p.busy--
	}
}

// Size implements resource.Resizable
func (p *workerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Resize implements resource.Resizable. The size never drops below one.
func (p *workerPool) Resize(n int) int {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.size = n
	return n
}

func (p *workerPool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}
