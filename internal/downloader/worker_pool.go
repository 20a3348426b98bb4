package downloader

import (
	"context"
	"sync"
)

// pool is the queue and workers of one host. Workers live until the
// scheduler closes; the host gate bounds how many of them fetch at once.
type pool struct {
	host string

	mu      sync.Mutex
	queue   []*Job
	waiting int
	ready   chan struct{}
}

func newPool(host string) *pool {
	return &pool{host: host, ready: make(chan struct{}, 1)}
}

func (p *pool) push(j *Job) {
	p.mu.Lock()
	p.queue = append(p.queue, j)
	p.mu.Unlock()
	p.signal()
}

func (p *pool) signal() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// take blocks until a job is queued or ctx ends. A worker that leaves jobs
// behind passes the signal on so idle workers wake too.
func (p *pool) take(ctx context.Context) *Job {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			j := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			more := len(p.queue) > 0
			p.mu.Unlock()

			if more {
				p.signal()
			}
			return j
		}
		p.mu.Unlock()

		select {
		case <-p.ready:
		case <-ctx.Done():
			return nil
		}
	}
}

// purge removes and returns the queued jobs of b.
func (p *pool) purge(b *Batch) []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*Job
	kept := p.queue[:0]
	for _, j := range p.queue {
		if j.batch == b {
			out = append(out, j)
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(p.queue); i++ {
		p.queue[i] = nil
	}
	p.queue = kept
	return out
}

// delay and undelay count jobs sitting out a backoff.
func (p *pool) delay() {
	p.mu.Lock()
	p.waiting++
	p.mu.Unlock()
}

func (p *pool) undelay() {
	p.mu.Lock()
	p.waiting--
	p.mu.Unlock()
}

func (p *pool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) + p.waiting
}

func (s *Scheduler) worker(p *pool) {
	defer s.wg.Done()
	for {
		j := p.take(s.ctx)
		if j == nil {
			return
		}
		s.run(j)
	}
}
