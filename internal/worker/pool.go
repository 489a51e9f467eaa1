package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Pool runs n independent workers in one process. Each has its own claim loop
// and its own id, derived from Config.ID.
type Pool struct {
	workers []*Worker
}

func NewPool(n int, cfg Config) *Pool {
	if n < 1 {
		n = 1
	}
	base := cfg.ID
	p := &Pool{workers: make([]*Worker, n)}
	for i := range p.workers {
		c := cfg
		if n > 1 {
			c.ID = fmt.Sprintf("%s-%d", base, i+1)
		}
		p.workers[i] = New(c)
	}
	return p
}

func (p *Pool) Size() int { return len(p.workers) }

// Run blocks until every worker has exited.
func (p *Pool) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, w := range p.workers {
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

// Stop signals every worker. In-flight jobs still finish; Run returns once they have.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
}

// Status reports how many workers are still accepting jobs.
func (p *Pool) Status() (running, total int) {
	for _, w := range p.workers {
		if w.Running() {
			running++
		}
	}
	return running, len(p.workers)
}
