package engine

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool runs the attempt phase as a parallel map over a fixed number of
// workers. Each worker takes one contiguous chunk of indices.
type Pool struct {
	workers int
}

// NewPool creates a pool; workers <= 0 uses GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// Map calls fn(i) for every i in [0,n) and blocks until all calls return.
// The first error stops the remaining chunks and is returned.
func (p *Pool) Map(n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	if p.workers == 1 || n == 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	g, ctx := errgroup.WithContext(context.Background())
	chunk := (n + p.workers - 1) / p.workers
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if ctx.Err() != nil {
					return nil
				}
				if err := fn(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
