package embeddings

import (
	"context"
	"runtime"
)

// Pool runs embedding calls on at most N goroutines at a time so CPU-bound
// model inference stays off the callers' goroutines.
type Pool struct {
	next Embedder
	sem  chan struct{}
}

// NewPool bounds next to workers concurrent calls. workers <= 0 means
// runtime.NumCPU().
func NewPool(next Embedder, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{next: next, sem: make(chan struct{}, workers)}
}

// Workers returns the concurrency bound.
func (p *Pool) Workers() int { return cap(p.sem) }

func (p *Pool) Embed(ctx context.Context, text string) ([]float32, error) {
	return submit(ctx, p, func() ([]float32, error) { return p.next.Embed(ctx, text) })
}

func (p *Pool) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return submit(ctx, p, func() ([][]float32, error) { return p.next.EmbedBatch(ctx, texts) })
}

type result[T any] struct {
	val T
	err error
}

// submit waits for a free worker and runs fn on it. If ctx ends first the
// call returns ctx.Err(); a job already running finishes in the background
// and then frees its slot.
func submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	done := make(chan result[T], 1)
	go func() {
		defer func() { <-p.sem }()
		v, err := fn()
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (p *Pool) Dimension() int { return p.next.Dimension() }

func (p *Pool) Close() error { return p.next.Close() }
