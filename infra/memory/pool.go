package memory

import (
	"sync"
	"sync/atomic"
)

// Pool is a typed object pool. Objects are reset before they go back so a
// Get never observes a previous owner's state.
type Pool[T any] struct {
	p     *sync.Pool
	reset func(*T)

	allocs atomic.Uint64
	gets   atomic.Uint64
	puts   atomic.Uint64
}

func NewPool[T any](ctor func() *T, reset func(*T)) *Pool[T] {
	pool := &Pool[T]{reset: reset}
	pool.p = &sync.Pool{
		New: func() any {
			pool.allocs.Add(1)
			return ctor()
		},
	}
	return pool
}

func (p *Pool[T]) Get() *T {
	p.gets.Add(1)
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	p.puts.Add(1)
	p.p.Put(v)
}

type Stats struct {
	Allocs uint64
	Gets   uint64
	Puts   uint64
}

func (p *Pool[T]) Stats() Stats {
	return Stats{Allocs: p.allocs.Load(), Gets: p.gets.Load(), Puts: p.puts.Load()}
}
