// Package dispatch runs a handler over a buffered queue on one background
// goroutine. The engine uses it for audit events and anomaly notifications,
// neither of which may block a login.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls buffering.
type Config struct {
	BufferSize int
	// DropIfFull makes Submit non-blocking; overflow is counted, not queued.
	DropIfFull bool
}

// Handler processes one item.
type Handler[T any] func(ctx context.Context, item T)

// Dispatcher forwards submitted items to a handler asynchronously.
type Dispatcher[T any] struct {
	cfg       Config
	handle    Handler[T]
	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// New starts a dispatcher.
func New[T any](cfg Config, handle Handler[T]) *Dispatcher[T] {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	d := &Dispatcher[T]{
		cfg:    cfg,
		handle: handle,
		ch:     make(chan T, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher[T]) run() {
	defer d.wg.Done()
	for {
		select {
		case item := <-d.ch:
			d.handle(context.Background(), item)
		case <-d.done:
			for {
				select {
				case item := <-d.ch:
					d.handle(context.Background(), item)
				default:
					return
				}
			}
		}
	}
}

// Submit queues item. It returns false when the item was dropped or the
// dispatcher is closed. A nil dispatcher drops silently.
func (d *Dispatcher[T]) Submit(ctx context.Context, item T) bool {
	if d == nil || d.closed.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- item:
			return true
		case <-d.done:
			return false
		default:
			d.dropped.Add(1)
			return false
		}
	}

	select {
	case d.ch <- item:
		return true
	case <-ctx.Done():
		d.dropped.Add(1)
		return false
	case <-d.done:
		return false
	}
}

// Close stops accepting items and drains what is queued.
func (d *Dispatcher[T]) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns the number of items discarded.
func (d *Dispatcher[T]) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
