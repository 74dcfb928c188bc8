package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	var got atomic.Int64
	d := New[int](Config{BufferSize: 16}, func(_ context.Context, n int) {
		got.Add(int64(n))
	})
	for i := 1; i <= 10; i++ {
		if !d.Submit(context.Background(), i) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	d.Close()
	if got.Load() != 55 {
		t.Fatalf("expected sum 55 after drain, got %d", got.Load())
	}
	if d.Submit(context.Background(), 1) {
		t.Fatalf("submit after close must be rejected")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	started := make(chan struct{})
	d := New[string](Config{BufferSize: 1, DropIfFull: true}, func(context.Context, string) {
		once.Do(func() { close(started) })
		<-release
	})
	defer d.Close()

	d.Submit(context.Background(), "first")
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler did not start")
	}
	d.Submit(context.Background(), "queued")
	if d.Submit(context.Background(), "overflow") {
		t.Fatalf("expected overflow to be dropped")
	}
	if d.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", d.Dropped())
	}
	close(release)
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher[int]
	if d.Submit(context.Background(), 1) {
		t.Fatal("nil dispatcher accepted an item")
	}
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}
