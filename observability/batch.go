package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const maxBatch = 100

// batcher buffers items and hands them to write in batches of at most
// maxBatch: when a batch fills, on every tick, on flush and on close.
// write runs on the batcher goroutine and must not keep the slice.
type batcher[T any] struct {
	name     string
	ch       chan T
	flushReq chan chan struct{}
	stop     chan struct{}
	done     chan struct{}
	interval time.Duration
	write    func([]T) error
	logger   *slog.Logger
}

func newBatcher[T any](name string, size int, interval time.Duration, logger *slog.Logger, write func([]T) error) *batcher[T] {
	if size < 0 {
		size = 0
	}
	b := &batcher[T]{
		name:     name,
		ch:       make(chan T, size),
		flushReq: make(chan chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		interval: interval,
		write:    write,
		logger:   logger,
	}
	go b.run()
	return b
}

// offer queues v without blocking and reports whether it was accepted.
func (b *batcher[T]) offer(v T) bool {
	select {
	case b.ch <- v:
		return true
	default:
		return false
	}
}

func (b *batcher[T]) flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case b.flushReq <- ack:
	case <-b.done:
		return fmt.Errorf("observability: %s closed", b.name)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *batcher[T]) close() {
	close(b.stop)
	<-b.done
}

func (b *batcher[T]) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	batch := make([]T, 0, maxBatch)

	write := func() {
		if len(batch) == 0 {
			return
		}
		if err := b.write(batch); err != nil {
			b.logger.Error("observability: write "+b.name, "error", err, "count", len(batch))
		}
		batch = batch[:0]
	}
	add := func(v T) {
		batch = append(batch, v)
		if len(batch) >= maxBatch {
			write()
		}
	}
	drain := func() {
		for {
			select {
			case v := <-b.ch:
				add(v)
			default:
				write()
				return
			}
		}
	}

	for {
		select {
		case <-b.stop:
			drain()
			return
		case ack := <-b.flushReq:
			drain()
			close(ack)
		case v := <-b.ch:
			add(v)
		case <-ticker.C:
			write()
		}
	}
}
