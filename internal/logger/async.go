package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes and stops a handler that buffers records.
type Closer interface {
	Close()
}

// nopCloser is the Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// job carries the record together with the handler that accepted it, so
// attributes added via WithAttrs survive the trip through the queue.
type job struct {
	sink slog.Handler
	rec  slog.Record
}

// AsyncHandler decouples log emission from log encoding: Handle enqueues
// the record and a small worker pool writes it out. When the queue is
// full the record is counted and dropped rather than blocking a request.
type AsyncHandler struct {
	inner slog.Handler
	queue chan job
	pool  *sync.WaitGroup
	lost  *atomic.Int64
}

// NewAsyncHandler buffers up to capacity records ahead of workers
// goroutines writing through inner.
func NewAsyncHandler(inner slog.Handler, capacity, workers int) *AsyncHandler {
	h := &AsyncHandler{
		inner: inner,
		queue: make(chan job, capacity),
		pool:  &sync.WaitGroup{},
		lost:  &atomic.Int64{},
	}
	for range workers {
		h.pool.Add(1)
		go func() {
			defer h.pool.Done()
			for j := range h.queue {
				_ = j.sink.Handle(context.Background(), j.rec)
			}
		}()
	}
	return h
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues a copy of the record, dropping it when the queue is
// full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.queue <- job{sink: h.inner, rec: rec.Clone()}:
	default:
		h.lost.Add(1)
	}
	return nil
}

// WithAttrs derives a handler that shares the queue and worker pool.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(h.inner.WithAttrs(attrs))
}

// WithGroup derives a handler that shares the queue and worker pool.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return h.derive(h.inner.WithGroup(name))
}

func (h *AsyncHandler) derive(inner slog.Handler) *AsyncHandler {
	return &AsyncHandler{inner: inner, queue: h.queue, pool: h.pool, lost: h.lost}
}

// DroppedCount reports how many records were discarded on a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.lost.Load()
}

// Close stops accepting records and blocks until the workers have
// written out everything still queued. Close only on the root handler,
// and only once.
func (h *AsyncHandler) Close() {
	close(h.queue)
	h.pool.Wait()
}
