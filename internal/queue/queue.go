// Blockstats - Minecraft Server Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blockstats

// Package queue provides the bounded FIFO and worker pool shared by every
// pipeline stage.
//
// A Queue is parameterized by its item type and a consume function; stages
// differ only in the function they plug in. Offer never blocks: when the
// buffer is full the item is dropped and counted, so callers on the event path
// are never stalled by a slow consumer. A consume function may return
// ErrRequeue to put the item back at the tail after a short backoff.
//
// Workers recover from panics per item, so a bad item never takes a worker
// down with it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/blockstats/internal/logging"
	"github.com/tomtom215/blockstats/internal/metrics"
)

// ErrRequeue is returned by a consume function to ask for the item to be
// offered again at the tail of the queue.
var ErrRequeue = errors.New("requeue item")

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("queue already started")

// ErrStopped is returned when Start is called after DrainAndStop.
var ErrStopped = errors.New("queue stopped")

// Result is the outcome of Offer.
type Result int

const (
	// Accepted means the item is in the queue.
	Accepted Result = iota
	// Dropped means the queue was full and the item was discarded.
	Dropped
	// Closed means the queue has been stopped and no longer accepts items.
	Closed
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Dropped:
		return "dropped"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// ConsumeFunc handles one dequeued item.
type ConsumeFunc[T any] func(ctx context.Context, item T) error

// Config holds queue configuration.
type Config struct {
	// Name labels metrics and logs (process, get, save, clear).
	Name string

	// Capacity is the maximum number of buffered items.
	Capacity int

	// Workers is the number of consumer goroutines.
	Workers int

	// RequeueBackoff is the pause before a requeued item is offered again.
	RequeueBackoff time.Duration

	// DropLogInterval limits overflow warnings to one per interval.
	DropLogInterval time.Duration
}

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Depth     int
	Enqueued  int64
	Dropped   int64
	Requeued  int64
	Processed int64
	Failed    int64
	Panics    int64
}

// Queue is a bounded FIFO drained by a fixed pool of workers.
//
// Lifecycle:
//
//  1. New allocates the buffer; OnDrop may be installed before Start
//  2. Start launches Config.Workers goroutines, each calling the consume
//     function for one item at a time
//  3. Offer enqueues without blocking and reports Accepted, Dropped or Closed
//  4. DrainAndStop stops the workers and hands back whatever was still
//     buffered, so the owner can finish it synchronously
//
// Items are delivered in FIFO order per queue, but with more than one worker
// they may complete out of order. Per-item failures and panics are counted
// and logged; neither stops a worker.
//
// Example usage:
//
//	q := queue.New(queue.Config{Name: "save", Capacity: 500, Workers: 2},
//		func(ctx context.Context, id uuid.UUID) error {
//			return saveRecord(ctx, id)
//		})
//	if err := q.Start(ctx); err != nil {
//		return err
//	}
//	if q.Offer(id) == queue.Dropped {
//		spill(id)
//	}
//	leftover := q.DrainAndStop()
type Queue[T any] struct {
	cfg     Config
	items   chan T
	consume ConsumeFunc[T]
	onDrop  func(T)
	logger  zerolog.Logger

	mu        sync.RWMutex
	started   bool
	stopped   bool
	stopCh    chan struct{}
	cancel    context.CancelFunc
	leftovers []T
	wg        sync.WaitGroup

	dropLimiter *rate.Limiter

	enqueued  atomic.Int64
	dropped   atomic.Int64
	requeued  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64

	depthGauge       prometheus.Gauge
	enqueuedCounter  prometheus.Counter
	droppedCounter   prometheus.Counter
	requeuedCounter  prometheus.Counter
	processedCounter prometheus.Counter
	failedCounter    prometheus.Counter
	panicCounter     prometheus.Counter
}

// New creates a queue. Workers are not launched until Start.
func New[T any](cfg Config, consume ConsumeFunc[T]) *Queue[T] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DropLogInterval <= 0 {
		cfg.DropLogInterval = time.Second
	}
	return &Queue[T]{
		cfg:              cfg,
		items:            make(chan T, cfg.Capacity),
		consume:          consume,
		logger:           logging.WithComponent(cfg.Name + "-queue"),
		stopCh:           make(chan struct{}),
		dropLimiter:      rate.NewLimiter(rate.Every(cfg.DropLogInterval), 1),
		depthGauge:       metrics.QueueDepth.WithLabelValues(cfg.Name),
		enqueuedCounter:  metrics.QueueEnqueued.WithLabelValues(cfg.Name),
		droppedCounter:   metrics.QueueDropped.WithLabelValues(cfg.Name),
		requeuedCounter:  metrics.QueueRequeued.WithLabelValues(cfg.Name),
		processedCounter: metrics.QueueProcessed.WithLabelValues(cfg.Name),
		failedCounter:    metrics.QueueFailed.WithLabelValues(cfg.Name),
		panicCounter:     metrics.WorkerPanics.WithLabelValues(cfg.Name),
	}
}

// Name returns the queue name.
func (q *Queue[T]) Name() string { return q.cfg.Name }

// Capacity returns the buffer size.
func (q *Queue[T]) Capacity() int { return q.cfg.Capacity }

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int { return len(q.items) }

// OnDrop installs fn to be called with every item discarded because the queue
// was full, including items that overflow on requeue. fn runs on the offering
// goroutine and must not call Offer on the same queue. Call it before Start.
func (q *Queue[T]) OnDrop(fn func(T)) {
	q.mu.Lock()
	q.onDrop = fn
	q.mu.Unlock()
}

// Start launches the workers. ctx is handed to every consume call.
func (q *Queue[T]) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrStopped
	}
	if q.started {
		return ErrAlreadyStarted
	}
	q.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(workerCtx)
	}

	q.logger.Debug().
		Int("capacity", q.cfg.Capacity).
		Int("workers", q.cfg.Workers).
		Msg("Queue started")
	return nil
}

// Offer adds item to the tail of the queue without blocking.
func (q *Queue[T]) Offer(item T) Result {
	q.mu.RLock()
	if q.stopped {
		q.mu.RUnlock()
		return Closed
	}
	onDrop := q.onDrop
	result := q.offerLocked(item)
	q.mu.RUnlock()

	if result == Dropped && onDrop != nil {
		onDrop(item)
	}
	return result
}

func (q *Queue[T]) offerLocked(item T) Result {
	select {
	case q.items <- item:
		q.enqueued.Add(1)
		q.enqueuedCounter.Inc()
		q.depthGauge.Set(float64(len(q.items)))
		return Accepted
	default:
		dropped := q.dropped.Add(1)
		q.droppedCounter.Inc()
		if q.dropLimiter.Allow() {
			q.logger.Warn().
				Int("capacity", q.cfg.Capacity).
				Int64("dropped_total", dropped).
				Msg("Queue full, dropping item")
		}
		return Dropped
	}
}

// DrainAndStop stops the workers, waits for in-flight items to finish and
// returns everything still buffered. Later calls return an empty slice.
func (q *Queue[T]) DrainAndStop() []T {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return []T{}
	}
	q.stopped = true
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()
	if q.cancel != nil {
		q.cancel()
	}

	remaining := make([]T, 0, len(q.items)+len(q.leftovers))
drain:
	for {
		select {
		case item := <-q.items:
			remaining = append(remaining, item)
		default:
			break drain
		}
	}

	q.mu.Lock()
	remaining = append(remaining, q.leftovers...)
	q.leftovers = nil
	q.mu.Unlock()

	q.depthGauge.Set(0)
	if len(remaining) > 0 {
		q.logger.Info().Int("leftover", len(remaining)).Msg("Queue drained")
	}
	return remaining
}

// Stopped reports whether DrainAndStop has been called.
func (q *Queue[T]) Stopped() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stopped
}

// Stats returns the current counters.
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Depth:     len(q.items),
		Enqueued:  q.enqueued.Load(),
		Dropped:   q.dropped.Load(),
		Requeued:  q.requeued.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Panics:    q.panics.Load(),
	}
}

func (q *Queue[T]) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		select {
		case <-q.stopCh:
			return
		case item := <-q.items:
			q.depthGauge.Set(float64(len(q.items)))
			q.handle(ctx, item)
		}
	}
}

// handle runs the consume function for one item and never lets a panic escape.
func (q *Queue[T]) handle(ctx context.Context, item T) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.panicCounter.Inc()
			q.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered panic in queue worker")
		}
	}()

	err := q.consume(ctx, item)
	switch {
	case err == nil:
		q.processed.Add(1)
		q.processedCounter.Inc()
	case errors.Is(err, ErrRequeue):
		q.requeue(item)
	default:
		q.failed.Add(1)
		q.failedCounter.Inc()
		q.logger.Warn().Err(err).Msg("Failed to process item")
	}
}

// requeue offers item again after the configured backoff. If the queue stops
// in the meantime the item is kept for DrainAndStop.
func (q *Queue[T]) requeue(item T) {
	q.requeued.Add(1)
	q.requeuedCounter.Inc()

	if q.cfg.RequeueBackoff > 0 {
		timer := time.NewTimer(q.cfg.RequeueBackoff)
		select {
		case <-timer.C:
		case <-q.stopCh:
			timer.Stop()
		}
	}

	if q.Offer(item) == Closed {
		q.mu.Lock()
		q.leftovers = append(q.leftovers, item)
		q.mu.Unlock()
	}
}
