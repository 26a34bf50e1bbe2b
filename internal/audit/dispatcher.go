package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Recorder persists a single event.
type Recorder interface {
	Record(ctx context.Context, e Event) (Event, error)
}

// Dispatcher moves persistence off the request path: Submit only enqueues,
// worker goroutines write with a per-event timeout. A full queue drops the
// event rather than delaying the response. Failed writes are not retried.
type Dispatcher struct {
	rec     Recorder
	queue   chan Event
	workers int
	timeout time.Duration
	metrics *Metrics
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type DispatcherOptions struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
	Metrics      *Metrics
	Logger       *slog.Logger
}

func NewDispatcher(rec Recorder, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		rec:     rec,
		queue:   make(chan Event, opts.QueueSize),
		workers: opts.Workers,
		timeout: opts.WriteTimeout,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
}

// Start launches the workers. They exit once Close has drained the queue.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for e := range d.queue {
				d.write(e)
			}
		}()
	}
}

func (d *Dispatcher) write(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if _, err := d.rec.Record(ctx, e); err != nil {
		d.log.Warn("audit write failed",
			"err", err,
			"method", e.Method,
			"path", e.Path,
			"status", e.Status,
		)
	}
}

// Submit never blocks.
func (d *Dispatcher) Submit(_ context.Context, e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(e, "dispatcher closed")
		return
	}
	select {
	case d.queue <- e:
	default:
		d.drop(e, "queue full")
	}
}

func (d *Dispatcher) drop(e Event, reason string) {
	d.metrics.dropped()
	d.log.Warn("audit event dropped", "reason", reason, "method", e.Method, "path", e.Path)
}

// Close stops intake and waits for queued events to be written or ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
