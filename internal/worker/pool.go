package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pool processes submitted items of type T on a fixed set of workers.
type Pool[T any] struct {
	name      string
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// poolMetrics holds the Prometheus collectors for one pool.
type poolMetrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics registers the pool's collectors with reg, labelled by the
// pool's name. A nil registerer disables metrics.
func WithMetrics[T any](reg prometheus.Registerer) Option[T] {
	return func(p *Pool[T]) {
		if reg == nil {
			return
		}
		p.metrics = newPoolMetrics(reg, p.name)
	}
}

// NewPool creates a pool. Non-positive workers or queueSize fall back to 1
// worker and a queue of 256.
func NewPool[T any](name string, workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		name:      name,
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func newPoolMetrics(reg prometheus.Registerer, name string) *poolMetrics {
	labels := prometheus.Labels{"lane": name}

	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "labhost", Subsystem: "lane", Name: "queue_depth",
			Help: "Items waiting in the lane", ConstLabels: labels,
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labhost", Subsystem: "lane", Name: "submitted_total",
			Help: "Items accepted by the lane", ConstLabels: labels,
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labhost", Subsystem: "lane", Name: "processed_total",
			Help: "Items processed by the lane", ConstLabels: labels,
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labhost", Subsystem: "lane", Name: "failed_total",
			Help: "Items whose processing returned an error", ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labhost", Subsystem: "lane", Name: "dropped_total",
			Help: "Items rejected because the queue was full", ConstLabels: labels,
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "labhost", Subsystem: "lane", Name: "processing_duration_seconds",
			Help:        "Time spent processing one item",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			ConstLabels: labels,
		}, []string{"status"}),
	}

	m.queueDepth = register(reg, name, m.queueDepth)
	m.submitted = register(reg, name, m.submitted)
	m.processed = register(reg, name, m.processed)
	m.failed = register(reg, name, m.failed)
	m.dropped = register(reg, name, m.dropped)
	m.processingTime = register(reg, name, m.processingTime)
	return m
}

// register adds c to reg. A lane re-created under the same name keeps
// counting on the collector already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, lane string, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(fmt.Sprintf("worker: registering metrics for lane %q: %v", lane, err))
}

// Submit enqueues work without blocking. It returns ErrQueueFull when the
// queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. Cancelling ctx makes them exit without
// draining the queue; use Stop for a graceful drain.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for queued work to drain.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}

	close(p.workChan)
	p.stopped = true

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Name:       p.name,
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics.
type PoolStats struct {
	Name       string `json:"name"`
	Workers    int    `json:"workers"`
	QueueSize  int    `json:"queue_size"`
	QueueDepth int    `json:"queue_depth"`
	Submitted  int64  `json:"submitted"`
	Processed  int64  `json:"processed"`
	Failed     int64  `json:"failed"`
	Dropped    int64  `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	err := p.processor(ctx, work)
	duration := time.Since(start)

	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}

	if p.metrics != nil {
		p.metrics.processed.Inc()
		status := "success"
		if err != nil {
			p.metrics.failed.Inc()
			status = "error"
		}
		p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}
