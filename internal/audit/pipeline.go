package audit

import (
	"context"
	"sync"
	"time"

	"github.com/turnero/hospital-core/internal/observability/metrics"
	"github.com/turnero/hospital-core/pkg/logging"
)

// Sink receives flushed batches. *Service is the production sink.
type Sink interface {
	Persist(ctx context.Context, events []Event) error
}

// PipelineOptions tune the background worker. Zero values fall back to the
// defaults below.
type PipelineOptions struct {
	QueueSize  int
	BatchSize  int
	Linger     time.Duration
	RetryDelay time.Duration
}

const (
	defaultQueueSize  = 512
	defaultBatchSize  = 50
	defaultLinger     = 500 * time.Millisecond
	defaultRetryDelay = time.Second
)

// Pipeline decouples event producers from the persistence sink. Producers
// enqueue without blocking; a single worker batches and flushes. Events are
// acknowledged only after a successful flush, so Stop drains rather than
// discards.
type Pipeline struct {
	sink       Sink
	queue      chan Event
	batchSize  int
	linger     time.Duration
	retryDelay time.Duration
	logger     *logging.Logger
	metrics    *metrics.AuditMetrics

	mu       sync.Mutex
	running  bool
	shutdown chan struct{}
	done     chan struct{}
	unacked  *joinCounter
}

// NewPipeline constructs a stopped pipeline; call Start to launch the worker.
func NewPipeline(sink Sink, opts PipelineOptions, logger *logging.Logger, m *metrics.AuditMetrics) *Pipeline {
	if sink == nil {
		panic("audit: sink required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Linger <= 0 {
		opts.Linger = defaultLinger
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Pipeline{
		sink:       sink,
		queue:      make(chan Event, opts.QueueSize),
		batchSize:  opts.BatchSize,
		linger:     opts.Linger,
		retryDelay: opts.RetryDelay,
		logger:     logger,
		metrics:    m,
		unacked:    newJoinCounter(),
	}
}

// Start launches the background worker. Starting a running pipeline is a
// no-op.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.shutdown = make(chan struct{})
	p.done = make(chan struct{})
	p.running = true
	go p.run(p.shutdown, p.done)
}

// Stop signals shutdown, blocks until every queued event has been flushed (or
// dropped after the final-flush failure path), then waits for the worker to
// exit. Subsequent Enqueue calls persist synchronously.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.shutdown)
	done := p.done
	p.mu.Unlock()

	p.unacked.wait()
	<-done
}

// Drain blocks until the queue is empty and all in-flight batches are
// flushed. Primarily useful in tests.
func (p *Pipeline) Drain() {
	p.unacked.wait()
}

// Enqueue inserts an event into the bounded queue without blocking. If the
// worker is not running, or the queue is full, the event is persisted
// synchronously instead; it is never dropped silently. Persistence failures
// are logged, never propagated to the caller.
func (p *Pipeline) Enqueue(ctx context.Context, event Event) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.metrics.ObserveSyncFallback("worker_stopped")
		p.persistDirect(ctx, event)
		return
	}

	p.unacked.add(1)
	select {
	case p.queue <- event:
		p.mu.Unlock()
		p.metrics.ObserveEnqueued(string(event.Severity))
		p.metrics.SetQueueDepth(len(p.queue))
	default:
		p.unacked.done(1)
		p.mu.Unlock()
		p.logger.Warn("audit queue full; persisting event synchronously")
		p.metrics.ObserveSyncFallback("queue_full")
		p.persistDirect(ctx, event)
	}
}

func (p *Pipeline) persistDirect(ctx context.Context, event Event) {
	if err := p.sink.Persist(ctx, []Event{event}); err != nil {
		p.logger.Error("synchronous audit persistence failed", "error", err)
	}
}

func (p *Pipeline) run(shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	pending := make([]Event, 0, p.batchSize)
	draining := false

	for {
		if !draining {
			select {
			case <-shutdown:
				draining = true
			default:
			}
		}
		if draining && len(pending) == 0 && len(p.queue) == 0 {
			return
		}

		lingerElapsed := false
		if draining {
			select {
			case event := <-p.queue:
				pending = append(pending, event)
			default:
				lingerElapsed = true
			}
		} else {
			timer := time.NewTimer(p.linger)
			select {
			case event := <-p.queue:
				timer.Stop()
				pending = append(pending, event)
			case <-timer.C:
				lingerElapsed = true
			case <-shutdown:
				timer.Stop()
				draining = true
			}
		}
		p.metrics.SetQueueDepth(len(p.queue))

		if len(pending) == 0 {
			continue
		}
		shouldFlush := lingerElapsed ||
			len(pending) >= p.batchSize ||
			(draining && len(p.queue) == 0)
		if !shouldFlush {
			continue
		}

		if p.flush(pending) {
			p.unacked.done(len(pending))
			pending = pending[:0]
			continue
		}

		// The batch stays pending and is retried after the delay. During
		// shutdown there is exactly one final attempt before the batch is
		// dropped, so Stop always terminates.
		time.Sleep(p.retryDelay)
		if draining && len(p.queue) == 0 {
			if p.flush(pending) {
				p.unacked.done(len(pending))
			} else {
				p.logger.Error("dropping audit events after repeated flush failures", "count", len(pending))
				p.metrics.ObserveDropped(len(pending))
				p.unacked.done(len(pending))
			}
			pending = pending[:0]
		}
	}
}

func (p *Pipeline) flush(pending []Event) bool {
	if err := p.sink.Persist(context.Background(), pending); err != nil {
		p.logger.Error("failed to persist audit batch; will retry", "error", err, "count", len(pending))
		p.metrics.ObserveFlush("error", len(pending))
		return false
	}
	p.metrics.ObserveFlush("ok", len(pending))
	return true
}

// joinCounter tracks queued-but-unflushed events so Stop and Drain get
// queue-join semantics.
type joinCounter struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func newJoinCounter() *joinCounter {
	c := &joinCounter{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *joinCounter) add(n int) {
	c.mu.Lock()
	c.n += n
	c.mu.Unlock()
}

func (c *joinCounter) done(n int) {
	c.mu.Lock()
	c.n -= n
	if c.n <= 0 {
		c.n = 0
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

func (c *joinCounter) wait() {
	c.mu.Lock()
	for c.n > 0 {
		c.cond.Wait()
	}
	c.mu.Unlock()
}
