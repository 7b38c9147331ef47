package evidence

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kalambet/facewatch/internal/metrics"
	"github.com/kalambet/facewatch/internal/notifylog"
)

// Recorder produces a complete alert for a job.
type Recorder interface {
	Record(ctx context.Context, job Job) (notifylog.Alert, error)
}

// Sink receives finished alerts.
type Sink interface {
	Append(a notifylog.Alert) notifylog.Alert
}

// Pool runs Recorder jobs on a fixed set of workers behind a bounded queue.
type Pool struct {
	rec     Recorder
	sink    Sink
	queue   chan Job
	workers int
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewPool creates a Pool. Call Start before submitting.
func NewPool(rec Recorder, sink Sink, workers, depth int, m *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if depth <= 0 {
		depth = 32
	}
	return &Pool{
		rec:     rec,
		sink:    sink,
		queue:   make(chan Job, depth),
		workers: workers,
		metrics: m,
		logger:  slog.Default(),
	}
}

// Start launches the workers. Jobs run with a context detached from the
// caller so queued alerts still complete during shutdown.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for range p.workers {
		p.wg.Add(1)
		go p.work()
	}
}

// Submit queues job without blocking. It returns false when the queue is
// full or the pool is closed; the job is then dropped.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(job, "pool closed")
		return false
	}
	select {
	case p.queue <- job:
		p.metrics.QueueDepth(len(p.queue))
		return true
	default:
		p.drop(job, "queue full")
		return false
	}
}

// Len returns the number of queued jobs.
func (p *Pool) Len() int { return len(p.queue) }

// Shutdown stops intake and waits for queued jobs to finish or ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
		if !p.started {
			p.started = true
			for range p.workers {
				p.wg.Add(1)
				go p.work()
			}
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is Shutdown without a deadline.
func (p *Pool) Close() {
	_ = p.Shutdown(context.Background())
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.queue {
		p.metrics.QueueDepth(len(p.queue))
		p.handle(job)
	}
}

func (p *Pool) handle(job Job) {
	alert, err := p.rec.Record(context.Background(), job)
	if err != nil {
		p.logger.Error("alert discarded, evidence not persisted", "identity", job.Identity, "error", err)
		return
	}
	stored := p.sink.Append(alert)
	p.metrics.Alert(stored.Identity)
	p.logger.Info("alert recorded",
		"id", stored.ID,
		"identity", stored.Identity,
		"image", stored.ImageRef,
		"audio", stored.AudioRef != "",
	)
}

func (p *Pool) drop(job Job, reason string) {
	p.metrics.AlertDropped()
	p.logger.Warn("alert dropped", "identity", job.Identity, "reason", reason)
}
