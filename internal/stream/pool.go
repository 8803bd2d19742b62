// Package stream implements the asynchronous fulfillment stage: a fixed
// pool of worker goroutines that pull granule-load requests, produce the
// granule bytes, and stage them for the frame thread to upload.
package stream

import (
	"errors"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/vstream/internal/residency"
	"github.com/gogpu/vstream/internal/sched"
	"github.com/gogpu/vstream/streamcore"
)

// Pool configuration errors.
var (
	// ErrNilQueue is returned when the pool is created without a queue.
	ErrNilQueue = errors.New("vstream: fulfillment pool needs a request queue")

	// ErrNilResidency is returned when the pool is created without a
	// residency table.
	ErrNilResidency = errors.New("vstream: fulfillment pool needs a residency table")

	// ErrNilProduce is returned when the pool is created without a produce
	// function.
	ErrNilProduce = errors.New("vstream: fulfillment pool needs a produce function")
)

// Default pool settings.
const (
	// DefaultWorkers caps the default worker count. Fulfillment concurrency
	// is bounded by I/O and decode throughput, not by GPU concurrency.
	DefaultWorkers = 4

	// DefaultCompletionDepth is the default completion channel buffer.
	DefaultCompletionDepth = 256
)

// ProduceFunc synchronously produces the bytes of one granule.
type ProduceFunc func(key streamcore.GranuleKey) ([]byte, error)

// Completion is the result of one fulfilled (or failed) request, applied
// by the frame thread during the next update: slot allocation, upload
// submission, and the Resident transition all happen there.
type Completion struct {
	// Key identifies the loaded granule.
	Key streamcore.GranuleKey

	// Data is the staged granule bytes. Nil when Err is set. The frame
	// thread must release it back to the staging ring after submitting.
	Data []byte

	// Err is the produce failure, if any. The frame thread rolls the
	// granule back to NotLoaded; the next feedback signal retries it.
	Err error
}

// Config holds the collaborators and settings of a Pool.
type Config struct {
	// Workers is the number of worker goroutines.
	// Defaults to min(GOMAXPROCS, DefaultWorkers) if <= 0.
	Workers int

	// Queue supplies requests and the pending set.
	Queue *sched.Queue

	// Residency is read to discard stale requests and written to claim
	// granules for loading.
	Residency *residency.Table

	// Staging is the bounded slab ring produced bytes are copied into.
	// Optional: when nil, completions carry the producer's slice directly.
	Staging *Ring

	// Produce supplies granule bytes.
	Produce ProduceFunc

	// CompletionDepth is the completion channel buffer size.
	// Defaults to DefaultCompletionDepth if <= 0.
	CompletionDepth int

	// Logger receives debug diagnostics. When nil, logging is disabled.
	Logger *slog.Logger
}

// Pool is the fixed-size fulfillment worker pool.
//
// Workers block only on the queue's kick channel when idle and on genuine
// produce calls while fulfilling a request, never while holding a lock
// shared with the frame thread.
type Pool struct {
	queue   *sched.Queue
	res     *residency.Table
	staging *Ring
	produce ProduceFunc
	log     *slog.Logger

	completions chan Completion
	done        chan struct{}
	g           errgroup.Group

	workers int
}

// NewPool creates and starts a fulfillment pool.
func NewPool(cfg Config) (*Pool, error) {
	switch {
	case cfg.Queue == nil:
		return nil, ErrNilQueue
	case cfg.Residency == nil:
		return nil, ErrNilResidency
	case cfg.Produce == nil:
		return nil, ErrNilProduce
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = min(runtime.GOMAXPROCS(0), DefaultWorkers)
	}
	depth := cfg.CompletionDepth
	if depth <= 0 {
		depth = DefaultCompletionDepth
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	p := &Pool{
		queue:       cfg.Queue,
		res:         cfg.Residency,
		staging:     cfg.Staging,
		produce:     cfg.Produce,
		log:         log,
		completions: make(chan Completion, depth),
		done:        make(chan struct{}),
		workers:     workers,
	}
	for i := range workers {
		p.g.Go(func() error { return p.worker(i) })
	}
	return p, nil
}

// Completions returns the channel the frame thread drains during update.
func (p *Pool) Completions() <-chan Completion { return p.completions }

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int { return p.workers }

// Close signals shutdown and joins all workers. Requests still queued are
// abandoned; granules a worker had claimed are rolled back to NotLoaded.
// Close is safe to call once; the engine calls it before releasing any
// physical state, guaranteeing no worker touches freed slots.
func (p *Pool) Close() {
	close(p.done)
	_ = p.g.Wait() // workers only return nil
}

// worker is the main loop of one fulfillment goroutine.
func (p *Pool) worker(id int) error {
	p.log.Debug("fulfillment worker started", "worker", id)
	defer p.log.Debug("fulfillment worker stopped", "worker", id)

	for {
		req, ok := p.queue.TryPop()
		if !ok {
			// Idle: wait for a push or shutdown. The kick channel makes
			// shutdown prompt even with no pending work.
			select {
			case <-p.done:
				return nil
			case <-p.queue.Kick():
				continue
			}
		}

		p.fulfill(req)

		select {
		case <-p.done:
			return nil
		default:
		}
	}
}

// fulfill handles one popped request end to end.
func (p *Pool) fulfill(req streamcore.Request) {
	key := req.Key

	// Stale requests (granule vanished, already resident, or already being
	// loaded) are discarded here, at the single point where residency is
	// read.
	if st, ok := p.res.Status(key); !ok || st != streamcore.StatusNotLoaded {
		return
	}
	if !p.queue.TryBeginPending(key) {
		return
	}
	if !p.res.CompareAndSetStatus(key, streamcore.StatusNotLoaded, streamcore.StatusLoading) {
		p.queue.EndPending(key)
		return
	}

	data, err := p.produce(key)
	if err != nil {
		p.post(Completion{Key: key, Err: err})
		return
	}

	staged := data
	if p.staging != nil {
		var acquired bool
		staged, acquired = p.staging.Acquire(data, p.done)
		if !acquired {
			p.abandon(key)
			return
		}
	}
	p.post(Completion{Key: key, Data: staged})
}

// post hands a completion to the frame thread, or abandons the granule if
// shutdown wins the race.
func (p *Pool) post(c Completion) {
	select {
	case p.completions <- c:
	case <-p.done:
		if c.Data != nil && p.staging != nil {
			p.staging.Release(c.Data)
		}
		p.abandon(c.Key)
	}
}

// abandon rolls a claimed granule back to NotLoaded during shutdown so
// Loading never outlives the pool.
func (p *Pool) abandon(key streamcore.GranuleKey) {
	p.res.CompareAndSetStatus(key, streamcore.StatusLoading, streamcore.StatusNotLoaded)
	p.queue.EndPending(key)
}
