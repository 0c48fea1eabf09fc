// Package workerpool implements the Capture Engine's cancellable
// background fetchers: Fetch, Robots, Favicon, and Media workers, per spec
// §4.3. Concurrency is bounded with remeh/sizedwaitgroup rather than
// Zeno's ad hoc guard channels, since the pool's size varies per capture
// (media asset count) rather than being a fixed worker count.
package workerpool

import (
	"context"
	"sync"

	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/remeh/sizedwaitgroup"
)

// Worker is one cancellable background fetcher.
type Worker interface {
	// Run executes the worker until completion or ctx cancellation.
	Run(ctx context.Context)
	// PendingBytes reports bytes currently in flight for this worker, read
	// by the Size Monitor.
	PendingBytes() int64
}

// Pool is the shared registry of workers spawned during one capture. It
// exposes spawn(worker) and stop_all() per spec §4.3.
type Pool struct {
	mu      sync.Mutex
	workers []Worker
	cancels []context.CancelFunc
	swg     sizedwaitgroup.SizedWaitGroup
	logger  *log.FieldedLogger
}

// New returns a Pool bounding concurrent workers to maxConcurrent.
func New(maxConcurrent int) *Pool {
	return &Pool{
		swg:    sizedwaitgroup.New(maxConcurrent),
		logger: log.NewFieldedLogger(&log.Fields{"component": "workerpool"}),
	}
}

// Spawn starts w in the background under ctx, bounded by the pool's
// concurrency limit, and registers it so StopAll can cancel it.
func (p *Pool) Spawn(ctx context.Context, w Worker) {
	workerCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.workers = append(p.workers, w)
	p.cancels = append(p.cancels, cancel)
	p.mu.Unlock()

	p.swg.Add()
	go func() {
		defer p.swg.Done()
		w.Run(workerCtx)
	}()
}

// StopAll signals stop to every spawned worker and joins them.
func (p *Pool) StopAll() {
	p.mu.Lock()
	cancels := append([]context.CancelFunc(nil), p.cancels...)
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	p.swg.Wait()
}

// TotalPendingBytes sums PendingBytes across every registered worker, for
// the Size Monitor's Σ pending_bytes_of_active_workers term.
func (p *Pool) TotalPendingBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var total int64
	for _, w := range p.workers {
		total += w.PendingBytes()
	}
	return total
}
