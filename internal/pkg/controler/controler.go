// Package controler wires the Capture Orchestrator and the Replication
// engine together into one running process, the way Zeno's controler
// package wires its reactor/preprocessor/archiver/postprocessor/finisher
// stages — here there are two independent engines (capture, replication)
// rather than a single linear pipeline, so Start/Stop fan out to both
// instead of chaining stage channels.
package controler

import (
	"context"
	"sync"
	"time"

	"github.com/harvard-lil/perma-capture/internal/browser"
	"github.com/harvard-lil/perma-capture/internal/capture"
	"github.com/harvard-lil/perma-capture/internal/linkstore"
	"github.com/harvard-lil/perma-capture/internal/pkg/config"
	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/internal/pkg/stats"
	"github.com/harvard-lil/perma-capture/internal/replication"
)

// Deps bundles everything both engines need. A zero-value
// CaptureDeps.BrowserFactory is replaced with browser.New.
type Deps struct {
	CaptureDeps     capture.Deps
	ReplicationDeps replication.Deps

	// WriteQueueDepth reports the external write queue's depth, gating the
	// Confirmation Poller and Daily-Batch Scheduler (spec §4.8, §4.9).
	WriteQueueDepth replication.WriteQueueDepth

	SchedulerCronSpec      string
	ConfirmationInterval   time.Duration
	ConfirmationErrBudget  int
}

// Controler runs capture workers, the replication engine's scheduler, and
// its confirmation poller, all sharing one process lifetime.
type Controler struct {
	deps   Deps
	logger *log.FieldedLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	poller    *replication.ConfirmationPoller
	scheduler *replication.Scheduler
}

func New(deps Deps) *Controler {
	if deps.CaptureDeps.BrowserFactory == nil {
		deps.CaptureDeps.BrowserFactory = browser.New
	}
	if deps.SchedulerCronSpec == "" {
		deps.SchedulerCronSpec = "@every 1m"
	}
	if deps.ConfirmationInterval == 0 {
		deps.ConfirmationInterval = 30 * time.Second
	}
	if deps.ConfirmationErrBudget == 0 {
		deps.ConfirmationErrBudget = config.Get().RetryForErrorLimit
	}

	return &Controler{
		deps:   deps,
		logger: log.NewFieldedLogger(&log.Fields{"component": "controler"}),
	}
}

// Start launches workerCount capture workers plus the replication
// scheduler and confirmation poller, and initializes process-wide stats.
// It returns immediately; call Stop to tear everything down.
func (c *Controler) Start(workerCount int) error {
	stats.Init()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	orchestrator := capture.New(c.deps.CaptureDeps)

	for i := 0; i < workerCount; i++ {
		c.wg.Add(1)
		go c.runCaptureWorker(ctx, orchestrator)
	}

	engine := replication.NewEngine(c.deps.ReplicationDeps)

	c.poller = replication.NewConfirmationPoller(c.deps.ReplicationDeps, c.deps.WriteQueueDepth, c.deps.ConfirmationInterval, c.deps.ConfirmationErrBudget)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.poller.Run(ctx)
	}()

	c.scheduler = replication.NewScheduler(engine, c.deps.ReplicationDeps, c.deps.WriteQueueDepth)
	if err := c.scheduler.Start(ctx, c.deps.SchedulerCronSpec); err != nil {
		cancel()
		return err
	}

	return nil
}

// runCaptureWorker repeatedly calls RunOnce, backing off briefly whenever
// no job is pending, until ctx is canceled.
func (c *Controler) runCaptureWorker(ctx context.Context, orchestrator *capture.Orchestrator) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, err := orchestrator.RunOnce(ctx)
		if err == linkstore.ErrNotFound {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if err != nil {
			c.logger.Warn("capture worker run failed", "err", err)
		}
	}
}

// Stop cancels every background goroutine and waits for them to exit.
func (c *Controler) Stop() {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("done, logs are flushing and will be closed")
	log.Close()
}
