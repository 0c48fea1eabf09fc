package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noWriteQueueDepth(ctx context.Context) (int, error) { return 0, nil }

func TestConfirmationPollerRunStopsOnContextCancel(t *testing.T) {
	deps := Deps{Store: NewInMemoryStore(), Logger: testLogger()}
	poller := NewConfirmationPoller(deps, noWriteQueueDepth, time.Millisecond, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConfirmationPoller.Run did not return after context cancel")
	}
}

func TestSchedulerStartStopLeavesNoGoroutineRunning(t *testing.T) {
	deps := Deps{Store: NewInMemoryStore(), Logger: testLogger()}
	engine := NewEngine(deps)
	scheduler := NewScheduler(engine, deps, noWriteQueueDepth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, scheduler.Start(ctx, "@every 1h"))
	scheduler.Stop()
}
