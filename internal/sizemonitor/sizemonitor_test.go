package sizemonitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/harvard-lil/perma-capture/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixedPending int64

func (p fixedPending) TotalPendingBytes() int64 { return int64(p) }

func TestMonitorSetsLimitReachedWhenOverSize(t *testing.T) {
	state := models.NewCaptureState()
	state.AddBytesRecorded(100)

	monitor := New(state, fixedPending(0), 50)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor.Run did not return after exceeding max size")
	}
	require.True(t, state.LimitReached())
}

func TestMonitorStopsOnContextCancelWithoutReachingLimit(t *testing.T) {
	state := models.NewCaptureState()
	monitor := New(state, fixedPending(0), 1<<30)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Monitor.Run did not return after context cancel")
	}
	require.False(t, state.LimitReached())
}
