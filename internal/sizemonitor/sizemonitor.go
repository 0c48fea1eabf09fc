// Package sizemonitor implements the Size Monitor: it polls recorded plus
// pending bytes and flips the shared limit_reached flag, per spec §4.4.
package sizemonitor

import (
	"context"
	"time"

	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/pkg/models"
)

const pollInterval = 200 * time.Millisecond

// PendingBytesSource reports the sum of pending bytes across active
// workers, satisfied by workerpool.Pool.TotalPendingBytes.
type PendingBytesSource interface {
	TotalPendingBytes() int64
}

// Monitor polls bytes_recorded + Σ pending_bytes_of_active_workers every
// 200ms and sets CaptureState.LimitReached once the maximum archive size
// is exceeded.
type Monitor struct {
	state   *models.CaptureState
	pending PendingBytesSource
	maxSize int64
	logger  *log.FieldedLogger
}

// New returns a Monitor for one capture.
func New(state *models.CaptureState, pending PendingBytesSource, maxSize int64) *Monitor {
	return &Monitor{
		state:   state,
		pending: pending,
		maxSize: maxSize,
		logger:  log.NewFieldedLogger(&log.Fields{"component": "sizemonitor"}),
	}
}

// Run polls until ctx is canceled or the limit is reached. On reaching the
// limit it sets state.LimitReached and returns, since there's nothing left
// to monitor: the proxy and fetch workers observe the flag and exit on
// their own suspension points.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := m.state.BytesRecorded() + m.pending.TotalPendingBytes()
			if total > m.maxSize {
				m.logger.Info("archive size limit reached", "bytes", total, "max", m.maxSize)
				m.state.SetLimitReached()
				return
			}
		}
	}
}
