package controler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/harvard-lil/perma-capture/internal/blobstore"
	"github.com/harvard-lil/perma-capture/internal/capture"
	"github.com/harvard-lil/perma-capture/internal/linkstore"
	"github.com/harvard-lil/perma-capture/internal/replication"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestControlerStartStopLeavesNoGoroutineRunning(t *testing.T) {
	links := linkstore.NewInMemory()
	blobs := blobstore.NewLocal(t.TempDir())

	c := New(Deps{
		CaptureDeps: capture.Deps{
			LinkStore: links,
			BlobStore: blobs,
		},
		ReplicationDeps: replication.Deps{
			Store: replication.NewInMemoryStore(),
			Links: links,
			Blobs: blobs,
		},
		WriteQueueDepth:      func(ctx context.Context) (int, error) { return 0, nil },
		SchedulerCronSpec:    "@every 1h",
		ConfirmationInterval: time.Hour,
	})

	require.NoError(t, c.Start(1))
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}
