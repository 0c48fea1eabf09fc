package linkstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvard-lil/perma-capture/pkg/models"
)

func TestDurablePutThenReserveNextRoundTrips(t *testing.T) {
	store, err := OpenDurable(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	link := &models.Link{GUID: "ABCD-1234", SubmittedURL: "https://example.com", CreatedAt: time.Now()}
	job := &models.CaptureJob{LinkGUID: link.GUID, Status: models.JobPending}
	require.NoError(t, store.Put(link, job))

	gotJob, gotLink, err := store.ReserveNext(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, link.GUID, gotLink.GUID)
	require.Equal(t, models.JobInProgress, gotJob.Status)
	require.Equal(t, 1, gotJob.Attempt)
}

func TestDurableReserveNextReturnsErrNotFoundWhenEmpty(t *testing.T) {
	store, err := OpenDurable(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, _, err = store.ReserveNext(context.Background(), time.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDurableSkipsQueueEntryStillInProgress(t *testing.T) {
	store, err := OpenDurable(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	link := &models.Link{GUID: "ABCD-5678", CreatedAt: time.Now()}
	job := &models.CaptureJob{LinkGUID: link.GUID, Status: models.JobPending}
	require.NoError(t, store.Put(link, job))

	_, _, err = store.ReserveNext(context.Background(), time.Now())
	require.NoError(t, err)

	// Re-enqueueing without resetting status back to pending must not hand
	// the in_progress entry back out a second time.
	_, err = store.queue.EnqueueString(link.GUID)
	require.NoError(t, err)
	_, _, err = store.ReserveNext(context.Background(), time.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDurableEnqueueNextRunMakesJobReservableAgain(t *testing.T) {
	store, err := OpenDurable(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	link := &models.Link{GUID: "ABCD-9999", CreatedAt: time.Now()}
	job := &models.CaptureJob{LinkGUID: link.GUID, Status: models.JobPending}
	require.NoError(t, store.Put(link, job))

	_, _, err = store.ReserveNext(context.Background(), time.Now())
	require.NoError(t, err)

	require.NoError(t, store.EnqueueNextRun(context.Background(), link.GUID))

	_, _, err = store.ReserveNext(context.Background(), time.Now())
	require.NoError(t, err)
}
