package replication

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/pkg/models"
)

// TestMain verifies no goroutine started by this package's tests (notably
// ConfirmationPoller.Run and Scheduler's cron engine) is still running once
// the package's tests finish.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *log.FieldedLogger {
	return log.NewFieldedLogger(&log.Fields{"component": "test"})
}

func TestDispatchCreatesFileWhenAbsent(t *testing.T) {
	store := NewInMemoryStore()
	file, disposition, err := Dispatch(context.Background(), store, testLogger(), "perma_cc_2026-07-30", "ABCD-1234")
	require.NoError(t, err)
	assert.Equal(t, DispositionUpload, disposition)
	assert.Equal(t, models.StatusUploadAttempted, file.Status)
}

func TestDispatchSkipsConfirmedPresent(t *testing.T) {
	store := NewInMemoryStore()
	store.SaveFile(context.Background(), &models.InternetArchiveFile{
		ItemIdentifier: "perma_cc_2026-07-30", LinkGUID: "ABCD-1234", Status: models.StatusConfirmedPresent,
	})

	_, disposition, err := Dispatch(context.Background(), store, testLogger(), "perma_cc_2026-07-30", "ABCD-1234")
	require.NoError(t, err)
	assert.Equal(t, DispositionSkip, disposition)
}

func TestDispatchBlocksOnDeletionInFlight(t *testing.T) {
	store := NewInMemoryStore()
	for _, status := range []models.InternetArchiveFileStatus{models.StatusDeletionAttempted, models.StatusDeletionSubmitted} {
		guid := "link-" + string(status)
		store.SaveFile(context.Background(), &models.InternetArchiveFile{
			ItemIdentifier: "perma_cc_2026-07-30", LinkGUID: guid, Status: status,
		})

		_, disposition, err := Dispatch(context.Background(), store, testLogger(), "perma_cc_2026-07-30", guid)
		require.NoError(t, err)
		assert.Equal(t, DispositionBlockedOnHuman, disposition)
	}
}

func TestDispatchRetriesInProgressUploads(t *testing.T) {
	store := NewInMemoryStore()
	for _, status := range []models.InternetArchiveFileStatus{models.StatusUploadAttempted, models.StatusUploadSubmitted} {
		guid := "link-" + string(status)
		store.SaveFile(context.Background(), &models.InternetArchiveFile{
			ItemIdentifier: "perma_cc_2026-07-30", LinkGUID: guid, Status: status,
		})

		_, disposition, err := Dispatch(context.Background(), store, testLogger(), "perma_cc_2026-07-30", guid)
		require.NoError(t, err)
		assert.Equal(t, DispositionUpload, disposition)
	}
}

func TestDispatchReuploadsConfirmedAbsent(t *testing.T) {
	store := NewInMemoryStore()
	store.SaveFile(context.Background(), &models.InternetArchiveFile{
		ItemIdentifier: "perma_cc_2026-07-30", LinkGUID: "ABCD-1234", Status: models.StatusConfirmedAbsent,
	})

	file, disposition, err := Dispatch(context.Background(), store, testLogger(), "perma_cc_2026-07-30", "ABCD-1234")
	require.NoError(t, err)
	assert.Equal(t, DispositionUpload, disposition)
	assert.Equal(t, models.StatusUploadAttempted, file.Status)
}
