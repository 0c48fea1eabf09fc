package replication

import (
	"context"
	"fmt"

	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/pkg/models"
)

// Disposition is what the state machine decided to do with a
// (item, link) pair, before the retry loop in retry.go actually talks to
// the external archive.
type Disposition int

const (
	// DispositionUpload means: create or idempotently resubmit an upload.
	DispositionUpload Disposition = iota
	// DispositionSkip means: already confirmed present, nothing to do.
	DispositionSkip
	// DispositionBlockedOnHuman means: a deletion is in flight for this
	// file; uploading now would race it, so this pair is left alone and
	// logged as requiring attention.
	DispositionBlockedOnHuman
)

// Dispatch implements spec §4.7's per-Link lookup and status dispatch. It
// returns the file record to use (creating one in upload_attempted state
// if none existed) and what to do with it.
func Dispatch(ctx context.Context, store Store, logger *log.FieldedLogger, itemIdentifier, linkGUID string) (*models.InternetArchiveFile, Disposition, error) {
	file, err := store.GetFile(ctx, itemIdentifier, linkGUID)
	if err == ErrNotFound {
		file = &models.InternetArchiveFile{
			ItemIdentifier: itemIdentifier,
			LinkGUID:       linkGUID,
			Status:         models.StatusUploadAttempted,
		}
		if err := store.SaveFile(ctx, file); err != nil {
			return nil, DispositionSkip, err
		}
		return file, DispositionUpload, nil
	}
	if err != nil {
		return nil, DispositionSkip, err
	}

	switch file.Status {
	case models.StatusConfirmedPresent:
		return file, DispositionSkip, nil

	case models.StatusDeletionAttempted, models.StatusDeletionSubmitted:
		logger.Error("file has a deletion in flight, skipping upload",
			"item", itemIdentifier, "link", linkGUID, "status", string(file.Status))
		return file, DispositionBlockedOnHuman, nil

	case models.StatusUploadAttempted, models.StatusUploadSubmitted:
		logger.Warn("retrying upload already in progress",
			"item", itemIdentifier, "link", linkGUID, "status", string(file.Status))
		return file, DispositionUpload, nil

	case models.StatusConfirmedAbsent:
		file.Status = models.StatusUploadAttempted
		if err := store.SaveFile(ctx, file); err != nil {
			return nil, DispositionSkip, err
		}
		return file, DispositionUpload, nil

	default:
		return nil, DispositionSkip, fmt.Errorf("replication: unknown file status %q", file.Status)
	}
}
