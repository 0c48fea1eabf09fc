package replication

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/harvard-lil/perma-capture/internal/blobstore"
	"github.com/harvard-lil/perma-capture/internal/linkstore"
	"github.com/harvard-lil/perma-capture/internal/pkg/config"
	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/pkg/models"
)

// Deps collects everything the replication engine needs: the file/item
// store, the Link store (read-only here, for metadata and day lookups),
// the WARC blob store, the external archive client, and credentials.
type Deps struct {
	Store     Store
	Links     linkstore.LinkStore
	Blobs     blobstore.BlobStore
	Archive   ExternalArchive
	Logger    *log.FieldedLogger
	AccessKey string
	SecretKey string
}

// Engine ties the state machine, retry budgets, and blob streaming
// together into the single per-Link operation the Daily-Batch Scheduler
// and ad-hoc replication calls both drive.
type Engine struct {
	deps Deps
}

func NewEngine(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = log.NewFieldedLogger(&log.Fields{"component": "replication"})
	}
	return &Engine{deps: deps}
}

// ReplicateLink implements spec §4.7 end to end for one Link: resolve the
// daily item, dispatch on the file's current status, and if the
// disposition calls for it, stream the WARC and upload under retry
// budgets freshly initialized from configuration.
func (e *Engine) ReplicateLink(ctx context.Context, link *models.Link) error {
	cfg := config.Get()

	item, err := e.deps.Store.ItemForDay(ctx, cfg.InternetArchiveIdentifierPrefix, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("replication: resolve daily item: %w", err)
	}

	file, disposition, err := Dispatch(ctx, e.deps.Store, e.deps.Logger, item.Identifier, link.GUID)
	if err != nil {
		return fmt.Errorf("replication: dispatch: %w", err)
	}

	switch disposition {
	case DispositionSkip, DispositionBlockedOnHuman:
		return nil
	case DispositionUpload:
		// fall through
	}

	budgets := models.RetryBudgets{
		RateLimit:  cfg.RetryForRateLimitingLimit,
		Timeout:    cfg.UploadMaxTimeouts,
		Error:      cfg.RetryForErrorLimit,
		Connection: cfg.RetryForConfirmationConnErrLimit,
	}

	tmpPath, err := stageWARCToTempFile(ctx, e.deps.Blobs, link.WARCStorageFile())
	if err != nil {
		return fmt.Errorf("replication: stage warc: %w", err)
	}
	defer os.Remove(tmpPath)

	body, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("replication: open staged warc: %w", err)
	}
	defer body.Close()

	itemMeta := ItemMetadata{
		"title":       item.CachedTitle,
		"description": item.CachedDescription,
		"mediatype":   "web",
	}
	fileMeta := FileMetadata{
		"title":         link.SubmittedTitle,
		"description":   link.SubmittedDescription,
		"submitted-url": link.SubmittedURL,
		"perma-url":     "https://perma.cc/" + link.GUID,
	}

	return UploadLink(ctx, e.deps, &budgets, item, file, body, itemMeta, fileMeta)
}

// DeleteLink implements the deletion mirror of ReplicateLink for a Link
// whose file is already confirmed_present, per spec §4.7's "deletions
// mirror uploads" note.
func (e *Engine) DeleteLink(ctx context.Context, link *models.Link) error {
	cfg := config.Get()

	item, err := e.deps.Store.ItemForDay(ctx, cfg.InternetArchiveIdentifierPrefix, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("replication: resolve daily item: %w", err)
	}

	file, err := e.deps.Store.GetFile(ctx, item.Identifier, link.GUID)
	if err != nil {
		return fmt.Errorf("replication: load file: %w", err)
	}
	if file.Status != models.StatusConfirmedPresent {
		e.deps.Logger.Warn("deletion requested for file not confirmed present, skipping",
			"item", item.Identifier, "link", link.GUID, "status", string(file.Status))
		return nil
	}

	budgets := models.RetryBudgets{
		RateLimit:  cfg.RetryForRateLimitingLimit,
		Timeout:    cfg.UploadMaxTimeouts,
		Error:      cfg.RetryForErrorLimit,
		Connection: cfg.RetryForConfirmationConnErrLimit,
	}

	return DeleteLink(ctx, e.deps, &budgets, item, file)
}

// stageWARCToTempFile copies a blob-store path to a local temp file
// before upload, so a flaky or slow BlobStore read doesn't hold the
// external HTTP connection open mid-stream, per spec §4.7 step 4's "for
// robustness" note.
func stageWARCToTempFile(ctx context.Context, blobs blobstore.BlobStore, path string) (string, error) {
	src, err := blobs.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "replication-*.warc.gz")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// normalizeMetadataValue whitespace-normalizes a metadata value the way
// the Confirmation Poller compares local vs. remote metadata, per spec
// §4.8: collapse runs of whitespace and trim.
func normalizeMetadataValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}
