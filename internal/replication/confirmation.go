package replication

import (
	"context"
	"sync"
	"time"

	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/pkg/models"
)

// WriteQueueDepth reports the depth of the external write queue. The
// Confirmation Poller only runs when it is empty, so read-only
// confirmation traffic never starves pending writes, per spec §4.8.
type WriteQueueDepth func(ctx context.Context) (int, error)

// ConfirmationPoller periodically checks files in upload_submitted or
// deletion_submitted against the external archive and advances their
// status once confirmed.
type ConfirmationPoller struct {
	deps      Deps
	writeQueue WriteQueueDepth
	interval  time.Duration
	errorBudgetPerFile int

	mu            sync.Mutex
	deleteRetries map[string]int // fileKey -> remaining retries after continued presence
}

func NewConfirmationPoller(deps Deps, writeQueue WriteQueueDepth, interval time.Duration, errorBudgetPerFile int) *ConfirmationPoller {
	if deps.Logger == nil {
		deps.Logger = log.NewFieldedLogger(&log.Fields{"component": "confirmation-poller"})
	}
	return &ConfirmationPoller{
		deps:          deps,
		writeQueue:    writeQueue,
		interval:      interval,
		errorBudgetPerFile: errorBudgetPerFile,
		deleteRetries: make(map[string]int),
	}
}

// Run blocks, polling every interval until ctx is canceled.
func (p *ConfirmationPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				p.deps.Logger.Warn("confirmation poll failed", "err", err)
			}
		}
	}
}

func (p *ConfirmationPoller) pollOnce(ctx context.Context) error {
	depth, err := p.writeQueue(ctx)
	if err != nil {
		return err
	}
	if depth > 0 {
		return nil
	}

	files, err := p.deps.Store.FilesNeedingConfirmation(ctx)
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := p.confirmOne(ctx, f); err != nil {
			p.deps.Logger.Warn("confirmation failed for file", "item", f.ItemIdentifier, "link", f.LinkGUID, "err", err)
		}
	}
	return nil
}

func (p *ConfirmationPoller) confirmOne(ctx context.Context, file *models.InternetArchiveFile) error {
	item, err := p.deps.Store.GetItem(ctx, file.ItemIdentifier)
	if err != nil {
		return err
	}

	key := "archive-" + file.LinkGUID + ".warc.gz"
	remote, err := p.deps.Archive.GetFile(ctx, item.Identifier, key)
	if err != nil {
		return err
	}

	switch file.Status {
	case models.StatusUploadSubmitted:
		return p.confirmUpload(ctx, item, file, remote)
	case models.StatusDeletionSubmitted:
		return p.confirmDeletion(ctx, item, file, remote)
	default:
		return nil
	}
}

// confirmUpload asserts the file exists remotely and every expected
// metadata key matches after whitespace normalization, per spec §4.8's
// upload path.
func (p *ConfirmationPoller) confirmUpload(ctx context.Context, item *models.InternetArchiveItem, file *models.InternetArchiveFile, remote *RemoteFileInfo) error {
	if !remote.Exists {
		return nil // rely on the next scheduled poll
	}

	link, err := p.deps.Links.GetLink(ctx, file.LinkGUID)
	if err != nil {
		return err
	}
	expected := FileMetadata{
		"title":         link.SubmittedTitle,
		"description":   link.SubmittedDescription,
		"submitted-url": link.SubmittedURL,
		"perma-url":     "https://perma.cc/" + link.GUID,
	}

	for k, v := range expected {
		remoteVal, ok := remote.Metadata[k]
		if !ok || normalizeMetadataValue(remoteVal) != normalizeMetadataValue(v) {
			return nil // mismatch; leave status unchanged, rely on next poll
		}
	}

	wasFirstConfirmed := !item.ConfirmedExists

	file.Status = models.StatusConfirmedPresent
	file.CachedSize = remote.Size
	file.CachedSubmittedURL = link.SubmittedURL
	file.CachedPermaURL = "https://perma.cc/" + link.GUID
	if err := p.deps.Store.SaveFile(ctx, file); err != nil {
		return err
	}

	item.DecrTasksInProgress()
	item.DeriveRequired = true
	if wasFirstConfirmed {
		item.ConfirmedExists = true
		if remoteItem, err := p.deps.Archive.GetItem(ctx, item.Identifier); err == nil {
			item.CachedFileCount = remoteItem.FileCount
		}
	}
	return p.deps.Store.SaveItem(ctx, item)
}

// confirmDeletion asserts the file no longer exists remotely, per spec
// §4.8's delete path.
func (p *ConfirmationPoller) confirmDeletion(ctx context.Context, item *models.InternetArchiveItem, file *models.InternetArchiveFile, remote *RemoteFileInfo) error {
	if remote.Exists {
		key := fileKey(file.ItemIdentifier, file.LinkGUID)

		p.mu.Lock()
		remaining, seen := p.deleteRetries[key]
		if !seen {
			remaining = p.errorBudgetPerFile
		}
		remaining--
		p.deleteRetries[key] = remaining
		p.mu.Unlock()

		if remaining <= 0 {
			p.deps.Logger.Error("deletion error budget exhausted, file still present",
				"item", item.Identifier, "link", file.LinkGUID)
		}
		return &HTTPError{Body: "file still present after deletion submitted"}
	}

	p.mu.Lock()
	delete(p.deleteRetries, fileKey(file.ItemIdentifier, file.LinkGUID))
	p.mu.Unlock()

	file.Status = models.StatusConfirmedAbsent
	file.ClearCachedMetadata()
	if err := p.deps.Store.SaveFile(ctx, file); err != nil {
		return err
	}

	item.DecrTasksInProgress()
	item.DeriveRequired = true
	return p.deps.Store.SaveItem(ctx, item)
}
