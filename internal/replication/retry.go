package replication

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/internal/pkg/stats"
	"github.com/harvard-lil/perma-capture/pkg/models"
)

// ErrBudgetExhausted is returned when every applicable retry budget has
// been spent and the operation still has not succeeded.
var ErrBudgetExhausted = errors.New("replication: retry budget exhausted")

// operation is whatever a retry attempt actually does against the
// external archive. It reports the error so the loop can classify it;
// a nil error means success.
type operation func(ctx context.Context) error

// runWithBudgets retries op, classifying each returned error against
// budgets and sleeping a short backoff between attempts, mirroring the
// manual retry-loop idiom used elsewhere in this codebase for talking to
// an external service (fetch-then-sleep-then-retry rather than a
// generic backoff library), per spec §4.7 steps 3 and 5.
//
// budgets is mutated in place so the caller can inspect what remains
// (and persist it, if the file record tracks per-attempt budgets).
func runWithBudgets(ctx context.Context, logger *log.FieldedLogger, budgets *models.RetryBudgets, op operation) error {
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}

		var connErr *ConnectionError
		var rateErr *RateLimitError
		var raceErr *ConcurrentCreationError

		switch {
		case errors.As(err, &connErr):
			logger.Warn("connection-class error, retrying without spending budget", "err", err)

		case errors.As(err, &raceErr):
			logger.Warn("concurrent creation race, retrying without spending budget", "err", err)

		case errors.As(err, &rateErr):
			if budgets.RateLimit <= 0 {
				return ErrBudgetExhausted
			}
			budgets.RateLimit--
			stats.ReplicationRetryIncr()
			logger.Warn("rate limited, retrying under rate-limit budget", "err", err, "remaining", budgets.RateLimit)

		case errors.Is(err, context.DeadlineExceeded):
			if budgets.Timeout <= 0 {
				return ErrBudgetExhausted
			}
			budgets.Timeout--
			stats.ReplicationRetryIncr()
			logger.Warn("soft time limit hit, retrying under timeout budget", "err", err, "remaining", budgets.Timeout)

		default:
			if budgets.Error <= 0 {
				return ErrBudgetExhausted
			}
			budgets.Error--
			stats.ReplicationRetryIncr()
			logger.Warn("http error, retrying under error budget", "err", err, "remaining", budgets.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
}

const retryBackoff = 2 * time.Second

// UploadLink drives the whole upload side of spec §4.7 for one (item,
// link) pair: load-info check, metadata fetch, streamed upload, status
// transition. file.Status is advanced to upload_submitted only once the
// upload call itself returns success.
func UploadLink(ctx context.Context, deps Deps, budgets *models.RetryBudgets, item *models.InternetArchiveItem, file *models.InternetArchiveFile, warcBody io.Reader, itemMeta ItemMetadata, fileMeta FileMetadata) error {
	item.IncrTasksInProgress()
	if err := deps.Store.SaveItem(ctx, item); err != nil {
		return err
	}

	err := runWithBudgets(ctx, deps.Logger, budgets, func(ctx context.Context) error {
		load, err := deps.Archive.GetS3LoadInfo(ctx, item.Identifier, deps.AccessKey)
		if err != nil {
			return err
		}
		if load.Overloaded || load.PermaShare >= load.ShareLimit || load.BucketShare >= load.ShareLimit {
			return &RateLimitError{Body: "external service reports overload or near share limit"}
		}

		if _, err := deps.Archive.GetItem(ctx, item.Identifier); err != nil {
			var connErr *ConnectionError
			if errors.As(err, &connErr) {
				return err
			}
			return err
		}

		key := "archive-" + file.LinkGUID + ".warc.gz"
		if err := deps.Archive.UploadFile(ctx, item.Identifier, key, warcBody, itemMeta, fileMeta, deps.AccessKey, deps.SecretKey, true); err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		item.DecrTasksInProgress()
		_ = deps.Store.SaveItem(ctx, item)
		return err
	}

	file.Status = models.StatusUploadSubmitted
	return deps.Store.SaveFile(ctx, file)
}

// DeleteLink drives the deletion side, symmetrical to UploadLink.
func DeleteLink(ctx context.Context, deps Deps, budgets *models.RetryBudgets, item *models.InternetArchiveItem, file *models.InternetArchiveFile) error {
	item.IncrTasksInProgress()
	if err := deps.Store.SaveItem(ctx, item); err != nil {
		return err
	}

	file.Status = models.StatusDeletionAttempted
	if err := deps.Store.SaveFile(ctx, file); err != nil {
		return err
	}

	key := "archive-" + file.LinkGUID + ".warc.gz"
	err := runWithBudgets(ctx, deps.Logger, budgets, func(ctx context.Context) error {
		return deps.Archive.DeleteFile(ctx, item.Identifier, key, true, deps.AccessKey, deps.SecretKey)
	})

	if err != nil {
		item.DecrTasksInProgress()
		_ = deps.Store.SaveItem(ctx, item)
		return err
	}

	file.Status = models.StatusDeletionSubmitted
	return deps.Store.SaveFile(ctx, file)
}
