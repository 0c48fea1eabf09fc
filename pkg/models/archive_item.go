package models

import "time"

// InternetArchiveFileStatus is the per-(item,link) lifecycle status. The
// two paths — upload and deletion — alternate but each is monotone on its
// own: upload_attempted -> upload_submitted -> confirmed_present, then
// deletion_attempted -> deletion_submitted -> confirmed_absent, then back to
// upload_attempted for a re-upload.
type InternetArchiveFileStatus string

const (
	StatusUploadAttempted    InternetArchiveFileStatus = "upload_attempted"
	StatusUploadSubmitted    InternetArchiveFileStatus = "upload_submitted"
	StatusConfirmedPresent   InternetArchiveFileStatus = "confirmed_present"
	StatusDeletionAttempted  InternetArchiveFileStatus = "deletion_attempted"
	StatusDeletionSubmitted  InternetArchiveFileStatus = "deletion_submitted"
	StatusConfirmedAbsent    InternetArchiveFileStatus = "confirmed_absent"
)

// InternetArchiveItem is a daily bucket of files, identified by
// "<prefix>_YYYY-MM-DD".
type InternetArchiveItem struct {
	Identifier      string
	SpanStart       time.Time // inclusive, UTC midnight
	SpanEnd         time.Time // exclusive, next UTC midnight
	ConfirmedExists bool
	DeriveRequired  bool
	Complete        bool
	TasksInProgress int

	CachedTitle       string
	CachedDescription string
	CachedFileCount   int
	AddedDate         time.Time
}

// IncrTasksInProgress increments the in-flight task counter for this item.
func (i *InternetArchiveItem) IncrTasksInProgress() {
	i.TasksInProgress++
}

// DecrTasksInProgress decrements the counter, floored at zero so a
// double-decrement (e.g. a retried confirmation) never drives it negative.
func (i *InternetArchiveItem) DecrTasksInProgress() {
	if i.TasksInProgress > 0 {
		i.TasksInProgress--
	}
}

// InternetArchiveFile is one Link's presence within one InternetArchiveItem.
type InternetArchiveFile struct {
	ItemIdentifier string
	LinkGUID       string
	Status         InternetArchiveFileStatus

	CachedSize                        int64
	CachedTitle                       string
	CachedComments                    string
	CachedExternalIdentifier          string
	CachedExternalIdentifierMatchDate time.Time
	CachedFormat                      string
	CachedSubmittedURL                string
	CachedPermaURL                    string
}

// ClearCachedMetadata zeroes the cached file metadata, used when a file is
// confirmed deleted.
func (f *InternetArchiveFile) ClearCachedMetadata() {
	f.CachedSize = 0
	f.CachedTitle = ""
	f.CachedComments = ""
	f.CachedExternalIdentifier = ""
	f.CachedExternalIdentifierMatchDate = time.Time{}
	f.CachedFormat = ""
	f.CachedSubmittedURL = ""
	f.CachedPermaURL = ""
}

// RetryBudgets replaces in-parameter attempt/timeout counters with an
// explicit value threaded through a replication task. Each field counts
// remaining retries for its cause; a budget of 0 means exhausted.
type RetryBudgets struct {
	RateLimit  int
	Timeout    int
	Error      int
	Connection int
}

// Exhausted reports whether every budget has been spent.
func (b RetryBudgets) Exhausted() bool {
	return b.RateLimit <= 0 && b.Timeout <= 0 && b.Error <= 0 && b.Connection <= 0
}
