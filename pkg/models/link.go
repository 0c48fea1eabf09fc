// Package models holds the value types shared across the capture and
// replication engines: Link, CaptureJob, ProxiedPair, CaptureState, the WARC
// assembly result, and the Internet-Archive-style item/file lifecycle types.
package models

import "time"

// PrivateReason explains why a Link was marked private.
type PrivateReason string

const (
	PrivateReasonPolicy  PrivateReason = "policy"
	PrivateReasonFailure PrivateReason = "failure"
	PrivateReasonUser    PrivateReason = "user"
)

// CaptureStatus is the lifecycle status of a single Capture (primary,
// screenshot, or favicon).
type CaptureStatus string

const (
	CaptureStatusPending CaptureStatus = "pending"
	CaptureStatusSuccess CaptureStatus = "success"
	CaptureStatusFailed  CaptureStatus = "failed"
)

// Capture records the outcome of one captured resource (the primary page, a
// screenshot, or a favicon) belonging to a Link.
type Capture struct {
	GUID   string
	Role   string // "primary", "screenshot", "favicon"
	Status CaptureStatus
}

// Link is the archival request: one URL a user asked Perma to capture.
type Link struct {
	GUID                  string
	SubmittedURL          string
	CreatedAt             time.Time
	SubmittedTitle        string
	SubmittedDescription  string
	IsPrivate             bool
	PrivateReason         PrivateReason
	WARCSize              int64
	CachedCanPlayBack     bool
	Tags                  []string
	UserDeleted           bool

	PrimaryCapture    *Capture
	ScreenshotCapture *Capture
	FaviconCapture    *Capture
}

// HasTag reports whether the link already carries the given tag.
func (l *Link) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends tag if not already present.
func (l *Link) AddTag(tag string) {
	if !l.HasTag(tag) {
		l.Tags = append(l.Tags, tag)
	}
}

// MarkPrivate sets is_private and the reason, never downgrading an existing
// "user" reason (a user's own privacy choice always wins over a policy or
// failure classification made later in the pipeline).
func (l *Link) MarkPrivate(reason PrivateReason) {
	if l.IsPrivate && l.PrivateReason == PrivateReasonUser {
		return
	}
	l.IsPrivate = true
	l.PrivateReason = reason
}

// WARCStorageFile returns the on-disk WARC filename for this link.
func (l *Link) WARCStorageFile() string {
	return l.GUID + ".warc.gz"
}

const (
	maxTitleLength       = 2100
	maxDescriptionLength = 300
)

// SetSubmittedTitle truncates to the persisted field's maximum length.
func (l *Link) SetSubmittedTitle(title string) {
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}
	l.SubmittedTitle = title
}

// SetSubmittedDescription truncates to the persisted field's maximum length.
func (l *Link) SetSubmittedDescription(desc string) {
	if len(desc) > maxDescriptionLength {
		desc = desc[:maxDescriptionLength]
	}
	l.SubmittedDescription = desc
}
