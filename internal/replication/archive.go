// Package replication implements the Archive Replication State Machine
// (spec §4.7), its retry budgets (§9 Design Note), the Confirmation Poller
// (§4.8), and the Daily-Batch Scheduler (§4.9).
package replication

import (
	"context"
	"io"

	"github.com/harvard-lil/perma-capture/pkg/models"
)

// LoadInfo reports whether the external service is overloaded, and the
// per-scope share details used to decide whether to proceed or retry under
// the rate-limit budget.
type LoadInfo struct {
	Overloaded    bool
	PermaShare    float64
	BucketShare   float64
	ShareLimit    float64
}

// FileMetadata is the standardized per-file metadata sent with an upload
// and compared (whitespace-normalized) during confirmation.
type FileMetadata map[string]string

// ItemMetadata is the standardized per-item metadata sent with an upload.
type ItemMetadata map[string]string

// RemoteFileInfo is what the external service reports about one file
// during confirmation: whether it exists, and its metadata if so.
type RemoteFileInfo struct {
	Exists   bool
	Metadata FileMetadata
	Size     int64
}

// RemoteItemInfo is what the external service reports about one item.
type RemoteItemInfo struct {
	Metadata  ItemMetadata
	FileCount int
}

// ConnectionError marks an error class that should be retried without
// consuming any budget (spec §4.7 step 3 / step 5).
type ConnectionError struct{ Err error }

func (e *ConnectionError) Error() string { return "replication: connection error: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// RateLimitError marks a 429/503-with-rate-limit-text response.
type RateLimitError struct{ Body string }

func (e *RateLimitError) Error() string { return "replication: rate limited: " + e.Body }

// ConcurrentCreationError marks one of the known concurrent-bucket-creation
// race phrases; retried without consuming budget.
type ConcurrentCreationError struct{ Body string }

func (e *ConcurrentCreationError) Error() string {
	return "replication: concurrent creation race: " + e.Body
}

// HTTPError is any other non-2xx response from the external service,
// retried under the error budget.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string { return "replication: http error" }

// ExternalArchive is the boundary to the external object store, matching
// spec §6's external archive client contract.
type ExternalArchive interface {
	GetItem(ctx context.Context, identifier string) (*RemoteItemInfo, error)
	GetS3LoadInfo(ctx context.Context, identifier, accessKey string) (*LoadInfo, error)

	UploadFile(ctx context.Context, identifier, key string, body io.Reader, itemMeta ItemMetadata, fileMeta FileMetadata, accessKey, secretKey string, queueDerive bool) error
	DeleteFile(ctx context.Context, identifier, key string, cascadeDelete bool, accessKey, secretKey string) error

	GetFile(ctx context.Context, identifier, key string) (*RemoteFileInfo, error)
}
