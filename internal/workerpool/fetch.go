package workerpool

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/pkg/models"
)

const fetchChunkSize = 8 * 1024

// FetchWorker issues GET url through the proxy, streaming into memory in
// 8 KiB chunks, stopping when its context is cancelled (the pool stop) or
// the shared CaptureState limit flag is set, and reporting a partial
// response if either trips mid-stream.
type FetchWorker struct {
	Client *http.Client
	URL    string
	State  *models.CaptureState

	pendingBytes int64
	Body         []byte
	ContentType  string
	Err          error

	logger *log.FieldedLogger
}

// NewFetchWorker returns a FetchWorker for url using client.
func NewFetchWorker(client *http.Client, url string, state *models.CaptureState) *FetchWorker {
	return &FetchWorker{
		Client: client,
		URL:    url,
		State:  state,
		logger: log.NewFieldedLogger(&log.Fields{"component": "workerpool.fetch"}),
	}
}

func (w *FetchWorker) PendingBytes() int64 {
	return atomic.LoadInt64(&w.pendingBytes)
}

// Run performs the fetch. It is safe to call exactly once.
func (w *FetchWorker) Run(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL, nil)
	if err != nil {
		w.Err = err
		return
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		w.Err = err
		return
	}
	defer resp.Body.Close()

	w.ContentType = resp.Header.Get("Content-Type")

	buf := make([]byte, fetchChunkSize)
	var body []byte

	for {
		if ctx.Err() != nil {
			break
		}
		if w.State != nil && w.State.LimitReached() {
			break
		}

		n, err := resp.Body.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
			atomic.StoreInt64(&w.pendingBytes, int64(len(body)))
		}
		if err != nil {
			if err != io.EOF {
				w.Err = err
			}
			break
		}
	}

	w.Body = body
	atomic.StoreInt64(&w.pendingBytes, 0)
}
