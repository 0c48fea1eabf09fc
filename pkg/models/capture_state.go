package models

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ProxiedPair is the tuple (requested_url, response?) the Recording Proxy
// creates the moment it sees a request. Response becomes non-nil only once
// the first byte of the upstream response is committed.
type ProxiedPair struct {
	RequestedURL string
	Response     *ProxiedResponse
	CreatedAt    time.Time
}

// ProxiedResponse is the subset of response data the orchestrator needs to
// decide whether a pair is "the first useful response".
type ProxiedResponse struct {
	StatusCode  int
	ContentType string
	XRobotsTag  string
	Complete    bool
	Truncated   string // "", "length", "time"
	Header      http.Header
}

// IsRedirect reports whether the response status is one the orchestrator
// must skip over when looking for the first useful response: a redirect
// code (301, 302, 303, 307, 308) or 206 Partial Content.
func (p *ProxiedResponse) IsRedirect() bool {
	switch p.StatusCode {
	case 301, 302, 303, 307, 308, 206:
		return true
	default:
		return false
	}
}

// ProxiedPairRegistry is the lock-protected list of ProxiedPairs observed
// during one capture.
type ProxiedPairRegistry struct {
	mu    sync.Mutex
	pairs []*ProxiedPair
}

// Add registers a newly observed pair.
func (r *ProxiedPairRegistry) Add(p *ProxiedPair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs = append(r.pairs, p)
}

// Snapshot returns a copy of the pairs observed so far.
func (r *ProxiedPairRegistry) Snapshot() []*ProxiedPair {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ProxiedPair, len(r.pairs))
	copy(out, r.pairs)
	return out
}

// Pending reports how many pairs still lack a completed response.
func (r *ProxiedPairRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.pairs {
		if p.Response == nil || !p.Response.Complete {
			n++
		}
	}
	return n
}

// CaptureState is the shared mutable state coordinated by the proxy, the
// size monitor, and the orchestrator during one capture. Each field has a
// single writer: BytesRecorded is written only by the proxy, LimitReached
// only by the Size Monitor, StopRequested only by the Orchestrator.
// AnyResponseSeen is written by the proxy the moment the first response
// header is committed. All fields are read via atomic load so any goroutine
// may observe them lock-free.
type CaptureState struct {
	bytesRecorded   int64
	limitReached    int32
	stopRequested   int32
	anyResponseSeen int32

	Pairs ProxiedPairRegistry
}

// NewCaptureState returns a zeroed CaptureState ready for one capture.
func NewCaptureState() *CaptureState {
	return &CaptureState{}
}

func (s *CaptureState) AddBytesRecorded(n int64) int64 {
	return atomic.AddInt64(&s.bytesRecorded, n)
}

func (s *CaptureState) BytesRecorded() int64 {
	return atomic.LoadInt64(&s.bytesRecorded)
}

func (s *CaptureState) SetLimitReached() {
	atomic.StoreInt32(&s.limitReached, 1)
}

func (s *CaptureState) LimitReached() bool {
	return atomic.LoadInt32(&s.limitReached) == 1
}

func (s *CaptureState) SetStopRequested() {
	atomic.StoreInt32(&s.stopRequested, 1)
}

func (s *CaptureState) StopRequested() bool {
	return atomic.LoadInt32(&s.stopRequested) == 1
}

func (s *CaptureState) SetAnyResponseSeen() {
	atomic.StoreInt32(&s.anyResponseSeen, 1)
}

func (s *CaptureState) AnyResponseSeen() bool {
	return atomic.LoadInt32(&s.anyResponseSeen) == 1
}

// WARCResult is what the WARC Assembler returns once it has merged the
// recorded traffic with any synthesized records.
type WARCResult struct {
	Path string
	Size int64
}
