package proxy

import (
	"io"
	"time"

	"github.com/harvard-lil/perma-capture/internal/pkg/stats"
	"github.com/harvard-lil/perma-capture/pkg/models"
)

// ContinueDecision is returned by OnChunk after every chunk read from the
// upstream response body, telling the caller whether to keep streaming and,
// if not, why it stopped. This is the explicit injection point Design Note
// 9.1 calls for in place of patching the upstream proxy's private read
// loop.
type ContinueDecision struct {
	Continue  bool
	Truncated string // "", "length", "time"
}

// maxSingleChunkSize bounds how much one Read call is allowed to return;
// it is also the slack term in the bytes_recorded invariant of spec §8.
const maxSingleChunkSize = 64 * 1024

const maxStreamAge = 3 * time.Hour

// ChunkGate decides, on every chunk, whether an in-flight response stream
// should keep going. It is the only place in this package where spec
// §4.1's three truncation conditions are evaluated; the worker-pool fetch
// workers run their own stop/limit checks.
type ChunkGate struct {
	state           *models.CaptureState
	maxResourceSize int64
	hasContentLen   bool
	streamStart     time.Time
	now             func() time.Time
}

// NewChunkGate returns a gate for one response stream. hasContentLength
// should be true when the upstream response declared Content-Length, since
// the "truncated=time" rule only applies to responses that can stream
// indefinitely.
func NewChunkGate(state *models.CaptureState, maxResourceSize int64, hasContentLength bool) *ChunkGate {
	return &ChunkGate{
		state:           state,
		maxResourceSize: maxResourceSize,
		hasContentLen:   hasContentLength,
		streamStart:     time.Now(),
		now:             time.Now,
	}
}

// OnChunk is called after bytesSoFar bytes of this response have been
// recorded.
func (g *ChunkGate) OnChunk(bytesSoFar int64) ContinueDecision {
	if bytesSoFar > g.maxResourceSize || g.state.StopRequested() || g.state.LimitReached() {
		return ContinueDecision{Continue: false, Truncated: "length"}
	}

	if !g.hasContentLen && g.now().Sub(g.streamStart) > maxStreamAge {
		return ContinueDecision{Continue: false, Truncated: "time"}
	}

	return ContinueDecision{Continue: true}
}

// RecordingReader tees an upstream response body into a WARC-writer sink
// while enforcing the ChunkGate on every read, closing the upstream
// connection and reporting a truncation reason when the gate says stop.
type RecordingReader struct {
	upstream io.ReadCloser
	sink     io.Writer
	gate     *ChunkGate
	state    *models.CaptureState

	bytesRead int64
	Truncated string
}

// NewRecordingReader wraps upstream, teeing every chunk into sink (typically
// a WARC record writer) and consulting gate before each subsequent read.
func NewRecordingReader(upstream io.ReadCloser, sink io.Writer, gate *ChunkGate, state *models.CaptureState) *RecordingReader {
	return &RecordingReader{upstream: upstream, sink: sink, gate: gate, state: state}
}

func (r *RecordingReader) Read(p []byte) (int, error) {
	if len(p) > maxSingleChunkSize {
		p = p[:maxSingleChunkSize]
	}

	n, err := r.upstream.Read(p)
	if n > 0 {
		r.bytesRead += int64(n)
		r.state.AddBytesRecorded(int64(n))
		stats.BytesRecordedAdd(int64(n))
		if _, werr := r.sink.Write(p[:n]); werr != nil {
			return n, werr
		}
	}

	if err != nil {
		return n, err
	}

	decision := r.gate.OnChunk(r.bytesRead)
	if !decision.Continue {
		r.Truncated = decision.Truncated
		r.upstream.Close()
		return n, io.EOF
	}

	return n, nil
}

func (r *RecordingReader) Close() error {
	return r.upstream.Close()
}
