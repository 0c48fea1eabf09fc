// Package proxy implements the Recording Proxy: an HTTP(S) MITM proxy that
// tees every request/response pair into a WARC-writer pool while enforcing
// the interruptible-streaming contract described in spec §4.1.
package proxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/elazarl/goproxy"
	xproxy "golang.org/x/net/proxy"

	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/pkg/models"
)

// LockedWriter guards dest with a mutex so the concurrent subresource
// fetches within one capture never interleave two records' bytes.
type LockedWriter struct {
	mu   sync.Mutex
	dest io.Writer
}

// NewLockedWriter wraps dest for concurrent use as a Config.WARCWriter.
func NewLockedWriter(dest io.Writer) *LockedWriter {
	return &LockedWriter{dest: dest}
}

func (w *LockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dest.Write(p)
}

// UpstreamCredentials is the per-job onion/socks credential pair threaded
// through a capture so the upstream IP is fresh per Design Note 9.1's
// upstream_credentials(target) injection point.
type UpstreamCredentials struct {
	Username string
	Password string
}

// Config configures one Recording Proxy instance for one capture.
type Config struct {
	ListenAddr      string
	WARCPrefix      string // WARC filename without extension, typically link.guid
	WARCWriter      io.Writer
	MaxResourceSize int64
	State           *models.CaptureState

	// SocksUpstream, if set, routes all outbound connections through this
	// SOCKS5 address with per-job credentials from UpstreamCredentialsFn.
	SocksUpstream         string
	UpstreamCredentialsFn func(target string) UpstreamCredentials

	BadHosts *BadHostCache

	// DisallowedIPRanges blocks connections to these CIDRs (spec §4.1's
	// remote-IP policy filter).
	DisallowedIPRanges []string
}

// Recorder wraps a goproxy.ProxyHttpServer configured to MITM every
// CONNECT, tee responses through RecordingReader into the WARC writer, and
// honor the CaptureState stop/limit flags.
type Recorder struct {
	cfg    Config
	server *goproxy.ProxyHttpServer
	logger *log.FieldedLogger
}

// NewRecorder builds a Recorder ready to ListenAndServe.
func NewRecorder(cfg Config) *Recorder {
	logger := log.NewFieldedLogger(&log.Fields{"component": "proxy"})

	server := goproxy.NewProxyHttpServer()
	server.Verbose = false

	r := &Recorder{cfg: cfg, server: server, logger: logger}

	if cfg.SocksUpstream != "" {
		server.Tr.Dial = socksDialer(cfg).Dial
	}

	server.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(r.handleConnect))
	server.OnRequest().DoFunc(r.handleRequest)
	server.OnResponse().DoFunc(r.handleResponse)

	return r
}

// socksDialer builds the dialer every upstream connection for this
// capture routes through, fetching a fresh onion/socks credential pair
// once per job (Design Note 9.1's upstream_credentials(target)
// injection point) rather than per request, since a capture uses one
// upstream identity throughout.
func socksDialer(cfg Config) xproxy.Dialer {
	var auth *xproxy.Auth
	if cfg.UpstreamCredentialsFn != nil {
		creds := cfg.UpstreamCredentialsFn(cfg.SocksUpstream)
		auth = &xproxy.Auth{User: creds.Username, Password: creds.Password}
	}

	d, err := xproxy.SOCKS5("tcp", cfg.SocksUpstream, auth, xproxy.Direct)
	if err != nil {
		return xproxy.Direct
	}
	return d
}

// ListenAndServe starts the proxy, blocking until ctx is canceled.
func (r *Recorder) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: r.cfg.ListenAddr, Handler: r.server}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (r *Recorder) handleConnect(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
	if r.hostDisallowed(host) {
		return goproxy.RejectConnect, host
	}
	return goproxy.MitmConnect, host
}

// hostDisallowed enforces the remote-IP policy filter of spec §4.1(a): a
// host is rejected if it (or its resolved IP) falls inside a disallowed
// range, and also if it is currently in the bad-hostnames cache.
func (r *Recorder) hostDisallowed(hostPort string) bool {
	host := hostPort
	if h, _, err := net.SplitHostPort(hostPort); err == nil {
		host = h
	}

	if r.cfg.BadHosts != nil {
		if bad, _ := r.cfg.BadHosts.IsBad(hostPort); bad {
			return true
		}
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// Not a literal IP; resolve so a DNS-rebinding attempt against a
		// disallowed range is still caught.
		addrs, err := net.LookupIP(host)
		if err != nil || len(addrs) == 0 {
			return false
		}
		ip = addrs[0]
	}

	for _, cidr := range r.cfg.DisallowedIPRanges {
		if !govalidator.IsCIDR(cidr) {
			continue
		}
		if _, network, err := net.ParseCIDR(cidr); err == nil && network.Contains(ip) {
			return true
		}
	}
	return false
}

// handleRequest strips hop-by-hop headers and adds a Via header, per spec
// §4.1(c). It also records the ProxiedPair the moment the request is seen.
func (r *Recorder) handleRequest(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	stripHopByHopHeaders(req.Header)
	req.Header.Add("Via", "1.1 capture-engine")

	if r.cfg.State != nil {
		r.cfg.State.Pairs.Add(&models.ProxiedPair{
			RequestedURL: req.URL.String(),
			CreatedAt:    time.Now(),
		})
	}

	return req, nil
}

// handleResponse tees the response body through a RecordingReader so every
// chunk is checked against the ChunkGate before being forwarded to the
// client, and writes the WARC request+response records once streaming
// completes.
func (r *Recorder) handleResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil {
		if r.cfg.BadHosts != nil && ctx.Req != nil {
			_ = r.cfg.BadHosts.MarkBad(ctx.Req.URL.Host, ReasonConnectFailed)
		}
		return resp
	}

	if r.cfg.State != nil {
		r.cfg.State.SetAnyResponseSeen()
	}

	hasContentLength := resp.ContentLength >= 0
	gate := NewChunkGate(r.cfg.State, r.cfg.MaxResourceSize, hasContentLength)

	var sink warcSink
	if r.cfg.WARCWriter != nil {
		sink = newWARCRecordSink(r.cfg.WARCWriter, ctx.Req, resp)
	} else {
		sink = discardSink{}
	}

	recording := NewRecordingReader(resp.Body, sink, gate, r.cfg.State)
	resp.Body = &recordingBody{RecordingReader: recording, sink: sink}

	return resp
}

// recordingBody adapts RecordingReader (io.ReadCloser) to also flush the
// WARC sink on Close, since the client may stop reading before EOF.
type recordingBody struct {
	*RecordingReader
	sink warcSink
}

func (b *recordingBody) Close() error {
	err := b.RecordingReader.Close()
	if b.sink != nil {
		b.sink.Finish(b.RecordingReader.Truncated)
	}
	return err
}

// stripHopByHopHeaders removes headers that must not be forwarded by a
// proxy, per RFC 7230 §6.1.
func stripHopByHopHeaders(h http.Header) {
	if connection := h.Get("Connection"); connection != "" {
		for _, field := range strings.Split(connection, ",") {
			h.Del(strings.TrimSpace(field))
		}
	}

	hopByHop := []string{
		"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Transfer-Encoding", "Upgrade",
	}
	for _, header := range hopByHop {
		h.Del(header)
	}
}
