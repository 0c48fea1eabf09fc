// Package capture implements the Capture Orchestrator: it stages the
// capture lifecycle described in spec §4.5, enforcing phase timeouts,
// composing outputs into a WARC, and handling teardown.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/google/uuid"
	"github.com/telanflow/cookiejar"
	"github.com/harvard-lil/perma-capture/internal/blobstore"
	"github.com/harvard-lil/perma-capture/internal/browser"
	"github.com/harvard-lil/perma-capture/internal/linkstore"
	"github.com/harvard-lil/perma-capture/internal/pkg/config"
	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/internal/pkg/stats"
	"github.com/harvard-lil/perma-capture/internal/proxy"
	"github.com/harvard-lil/perma-capture/internal/sizemonitor"
	"github.com/harvard-lil/perma-capture/internal/warcassembler"
	"github.com/harvard-lil/perma-capture/internal/workerpool"
	"github.com/harvard-lil/perma-capture/pkg/models"
)

// ErrHaltCapture is the one sentinel that short-circuits straight to
// teardown: browser died, or a fatal setup error occurred before any
// useful response was observed. See spec §4.5 "Termination signals" and
// §7.
var ErrHaltCapture = errors.New("capture: halt")

// ErrTimeoutFailure marks a soft-time-limit failure: fail tags the link
// "timeout-failure" when its error wraps this value. No phase in this
// package enforces a soft time limit or returns this error, and RunOnce
// chains the next run whatever the outcome.
var ErrTimeoutFailure = errors.New("capture: soft time limit exceeded")

// Deps bundles the Orchestrator's external collaborators, all of which are
// out of scope to implement themselves per spec §1: LinkStore, BlobStore.
type Deps struct {
	LinkStore linkstore.LinkStore
	BlobStore blobstore.BlobStore

	// BrowserFactory launches a headless browser routed through the given
	// proxy address. Exposed as a factory so tests can substitute a fake
	// browser controller without a real Chrome binary.
	BrowserFactory func(cfg browser.Config) (*browser.Controller, error)

	// ChooseUserAgent picks the user-agent for a target domain (spec §4.5
	// step 2).
	ChooseUserAgent func(domain string) string

	// PostLoadScriptFor returns a per-domain post-load script to run
	// before the post-onload DOM snapshot, if the current URL matches one
	// by regex (spec §4.5 step 7), and whether a match was found.
	PostLoadScriptFor func(url string) (script string, ok bool)

	// DeploymentSentinelExists reports whether the chain step (spec §4.5
	// step 13) should stop enqueueing further runs.
	DeploymentSentinelExists func() bool
}

// Orchestrator drives one CaptureJob through all 13 phases.
type Orchestrator struct {
	deps   Deps
	cfg    *config.Config
	logger *log.FieldedLogger
}

func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		cfg:    config.Get(),
		logger: log.NewFieldedLogger(&log.Fields{"component": "capture.orchestrator"}),
	}
}

// Result summarizes one capture run for callers and tests.
type Result struct {
	Job    *models.CaptureJob
	Link   *models.Link
	Status models.CaptureStatus
	Err    error
}

// RunOnce performs phases 1-13 of spec §4.5 for the next pending job. It
// returns linkstore.ErrNotFound when no job is pending.
func (o *Orchestrator) RunOnce(ctx context.Context) (*Result, error) {
	now := time.Now()

	// Phase 1: reclaim + reserve.
	if _, err := o.deps.LinkStore.ReclaimStale(ctx, now, o.cfg.HardJobTimeout); err != nil {
		o.logger.Warn("reclaim stale jobs failed", "err", err)
	}

	job, link, err := o.deps.LinkStore.ReserveNext(ctx, now)
	if err != nil {
		return nil, err
	}

	if link.UserDeleted || (link.PrimaryCapture != nil && link.PrimaryCapture.Status != models.CaptureStatusPending) {
		job.Status = models.JobDeleted
		_ = o.deps.LinkStore.SaveJob(ctx, job)
		return &Result{Job: job, Link: link, Status: models.CaptureStatusFailed}, nil
	}

	stats.CaptureStartedIncr()
	defer stats.CaptureStartedDecr()

	result := o.runPhases(ctx, job, link)

	// Phase 13: chain, unless a deployment sentinel file exists.
	if o.deps.DeploymentSentinelExists == nil || !o.deps.DeploymentSentinelExists() {
		if err := o.deps.LinkStore.EnqueueNextRun(ctx, link.GUID); err != nil {
			o.logger.Warn("failed to chain next run", "err", err)
		}
	}

	return result, nil
}

// runPhases is the finalize-guarded body of RunOnce: phases 2-12. It is
// itself exception-guarded (via recover) so that it always marks pending
// captures failed and the job either completed or failed, per spec §7's
// propagation rule.
func (o *Orchestrator) runPhases(ctx context.Context, job *models.CaptureJob, link *models.Link) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic during capture", "recover", r, "link", link.GUID)
			o.finalize(ctx, job, link, models.CaptureStatusFailed)
			result = &Result{Job: job, Link: link, Status: models.CaptureStatusFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	job.Step(2, "setup")
	state := models.NewCaptureState()

	userAgent := ""
	if o.deps.ChooseUserAgent != nil {
		userAgent = o.deps.ChooseUserAgent(domainOf(link.SubmittedURL))
	}

	// Phase 3: proxy up.
	job.Step(3, "proxy up")
	port, err := findAvailablePort(o.cfg.ProxyPortRangeLo, o.cfg.ProxyPortRangeHi)
	if err != nil {
		return o.fail(ctx, job, link, fmt.Errorf("%w: binding proxy port: %v", ErrHaltCapture, err))
	}

	if err := os.MkdirAll(o.cfg.WARCWorkDir, 0o755); err != nil {
		return o.fail(ctx, job, link, fmt.Errorf("%w: creating warc work dir: %v", ErrHaltCapture, err))
	}
	recordedWARCPath := o.cfg.WARCWorkDir + "/" + link.GUID + ".recorded.warc"
	recordedFile, err := os.Create(recordedWARCPath)
	if err != nil {
		return o.fail(ctx, job, link, fmt.Errorf("%w: creating recorded warc: %v", ErrHaltCapture, err))
	}
	defer recordedFile.Close()

	proxyAddr := fmt.Sprintf("127.0.0.1:%d", port)
	recorder := proxy.NewRecorder(proxy.Config{
		ListenAddr:      proxyAddr,
		WARCPrefix:      link.GUID,
		WARCWriter:      proxy.NewLockedWriter(recordedFile),
		MaxResourceSize: o.cfg.MaxArchiveFileSize,
		State:           state,
	})

	proxyCtx, cancelProxy := context.WithCancel(ctx)
	defer cancelProxy()
	go func() {
		if err := recorder.ListenAndServe(proxyCtx); err != nil && proxyCtx.Err() == nil {
			o.logger.Warn("proxy exited", "err", err)
		}
	}()

	// Phase 4: browser up.
	job.Step(4, "browser up")
	if o.deps.BrowserFactory == nil {
		return o.fail(ctx, job, link, fmt.Errorf("%w: no browser factory configured", ErrHaltCapture))
	}

	ctl, err := o.deps.BrowserFactory(browser.Config{
		ProxyAddress:         proxyAddr,
		UserAgent:            userAgent,
		AcceptUntrustedCerts: true,
	})
	if err != nil {
		return o.fail(ctx, job, link, fmt.Errorf("%w: browser launch: %v", ErrHaltCapture, err))
	}
	defer ctl.Close()

	navCtx, cancelNav := context.WithTimeout(ctx, o.cfg.ResourceLoadTimeout)
	go func() {
		if err := ctl.Navigate(navCtx, link.SubmittedURL); err != nil {
			o.logger.Warn("navigate returned error", "err", err)
		}
	}()
	defer cancelNav()

	// Phase 5: await first useful response.
	job.Step(5, "awaiting first response")
	firstResp, err := o.awaitFirstUsefulResponse(navCtx, state, o.cfg.ResourceLoadTimeout)
	if err != nil {
		return o.fail(ctx, job, link, fmt.Errorf("%w: %v", ErrHaltCapture, err))
	}

	pool := workerpool.New(o.cfg.MaxConcurrentAssets)
	proxiedClient := newProxiedHTTPClient(proxyAddr)

	monitor := sizemonitor.New(state, pool, o.cfg.MaxArchiveFileSize)
	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()
	go monitor.Run(monitorCtx)

	// Phase 6: policy checks.
	job.Step(6, "policy checks")
	robotsWorker := workerpool.NewRobotsWorker(proxiedClient, firstResp.ContentURL, state)
	pool.Spawn(ctx, robotsWorker)

	ApplyPolicy(link, PolicyInputs{
		XRobotsTagHeaderValues: []string{firstResp.XRobotsTag},
		GenericNoarchiveOptIn:  o.cfg.PrivateLinksIfGenericNoarchive,
	})

	var meta MetaTags
	isHTML := looksLikeHTML(firstResp.ContentType)

	// Phase 7: HTML enrichment.
	var favicon *workerpool.FaviconWorker
	if isHTML {
		job.Step(7, "html enrichment")
		favicon = o.enrichHTML(ctx, ctl, pool, proxiedClient, state, firstResp, &meta, link)
	}

	// Phase 8: post-load wait.
	job.Step(8, "post-load wait")
	o.postLoadWait(ctx, state)

	// Phase 9: screenshot.
	job.Step(9, "screenshot")
	var screenshot *warcassembler.Screenshot
	if isHTML && ctl.Alive() {
		if png, err := ctl.Screenshot(ctx, o.cfg.MaxImageSizePixels); err == nil && png != nil {
			screenshot = &warcassembler.Screenshot{PNG: png, TargetURL: firstResp.ContentURL}
		}
	}

	// Phase 10: teardown.
	job.Step(10, "teardown")
	state.SetStopRequested()
	pool.StopAll()
	ctl.Close()
	cancelProxy()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), o.cfg.ShutdownGracePeriod)
	<-shutdownCtx.Done()
	cancelShutdown()

	// Phase 11: metadata & persistence.
	job.Step(11, "metadata")
	o.persistMetadata(link, meta, isHTML)

	// Phase 12: assemble WARC.
	job.Step(12, "assemble warc")
	assembler := warcassembler.New()
	warcResult, err := assembler.Assemble(
		o.cfg.WARCWorkDir+"/"+link.GUID+".recorded.warc",
		o.cfg.WARCWorkDir+"/"+link.GUID+".warc.gz",
		screenshot,
	)
	if err != nil {
		return o.fail(ctx, job, link, err)
	}

	warcFile, err := os.Open(warcResult.Path)
	if err != nil {
		return o.fail(ctx, job, link, err)
	}
	_, err = o.deps.BlobStore.Write(ctx, link.WARCStorageFile(), warcFile)
	warcFile.Close()
	if err != nil {
		return o.fail(ctx, job, link, err)
	}

	link.WARCSize = warcResult.Size
	if link.PrimaryCapture == nil {
		link.PrimaryCapture = &models.Capture{GUID: uuid.New().String(), Role: "primary"}
	}
	link.PrimaryCapture.Status = models.CaptureStatusSuccess

	if screenshot != nil {
		link.ScreenshotCapture = &models.Capture{GUID: uuid.New().String(), Role: "screenshot", Status: models.CaptureStatusSuccess}
	}

	if favicon != nil && favicon.Err == nil && favicon.ChosenURL != "" {
		link.FaviconCapture = &models.Capture{GUID: uuid.New().String(), Role: "favicon", Status: models.CaptureStatusSuccess}
	}

	o.finalize(ctx, job, link, models.CaptureStatusSuccess)
	stats.CaptureCompletedIncr()

	return &Result{Job: job, Link: link, Status: models.CaptureStatusSuccess}
}

// firstUsefulResponse is what phase 5 extracts and freezes for the rest of
// the job: content_type and content_url, fixed by the first non-redirect,
// non-favicon response, per spec §5's ordering guarantee.
type firstUsefulResponse struct {
	ContentType string
	ContentURL  string
	XRobotsTag  string
}

func (o *Orchestrator) awaitFirstUsefulResponse(ctx context.Context, state *models.CaptureState, timeout time.Duration) (*firstUsefulResponse, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		for _, pair := range state.Pairs.Snapshot() {
			if pair.Response == nil || !pair.Response.Complete {
				continue
			}
			if pair.Response.IsRedirect() {
				continue
			}
			if isFaviconURL(pair.RequestedURL) {
				continue
			}

			return &firstUsefulResponse{
				ContentType: pair.Response.ContentType,
				ContentURL:  pair.RequestedURL,
				XRobotsTag:  pair.Response.XRobotsTag,
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no useful response before resource load timeout")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) enrichHTML(ctx context.Context, ctl *browser.Controller, pool *workerpool.Pool, proxiedClient *http.Client, state *models.CaptureState, first *firstUsefulResponse, meta *MetaTags, link *models.Link) *workerpool.FaviconWorker {
	preSnapshot, err := ctl.DOMSnapshot(ctx)
	if err != nil {
		o.logger.Warn("pre-onload snapshot failed", "err", err)
	}

	if o.deps.PostLoadScriptFor != nil {
		if script, ok := o.deps.PostLoadScriptFor(first.ContentURL); ok {
			// Best-effort execution; a per-domain script failing is a
			// degraded outcome, not fatal, per spec §7.
			if err := ctl.RunScript(ctx, script); err != nil {
				o.logger.Warn("post-load script failed", "err", err)
			}
		}
	}

	onloadCtx, cancel := context.WithTimeout(ctx, o.cfg.OnloadEventTimeout)
	defer cancel()
	postSnapshot, err := ctl.DOMSnapshot(onloadCtx)
	if err != nil {
		postSnapshot = preSnapshot
	}

	_, parsedMeta, err := ExtractTitleAndMeta(postSnapshot)
	if err != nil {
		link.AddTag("meta-tag-retrieval-failure")
		if o.cfg.PrivateLinksOnFailure {
			link.MarkPrivate(models.PrivateReasonFailure)
		}
	} else {
		*meta = parsedMeta
	}

	var favicon *workerpool.FaviconWorker
	if doc, err := DocumentFromHTML(preSnapshot); err == nil {
		favicon = workerpool.NewFaviconWorker(proxiedClient, first.ContentURL, doc, "", state)
		pool.Spawn(ctx, favicon)
	}

	if err := ctl.Scroll(ctx); err != nil {
		o.logger.Warn("scroll failed", "err", err)
	}

	var frameDocs []*goquery.Document
	if err := browser.WalkFrames(ctl.Page(), func(frame *rod.Page, frameURL string) error {
		html, err := frame.HTML()
		if err != nil {
			return err
		}
		doc, err := DocumentFromHTML(html)
		if err != nil {
			return err
		}
		frameDocs = append(frameDocs, doc)
		return nil
	}); err != nil {
		o.logger.Warn("frame walk failed", "err", err)
	}

	if doc, err := DocumentFromHTML(postSnapshot); err == nil {
		frameDocs = append(frameDocs, doc)
	}

	for _, doc := range frameDocs {
		mediaURLs := workerpool.DiscoverMediaURLs(doc, first.ContentURL)
		for _, u := range mediaURLs {
			fetch := workerpool.NewFetchWorker(proxiedClient, u, state)
			pool.Spawn(ctx, fetch)
		}
	}

	return favicon
}

// newProxiedHTTPClient returns an *http.Client routed through the
// capture's own Recording Proxy, so every worker-pool fetch is recorded
// into the same WARC as the browser's traffic. A shared cookie jar
// carries session cookies a page sets across every worker-pool request
// for the rest of the capture, the same as a real browser tab would.
func newProxiedHTTPClient(proxyAddr string) *http.Client {
	proxyURL := &url.URL{Scheme: "http", Host: proxyAddr}

	jar, err := cookiejar.New(nil)
	if err != nil {
		jar = nil
	}

	return &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		Jar:       jar,
	}
}

func (o *Orchestrator) postLoadWait(ctx context.Context, state *models.CaptureState) {
	deadline := time.NewTimer(o.cfg.AfterLoadTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if state.LimitReached() {
			state.SetStopRequested()
			return
		}
		if state.Pairs.Pending() == 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			state.SetStopRequested()
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) persistMetadata(link *models.Link, meta MetaTags, isHTML bool) {
	if meta == nil {
		return
	}

	if title, ok := meta["title"]; ok && link.SubmittedTitle == "" {
		link.SetSubmittedTitle(title)
	}
	if desc, ok := meta["description"]; ok {
		link.SetSubmittedDescription(desc)
	}

	if permaMeta, ok := meta["perma"]; ok && containsNoarchive(permaMeta) {
		link.MarkPrivate(models.PrivateReasonPolicy)
	} else if o.cfg.PrivateLinksIfGenericNoarchive {
		if robotsMeta, ok := meta["robots"]; ok && containsNoarchive(robotsMeta) {
			link.MarkPrivate(models.PrivateReasonPolicy)
		}
	}
}

func (o *Orchestrator) finalize(ctx context.Context, job *models.CaptureJob, link *models.Link, status models.CaptureStatus) {
	if link.PrimaryCapture == nil {
		link.PrimaryCapture = &models.Capture{GUID: uuid.New().String(), Role: "primary"}
	}
	link.PrimaryCapture.Status = status

	if status == models.CaptureStatusSuccess {
		job.Status = models.JobCompleted
	} else {
		job.Status = models.JobFailed
		stats.CaptureFailedIncr()
	}

	if err := o.deps.LinkStore.SaveLink(ctx, link); err != nil {
		o.logger.Error("failed to persist link", "err", err)
	}
	if err := o.deps.LinkStore.SaveJob(ctx, job); err != nil {
		o.logger.Error("failed to persist job", "err", err)
	}
}

func (o *Orchestrator) fail(ctx context.Context, job *models.CaptureJob, link *models.Link, err error) *Result {
	o.logger.Error("capture failed", "err", err, "link", link.GUID)

	if errors.Is(err, ErrTimeoutFailure) {
		link.AddTag("timeout-failure")
	}

	o.finalize(ctx, job, link, models.CaptureStatusFailed)
	return &Result{Job: job, Link: link, Status: models.CaptureStatusFailed, Err: err}
}

func domainOf(rawURL string) string {
	host, err := extractHost(rawURL)
	if err != nil {
		return ""
	}
	return host
}

func extractHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Hostname(), nil
}

func looksLikeHTML(contentType string) bool {
	return len(contentType) >= 9 && contentType[:9] == "text/html"
}

func isFaviconURL(u string) bool {
	return len(u) >= len("/favicon.ico") && u[len(u)-len("/favicon.ico"):] == "/favicon.ico"
}

func containsNoarchive(value string) bool {
	const needleLen = len("noarchive")
	for i := 0; i+needleLen <= len(value); i++ {
		if equalFoldASCII(value[i:i+needleLen], "noarchive") {
			return true
		}
	}
	return false
}

func equalFoldASCII(a, b string) bool {
	if len(a) < len(b) {
		return false
	}
	for i := range b {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func findAvailablePort(lo, hi int) (int, error) {
	for p := lo; p < hi; p++ {
		addr := fmt.Sprintf("127.0.0.1:%d", p)
		l, err := net.Listen("tcp", addr)
		if err == nil {
			l.Close()
			return p, nil
		}
	}
	return 0, fmt.Errorf("no available port in [%d, %d)", lo, hi)
}
