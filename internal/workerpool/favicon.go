package workerpool

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/pkg/models"
	"github.com/tomnomnom/linkheader"
)

// IconWhitelist is the set of MIME types the Favicon Worker accepts.
var IconWhitelist = map[string]bool{
	"image/png":                true,
	"image/x-icon":             true,
	"image/vnd.microsoft.icon": true,
	"image/gif":                true,
	"image/jpeg":               true,
	"image/svg+xml":            true,
}

// FaviconWorker harvests candidate icon URLs from <link rel="icon"> /
// <link rel="shortcut icon">, the response's Link header, and
// /favicon.ico, dedups while preserving discovery order, fetches each, and
// keeps the first whose MIME type is in IconWhitelist. Per spec §8's
// testable property, a DOM-supplied candidate always wins over the
// /favicon.ico fallback, since it is appended to the candidate list first.
type FaviconWorker struct {
	Client     *http.Client
	ContentURL string
	DOM        *goquery.Document
	LinkHeader string
	State      *models.CaptureState

	ChosenURL   string
	ChosenMIME  string
	Body        []byte
	Err         error

	logger *log.FieldedLogger
}

func NewFaviconWorker(client *http.Client, contentURL string, dom *goquery.Document, linkHeader string, state *models.CaptureState) *FaviconWorker {
	return &FaviconWorker{
		Client:     client,
		ContentURL: contentURL,
		DOM:        dom,
		LinkHeader: linkHeader,
		State:      state,
		logger:     log.NewFieldedLogger(&log.Fields{"component": "workerpool.favicon"}),
	}
}

func (w *FaviconWorker) PendingBytes() int64 { return 0 }

func (w *FaviconWorker) Run(ctx context.Context) {
	base, err := url.Parse(w.ContentURL)
	if err != nil {
		w.Err = err
		return
	}

	candidates := w.candidates(base)

	for _, candidate := range candidates {
		fetch := NewFetchWorker(w.Client, candidate, w.State)
		fetch.Run(ctx)
		if fetch.Err != nil {
			continue
		}

		mime := fetch.ContentType
		if idx := strings.Index(mime, ";"); idx >= 0 {
			mime = mime[:idx]
		}
		mime = strings.TrimSpace(mime)

		if IconWhitelist[mime] {
			w.ChosenURL = candidate
			w.ChosenMIME = mime
			w.Body = fetch.Body
			return
		}
	}

	w.Err = errNoIconFound
}

// candidates returns DOM/header-discovered icon URLs followed by the
// /favicon.ico fallback, deduplicated while preserving order.
func (w *FaviconWorker) candidates(base *url.URL) []string {
	var raw []string

	if w.DOM != nil {
		w.DOM.Find(`link[rel]`).Each(func(_ int, s *goquery.Selection) {
			rel, _ := s.Attr("rel")
			rel = strings.ToLower(strings.TrimSpace(rel))
			if rel != "icon" && rel != "shortcut icon" {
				return
			}
			if href, ok := s.Attr("href"); ok {
				raw = append(raw, href)
			}
		})
	}

	if w.LinkHeader != "" {
		for _, link := range linkheader.Parse(w.LinkHeader) {
			if strings.EqualFold(link.Rel, "icon") {
				raw = append(raw, link.URL)
			}
		}
	}

	fallback := *base
	fallback.Path = "/favicon.ico"
	fallback.RawQuery = ""
	raw = append(raw, fallback.String())

	seen := make(map[string]bool, len(raw))
	var out []string
	for _, r := range raw {
		resolved, err := base.Parse(r)
		if err != nil {
			continue
		}
		abs := resolved.String()
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

type faviconError string

func (e faviconError) Error() string { return string(e) }

const errNoIconFound = faviconError("workerpool: no whitelisted favicon found")
