package workerpool

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/pkg/models"
)

// RobotsWorker fetches /robots.txt relative to the content URL. Rules only
// apply when the file specifically mentions "Perma" as a user-agent, per
// spec §4.3.
type RobotsWorker struct {
	Client     *http.Client
	ContentURL string
	State      *models.CaptureState

	Disallowed bool
	Err        error

	logger *log.FieldedLogger
}

func NewRobotsWorker(client *http.Client, contentURL string, state *models.CaptureState) *RobotsWorker {
	return &RobotsWorker{
		Client:     client,
		ContentURL: contentURL,
		State:      state,
		logger:     log.NewFieldedLogger(&log.Fields{"component": "workerpool.robots"}),
	}
}

func (w *RobotsWorker) PendingBytes() int64 { return 0 }

func (w *RobotsWorker) Run(ctx context.Context) {
	u, err := url.Parse(w.ContentURL)
	if err != nil {
		w.Err = err
		return
	}
	u.Path = "/robots.txt"
	u.RawQuery = ""

	fetch := NewFetchWorker(w.Client, u.String(), w.State)
	fetch.Run(ctx)
	if fetch.Err != nil {
		w.Err = fetch.Err
		return
	}

	w.Disallowed = permaDisallowed(string(fetch.Body))
}

// permaDisallowed parses a robots.txt body and reports whether a rule
// specifically scoped to the "Perma" user-agent disallows the whole site.
// Rules under "*" or any other agent are ignored, per spec §4.3: "Only
// applies rules when the file mentions Perma specifically."
func permaDisallowed(body string) bool {
	lines := strings.Split(body, "\n")

	inPermaBlock := false
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "user-agent:"):
			agent := strings.TrimSpace(line[len("user-agent:"):])
			inPermaBlock = strings.EqualFold(agent, "perma")
		case inPermaBlock && strings.HasPrefix(lower, "disallow:"):
			path := strings.TrimSpace(line[len("disallow:"):])
			if path == "/" {
				return true
			}
		}
	}
	return false
}
