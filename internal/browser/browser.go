// Package browser drives a headless browser through the Recording Proxy,
// per spec §4.2: navigate, DOM snapshot, frame walk, scroll, screenshot,
// and a liveness probe.
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/harvard-lil/perma-capture/internal/pkg/log"
)

// Config configures one Controller for one capture.
type Config struct {
	ProxyAddress      string
	UserAgent         string
	WindowWidth       int
	WindowHeight      int
	AcceptUntrustedCerts bool
}

// Controller wraps a rod.Browser configured for one capture.
type Controller struct {
	cfg     Config
	browser *rod.Browser
	page    *rod.Page
	logger  *log.FieldedLogger
}

const (
	defaultWindowWidth  = 1024
	defaultWindowHeight = 800
)

// New launches a headless browser routed through cfg.ProxyAddress. The
// browser accepts the proxy's MITM CA (AcceptUntrustedCerts) and opens with
// a fixed initial window size.
func New(cfg Config) (*Controller, error) {
	logger := log.NewFieldedLogger(&log.Fields{"component": "browser"})

	if cfg.WindowWidth == 0 {
		cfg.WindowWidth = defaultWindowWidth
	}
	if cfg.WindowHeight == 0 {
		cfg.WindowHeight = defaultWindowHeight
	}

	l := launcher.New().
		Proxy(cfg.ProxyAddress).
		Headless(true)
	if cfg.AcceptUntrustedCerts {
		l.Set("ignore-certificate-errors", "")
	}

	url, err := l.Launch()
	if err != nil {
		return nil, err
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, err
	}

	page, err := stealth.Page(browser)
	if err != nil {
		browser.Close()
		return nil, err
	}

	if cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
			logger.Warn("failed to set user agent", "err", err)
		}
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  cfg.WindowWidth,
		Height: cfg.WindowHeight,
	}); err != nil {
		logger.Warn("failed to set viewport", "err", err)
	}

	return &Controller{cfg: cfg, browser: browser, page: page, logger: logger}, nil
}

// Navigate loads url and returns once onload fires or ctx's deadline
// elapses. The orchestrator only logs an error from here; a capture fails
// at phase 5 when no useful response arrives in time.
func (c *Controller) Navigate(ctx context.Context, url string) error {
	if err := c.page.Context(ctx).Navigate(url); err != nil {
		return err
	}
	return c.page.Context(ctx).WaitLoad()
}

// DOMSnapshot serializes document.documentElement.outerHTML via an in-page
// script, falling back to the browser's raw page source on failure. Errors
// here are non-fatal per spec §4.2.
func (c *Controller) DOMSnapshot(ctx context.Context) (string, error) {
	result, err := c.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err == nil && result != nil {
		return result.Value.String(), nil
	}

	html, fallbackErr := c.page.Context(ctx).HTML()
	if fallbackErr != nil {
		return "", errors.Join(err, fallbackErr)
	}
	return html, nil
}

// Scroll performs a best-effort JS-side animated scroll to the bottom and
// back, sleeping at most 1s for it to finish.
func (c *Controller) Scroll(ctx context.Context) error {
	_, err := c.page.Context(ctx).Eval(`() => {
		window.scrollTo({top: document.body.scrollHeight, behavior: "smooth"});
		return true;
	}`)
	if err != nil {
		return err
	}

	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
	}

	_, err = c.page.Context(ctx).Eval(`() => {
		window.scrollTo({top: 0, behavior: "smooth"});
		return true;
	}`)
	return err
}

// RunScript evaluates an arbitrary per-domain post-load script in the page,
// per spec §4.5 step 7. Errors are returned rather than swallowed so the
// caller can apply its own best-effort/degrade-on-error handling (spec §7);
// this method itself does not decide what "degraded" means.
func (c *Controller) RunScript(ctx context.Context, script string) error {
	_, err := c.page.Context(ctx).Eval(script)
	return err
}

// Screenshot returns a full-page PNG if width*height is within
// maxImagePixels, else (nil, nil). For Chrome, the page is resized to its
// content dimensions first so the screenshot captures the full page.
func (c *Controller) Screenshot(ctx context.Context, maxImagePixels int64) ([]byte, error) {
	metrics, err := c.page.Context(ctx).Eval(`() => ({
		width: Math.max(document.body.scrollWidth, document.documentElement.scrollWidth),
		height: Math.max(document.body.scrollHeight, document.documentElement.scrollHeight),
	})`)
	if err != nil {
		return nil, err
	}

	width := int(metrics.Value.Get("width").Int())
	height := int(metrics.Value.Get("height").Int())
	if width <= 0 || height <= 0 {
		return nil, errors.New("browser: could not determine page dimensions")
	}

	if int64(width)*int64(height) >= maxImagePixels {
		return nil, nil
	}

	if err := c.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width: width, Height: height,
	}); err != nil {
		c.logger.Warn("failed to resize for screenshot", "err", err)
	}

	return c.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Alive reports whether the browser process is still running.
func (c *Controller) Alive() bool {
	if c.browser == nil {
		return false
	}
	_, err := c.browser.Version()
	return err == nil
}

// Close tears down the browser. The handle must not be used after Close.
func (c *Controller) Close() error {
	if c.browser == nil {
		return nil
	}
	return c.browser.Close()
}

// Page exposes the underlying rod.Page for the frame walk and asset
// discovery helpers in internal/capture and internal/workerpool, which
// need lower-level access than this controller's fixed operation set.
func (c *Controller) Page() *rod.Page {
	return c.page
}
