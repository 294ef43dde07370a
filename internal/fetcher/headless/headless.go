// Package headless renders catalog pages through headless Chrome for
// sites that build their product grids with JavaScript.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bling0390/vivbliss/internal/catalog"
	"github.com/bling0390/vivbliss/internal/config"
)

// ErrDisabled indicates rendering has been turned off via configuration.
var ErrDisabled = errors.New("headless rendering disabled")

// Fetcher implements catalog.Fetcher with a shared headless browser.
// A semaphore bounds concurrent tabs and a per-host limiter keeps the
// render pressure on any one site reasonable.
type Fetcher struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	clock           catalog.Clock
	sem             chan struct{}
	timeout         time.Duration
	userAgent       string
	hostLimiters    sync.Map
	hostQPS         float64
}

// New starts the browser and warms it up. Returns ErrDisabled when the
// configuration turns headless off.
func New(cfg config.Config, clock catalog.Clock, logger *zap.Logger) (*Fetcher, error) {
	if !cfg.Headless.Enabled || cfg.Headless.MaxParallel <= 0 {
		return nil, ErrDisabled
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.Crawler.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	qps := 1.0
	if cfg.Crawler.DelaySeconds > 0 {
		qps = 1.0 / float64(cfg.Crawler.DelaySeconds)
	}

	return &Fetcher{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		clock:           clock,
		sem:             make(chan struct{}, cfg.Headless.MaxParallel),
		timeout:         time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		userAgent:       cfg.Crawler.UserAgent,
		hostQPS:         qps,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (f *Fetcher) Close() error {
	if f == nil {
		return nil
	}
	f.browserCancel()
	f.allocatorCancel()
	return nil
}

// Fetch navigates to the URL in a fresh tab and returns the settled DOM.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	if f == nil {
		return catalog.FetchResponse{}, ErrDisabled
	}

	select {
	case f.sem <- struct{}{}:
		defer func() { <-f.sem }()
	case <-ctx.Done():
		return catalog.FetchResponse{}, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}

	if err := f.waitHostBudget(ctx, request.URL); err != nil {
		return catalog.FetchResponse{}, fmt.Errorf("render rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, f.timeout)
	defer cancelTask()

	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.record(int(resp.Response.Status), resp.Response.URL)
	})

	started := f.clock.Now()
	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(f.userAgent),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return catalog.FetchResponse{}, fmt.Errorf("chromedp run: %w", err)
	}

	statusCode, metaURL := meta.snapshot()
	finalURL := request.URL
	if metaURL != "" {
		finalURL = metaURL
	}
	return catalog.FetchResponse{
		URL:          finalURL,
		StatusCode:   statusCode,
		Body:         []byte(html),
		Duration:     f.clock.Now().Sub(started),
		UsedHeadless: true,
	}, nil
}

// responseMeta captures the document response from the event goroutine.
// The mutex gives the reader a happens-before edge with the listener.
type responseMeta struct {
	mu         sync.Mutex
	recorded   bool
	statusCode int
	finalURL   string
}

// record keeps the first document response and ignores the rest.
func (m *responseMeta) record(statusCode int, finalURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recorded {
		return
	}
	m.recorded = true
	m.statusCode = statusCode
	m.finalURL = finalURL
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCode, m.finalURL
}

func (f *Fetcher) waitHostBudget(ctx context.Context, rawURL string) error {
	if f.hostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := f.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(f.hostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	return limiter.Wait(ctx)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
