// Package colly implements catalog.Fetcher on top of the Colly collector.
package colly

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/catalog"
	"github.com/bling0390/vivbliss/internal/config"
)

// Fetcher retrieves pages using a shared Colly collector. Each Fetch runs
// on a clone so per-request callbacks never leak across requests.
type Fetcher struct {
	base   *colly.Collector
	clock  catalog.Clock
	logger *zap.Logger
}

// New constructs a Fetcher from crawler configuration.
func New(cfg config.Config, clock catalog.Clock, logger *zap.Logger) (*Fetcher, error) {
	opts := []colly.CollectorOption{
		colly.Async(true),
		colly.UserAgent(cfg.Crawler.UserAgent),
		colly.MaxDepth(cfg.Crawler.MaxDepth),
	}
	if len(cfg.Crawler.AllowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(cfg.Crawler.AllowedDomains...))
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.Crawler.Concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.FetchTimeout(),
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.FetchTimeout())

	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Crawler.Concurrency,
		Delay:       time.Duration(cfg.Crawler.DelaySeconds) * time.Second,
	}); err != nil {
		return nil, err
	}

	return &Fetcher{
		base:   base,
		clock:  clock,
		logger: logger,
	}, nil
}

type fetchResult struct {
	response catalog.FetchResponse
	err      error
}

// Fetch retrieves one page. Revisits are the scheduler's problem, not the
// collector's, so dedup stays disabled here.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	collector := f.base.Clone()
	resultCh := make(chan fetchResult, 1)
	send := func(res fetchResult) {
		select {
		case resultCh <- res:
		default:
		}
	}
	started := f.clock.Now()

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{response: catalog.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
			Duration:   f.clock.Now().Sub(started),
		}})
	})

	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(request.URL); err != nil {
		return catalog.FetchResponse{}, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return catalog.FetchResponse{}, err
		}
		if res.err != nil {
			f.logger.Debug("fetch failed",
				zap.String("url", request.URL),
				zap.Error(res.err))
		}
		return res.response, res.err
	default:
		return catalog.FetchResponse{}, errors.New("colly fetch produced no result")
	}
}
