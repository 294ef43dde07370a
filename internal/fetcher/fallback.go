// Package fetcher combines the plain HTTP fetcher with the headless
// renderer: thin or failed responses escalate to the browser.
package fetcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/catalog"
)

// Fallback tries the primary fetcher first and escalates to the headless
// fetcher when the primary fails or returns less HTML than minHTMLBytes.
// A nil headless fetcher disables escalation.
type Fallback struct {
	primary      catalog.Fetcher
	headless     catalog.Fetcher
	minHTMLBytes int
	logger       *zap.Logger
}

// NewFallback wires the two fetchers together.
func NewFallback(primary, headless catalog.Fetcher, minHTMLBytes int, logger *zap.Logger) *Fallback {
	return &Fallback{
		primary:      primary,
		headless:     headless,
		minHTMLBytes: minHTMLBytes,
		logger:       logger,
	}
}

// Fetch implements catalog.Fetcher.
func (f *Fallback) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	if request.UseHeadless && f.headless != nil {
		return f.headless.Fetch(ctx, request)
	}

	resp, err := f.primary.Fetch(ctx, request)
	if f.headless == nil {
		return resp, err
	}

	switch {
	case err != nil:
		f.logger.Debug("escalating to headless after fetch error",
			zap.String("url", request.URL),
			zap.Error(err))
	case len(resp.Body) < f.minHTMLBytes:
		f.logger.Debug("escalating to headless on thin response",
			zap.String("url", request.URL),
			zap.Int("bytes", len(resp.Body)))
	default:
		return resp, nil
	}

	return f.headless.Fetch(ctx, request)
}
