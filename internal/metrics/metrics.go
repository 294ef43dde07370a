// Package metrics exposes Prometheus collectors for the catalog crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors are constructed at declaration so that recording is always
// safe; Init only registers them for scraping.
var (
	crawlerPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_crawler_pages_total",
			Help: "Total number of pages fetched, labeled by site and kind.",
		},
		[]string{"site", "kind"},
	)

	crawlerProductsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_crawler_products_total",
			Help: "Total number of products extracted, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	crawlerDirectoriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_crawler_directories_total",
			Help: "Total number of directories, labeled by event.",
		},
		[]string{"event"},
	)

	crawlerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_crawler_queue_depth",
			Help: "Number of work items currently admitted and not yet dequeued.",
		},
	)

	crawlerActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_crawler_active_workers",
			Help: "Number of workers currently processing a work item.",
		},
	)

	crawlerFetchDurationSecond = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_crawler_fetch_duration_seconds",
			Help:    "Histogram of fetch latencies, labeled by site.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"site"},
	)

	once sync.Once
)

// Init registers the collectors with the default Prometheus registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			crawlerPagesTotal,
			crawlerProductsTotal,
			crawlerDirectoriesTotal,
			crawlerQueueDepth,
			crawlerActiveWorkers,
			crawlerFetchDurationSecond,
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page counter and records fetch latency.
func ObservePage(site, kind string, duration time.Duration) {
	sanitized := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitized, kind).Inc()
	crawlerFetchDurationSecond.WithLabelValues(sanitized).Observe(duration.Seconds())
}

// ObserveProduct increments the product counter for the given outcome.
func ObserveProduct(outcome string) {
	crawlerProductsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDirectory increments the directory counter for the given event.
func ObserveDirectory(event string) {
	crawlerDirectoriesTotal.WithLabelValues(event).Inc()
}

// SetQueueDepth records the current scheduler queue depth.
func SetQueueDepth(depth int) {
	crawlerQueueDepth.Set(float64(depth))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}
