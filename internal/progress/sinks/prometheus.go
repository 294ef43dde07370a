package sinks

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bling0390/vivbliss/internal/progress"
)

// PrometheusSink exports crawl progress metrics. It owns all collectors for
// directory lifecycle counts and per-level product outcomes.
type PrometheusSink struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	sessionRuntime    prometheus.Histogram

	directoriesActive    prometheus.Gauge
	directoriesCompleted *prometheus.CounterVec
	productOutcomes      *prometheus.CounterVec

	fetchRequests *prometheus.CounterVec
	fetchDuration prometheus.Histogram

	tracker *directoryTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_sessions_started_total",
			Help: "Total crawl sessions started.",
		}),
		sessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_sessions_completed_total",
			Help: "Total crawl sessions completed.",
		}),
		sessionRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalog_session_runtime_seconds",
			Help:    "Wall time per completed crawl session.",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600},
		}),
		directoriesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_directories_active",
			Help: "Directories currently being drained.",
		}),
		directoriesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_directories_completed_total",
			Help: "Directories fully drained, partitioned by hierarchy level.",
		}, []string{"level"}),
		productOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_progress_products_total",
			Help: "Product outcomes observed on the progress stream.",
		}, []string{"outcome"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_progress_fetches_total",
			Help: "Fetch completions partitioned by status code.",
		}, []string{"status"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalog_progress_fetch_duration_seconds",
			Help:    "Fetch duration observed on the progress stream.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),
		tracker: newDirectoryTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsCompleted,
		s.sessionRuntime,
		s.directoriesActive,
		s.directoriesCompleted,
		s.productOutcomes,
		s.fetchRequests,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageSessionStart:
		s.sessionsStarted.Inc()
	case progress.StageSessionDone:
		s.sessionsCompleted.Inc()
		if evt.Dur > 0 {
			s.sessionRuntime.Observe(evt.Dur.Seconds())
		}
	case progress.StageDirectoryActive:
		if s.tracker.activate(evt.Directory) {
			s.directoriesActive.Inc()
		}
	case progress.StageDirectoryCompleted:
		if s.tracker.complete(evt.Directory) {
			s.directoriesActive.Dec()
		}
		s.directoriesCompleted.WithLabelValues(strconv.Itoa(evt.Level)).Inc()
	case progress.StageProductSaved:
		s.productOutcomes.WithLabelValues("saved").Inc()
	case progress.StageProductFailed:
		s.productOutcomes.WithLabelValues("failed").Inc()
	case progress.StageFetchDone:
		s.fetchRequests.WithLabelValues(strconv.Itoa(evt.StatusCode)).Inc()
		if evt.Dur > 0 {
			s.fetchDuration.Observe(evt.Dur.Seconds())
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type directoryTracker struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newDirectoryTracker() *directoryTracker {
	return &directoryTracker{active: make(map[string]struct{})}
}

func (t *directoryTracker) activate(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[path]; ok {
		return false
	}
	t.active[path] = struct{}{}
	return true
}

func (t *directoryTracker) complete(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[path]; !ok {
		return false
	}
	delete(t.active, path)
	return true
}
