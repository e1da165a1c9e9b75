// Package telemetry exposes Prometheus collectors for the face search service.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlRunsTotal             prometheus.Counter
	crawlSourcesTotal          *prometheus.CounterVec
	crawlURLsDiscoveredTotal   *prometheus.CounterVec
	crawlCaptchaTotal          *prometheus.CounterVec
	indexItemsTotal            *prometheus.CounterVec
	indexSize                  prometheus.Gauge
	searchRequestsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlRunsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "facesearch_crawl_runs_total",
				Help: "Total number of crawl runs started.",
			},
		)

		crawlSourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facesearch_crawl_sources_total",
				Help: "Total number of source crawls, labeled by source.",
			},
			[]string{"source"},
		)

		crawlURLsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facesearch_crawl_urls_discovered_total",
				Help: "Total image URLs discovered, labeled by source and novelty.",
			},
			[]string{"source", "novelty"},
		)

		crawlCaptchaTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facesearch_crawl_captcha_total",
				Help: "Total CAPTCHA detections, labeled by source.",
			},
			[]string{"source"},
		)

		indexItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facesearch_index_items_total",
				Help: "Total indexing pipeline outcomes, labeled by result.",
			},
			[]string{"result"},
		)

		indexSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "facesearch_index_size",
				Help: "Number of face records currently in the index.",
			},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facesearch_search_requests_total",
				Help: "Total search requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncCrawlRuns increments the crawl run counter.
func IncCrawlRuns() {
	if crawlRunsTotal == nil {
		return
	}
	crawlRunsTotal.Inc()
}

// ObserveSourceCrawl records one completed source crawl.
func ObserveSourceCrawl(source string, discovered, fresh int) {
	if crawlSourcesTotal == nil {
		return
	}
	crawlSourcesTotal.WithLabelValues(source).Inc()
	crawlURLsDiscoveredTotal.WithLabelValues(source, "known").Add(float64(discovered - fresh))
	crawlURLsDiscoveredTotal.WithLabelValues(source, "new").Add(float64(fresh))
}

// IncCaptchaDetections increments the CAPTCHA counter for a source.
func IncCaptchaDetections(source string) {
	if crawlCaptchaTotal == nil {
		return
	}
	crawlCaptchaTotal.WithLabelValues(source).Inc()
}

// ObserveIndexItem increments the indexing outcome counter.
func ObserveIndexItem(result string) {
	if indexItemsTotal == nil {
		return
	}
	indexItemsTotal.WithLabelValues(result).Inc()
}

// SetIndexSize records the current number of indexed face records.
func SetIndexSize(n int) {
	if indexSize == nil {
		return
	}
	indexSize.Set(float64(n))
}

// ObserveSearch increments the search request counter for an outcome.
func ObserveSearch(outcome string) {
	if searchRequestsTotal == nil {
		return
	}
	searchRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
