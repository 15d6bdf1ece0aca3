// Package metrics exposes Prometheus collectors for a crawl run.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Recorder implements crawler.Observer on a Prometheus registry.
type Recorder struct {
	pagesFetched    prometheus.Counter
	pageFailures    *prometheus.CounterVec
	listingsKept    prometheus.Counter
	detailsEnriched prometheus.Counter
	detailFailures  *prometheus.CounterVec
	throttleSeconds *prometheus.HistogramVec
	robotsFallbacks *prometheus.CounterVec

	runDuration   prometheus.Gauge
	runListings   prometheus.Gauge
	runEnriched   prometheus.Gauge
	lastRunFinish prometheus.Gauge
	runStops      *prometheus.CounterVec
}

// NewRecorder registers the collectors against the provided registry.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_listing_pages_fetched_total",
			Help: "Listing pages fetched successfully.",
		}),
		pageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_listing_page_failures_total",
			Help: "Listing page fetches that ended pagination, by error kind.",
		}, []string{"kind"}),
		listingsKept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_listings_collected_total",
			Help: "Listing records kept after the target cap.",
		}),
		detailsEnriched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_details_enriched_total",
			Help: "Records enriched from their detail page.",
		}),
		detailFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_detail_failures_total",
			Help: "Records dropped during enrichment, by error kind.",
		}, []string{"kind"}),
		throttleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_throttle_delay_seconds",
			Help:    "Politeness delays slept, by crawl phase.",
			Buckets: []float64{0.5, 1, 2, 3, 4, 5, 7, 10},
		}, []string{"phase"}),
		robotsFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_robots_fallback_total",
			Help: "Hosts whose robots.txt was unreachable and treated as allow-all, by reason.",
		}, []string{"reason"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		runListings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_run_listings",
			Help: "Listing records collected by the last run.",
		}),
		runEnriched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_run_details_enriched",
			Help: "Records enriched by the last run.",
		}),
		lastRunFinish: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_last_run_finished_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
		runStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_runs_total",
			Help: "Finished runs, by listing-phase stop reason.",
		}, []string{"stopped_by"}),
	}
	for _, collector := range []prometheus.Collector{
		r.pagesFetched,
		r.pageFailures,
		r.listingsKept,
		r.detailsEnriched,
		r.detailFailures,
		r.throttleSeconds,
		r.robotsFallbacks,
		r.runDuration,
		r.runListings,
		r.runEnriched,
		r.lastRunFinish,
		r.runStops,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register crawl collector: %w", err)
		}
	}
	return r, nil
}

// PageFetched counts a listing page and the records it contributed.
func (r *Recorder) PageFetched(records int) {
	r.pagesFetched.Inc()
	r.listingsKept.Add(float64(records))
}

// PageFailed counts the fetch failure that ended pagination.
func (r *Recorder) PageFailed(err error) {
	r.pageFailures.WithLabelValues(crawler.ErrorKind(err)).Inc()
}

// DetailEnriched counts an enriched record.
func (r *Recorder) DetailEnriched() {
	r.detailsEnriched.Inc()
}

// DetailFailed counts a dropped record.
func (r *Recorder) DetailFailed(err error) {
	r.detailFailures.WithLabelValues(crawler.ErrorKind(err)).Inc()
}

// Throttled observes a politeness delay.
func (r *Recorder) Throttled(phase string, d time.Duration) {
	r.throttleSeconds.WithLabelValues(phase).Observe(d.Seconds())
}

// RobotsFallback counts a host crawled without a readable robots.txt.
func (r *Recorder) RobotsFallback(_ string, reason string) {
	r.robotsFallbacks.WithLabelValues(reason).Inc()
}

// RecordSummary sets the per-run gauges from a finished run.
func (r *Recorder) RecordSummary(s crawler.Summary) {
	if !s.FinishedAt.IsZero() {
		r.runDuration.Set(s.FinishedAt.Sub(s.StartedAt).Seconds())
		r.lastRunFinish.Set(float64(s.FinishedAt.Unix()))
	}
	r.runListings.Set(float64(s.ListingsCollected))
	r.runEnriched.Set(float64(s.DetailsEnriched))
	r.runStops.WithLabelValues(string(s.StoppedBy)).Inc()
}

// Push sends everything gathered by g to a Pushgateway, grouped by job and
// run ID. Batch jobs exit before any scrape could happen.
func Push(ctx context.Context, gatewayURL, job, runID string, g prometheus.Gatherer) error {
	if gatewayURL == "" {
		return errors.New("pushgateway url is required")
	}
	pusher := push.New(gatewayURL, job).Gatherer(g)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
