package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// File results used as the "result" label.
const (
	ResultLoaded    = "loaded"
	ResultDuplicate = "duplicate"
	ResultSkipped   = "skipped"
)

type Collector struct {
	reg *prometheus.Registry

	FilesFound prometheus.Gauge
	Files      *prometheus.CounterVec // result label: loaded|duplicate|skipped

	LoadDuration  prometheus.Histogram
	BatchDuration prometheus.Gauge // seconds, last completed batch
	LastSuccess   prometheus.Gauge // unix seconds

	EventsPublished   prometheus.Counter
	EventPublishErrs  prometheus.Counter
	NATSConnected     prometheus.Gauge
	StagedObjects     *prometheus.CounterVec // result label: downloaded|unchanged|rejected
	StageDownloadTime prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FilesFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripetl_files_found",
			Help: "Staged files found by the current batch.",
		}),
		Files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripetl_files_total",
			Help: "Staged files processed, by result.",
		}, []string{"result"}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripetl_load_duration_seconds",
			Help:    "Duration of extract, transform and load for one file.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		BatchDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripetl_batch_duration_seconds",
			Help: "Duration of the last completed batch.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripetl_last_success_timestamp_seconds",
			Help: "Unix time of the last batch that completed without a fatal error.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripetl_events_published_total",
			Help: "Total NATS events published.",
		}),
		EventPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripetl_event_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripetl_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		StagedObjects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripetl_staged_objects_total",
			Help: "Bucket objects considered by the staging mirror, by result.",
		}, []string{"result"}),
		StageDownloadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripetl_stage_download_duration_seconds",
			Help:    "Duration to download one staged object.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	reg.MustRegister(
		c.FilesFound, c.Files,
		c.LoadDuration, c.BatchDuration, c.LastSuccess,
		c.EventsPublished, c.EventPublishErrs, c.NATSConnected,
		c.StagedObjects, c.StageDownloadTime,
	)
	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// Push replaces the metrics of job on the Pushgateway at url.
func (c *Collector) Push(url, job string) error {
	return push.New(url, job).Gatherer(c.reg).Push()
}

// ObserveLoad records one file's outcome.
func (c *Collector) ObserveLoad(result string, d time.Duration) {
	c.Files.WithLabelValues(result).Inc()
	c.LoadDuration.Observe(d.Seconds())
}
