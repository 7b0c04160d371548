package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/afroash/aranet-archive/internal/history"
	"github.com/afroash/aranet-archive/internal/models"
)

const namespace = "aranet"

// Collector records archive progress in its own Prometheus registry.
// It satisfies history.Observer.
type Collector struct {
	registry *prometheus.Registry

	pages         *prometheus.CounterVec
	samples       *prometheus.CounterVec
	busyRetries   *prometheus.CounterVec
	kindFailures  *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	rows          prometheus.Gauge
	records       *prometheus.CounterVec
	sinkFailures  *prometheus.CounterVec
	lastArchive   prometheus.Gauge
}

var _ history.Observer = (*Collector)(nil)

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_pages_total",
			Help:      "History pages decoded, per parameter.",
		}, []string{"parameter"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_samples_total",
			Help:      "Samples delivered by completed parameter fetches.",
		}, []string{"parameter"}),
		busyRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_busy_retries_total",
			Help:      "Reads answered with the device busy status.",
		}, []string{"parameter"}),
		kindFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_decode_failures_total",
			Help:      "Parameter fetches aborted by a decode error.",
		}, []string{"parameter"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_fetch_duration_seconds",
			Help:      "Wall time of a full four-parameter history fetch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_rows",
			Help:      "Timestamp rows held after the last fetch.",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_records_total",
			Help:      "Archive records handed to each sink.",
		}, []string{"sink"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_sink_failures_total",
			Help:      "Sink deliveries that returned an error.",
		}, []string{"sink"}),
		lastArchive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_last_success_timestamp_seconds",
			Help:      "UNIX time of the last successful archive run.",
		}),
	}

	c.registry.MustRegister(
		c.pages, c.samples, c.busyRetries, c.kindFailures,
		c.fetchDuration, c.rows, c.records, c.sinkFailures, c.lastArchive,
	)
	return c
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) PageDecoded(kind models.ParameterKind, _ int) {
	c.pages.WithLabelValues(kind.Column()).Inc()
}

func (c *Collector) BusyRetry(kind models.ParameterKind) {
	c.busyRetries.WithLabelValues(kind.Column()).Inc()
}

func (c *Collector) KindCompleted(kind models.ParameterKind, samples int) {
	c.samples.WithLabelValues(kind.Column()).Add(float64(samples))
}

func (c *Collector) KindFailed(kind models.ParameterKind) {
	c.kindFailures.WithLabelValues(kind.Column()).Inc()
}

func (c *Collector) FetchCompleted(elapsed time.Duration, rows int) {
	c.fetchDuration.Observe(elapsed.Seconds())
	c.rows.Set(float64(rows))
}

// RecordsArchived counts records delivered to sink.
func (c *Collector) RecordsArchived(sink string, n int) {
	c.records.WithLabelValues(sink).Add(float64(n))
}

// SinkFailed counts a failed delivery to sink.
func (c *Collector) SinkFailed(sink string) {
	c.sinkFailures.WithLabelValues(sink).Inc()
}

// ArchiveSucceeded stamps the time of a completed run.
func (c *Collector) ArchiveSucceeded(at time.Time) {
	c.lastArchive.Set(float64(at.Unix()))
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
