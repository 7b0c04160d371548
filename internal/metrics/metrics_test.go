package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/afroash/aranet-archive/internal/models"
)

func TestCollectorObserverEvents(t *testing.T) {
	c := NewCollector()

	c.PageDecoded(models.Temperature, 120)
	c.PageDecoded(models.Temperature, 0)
	c.BusyRetry(models.CO2)
	c.KindCompleted(models.Humidity, 250)
	c.KindFailed(models.Pressure)
	c.FetchCompleted(3*time.Second, 248)

	if got := testutil.ToFloat64(c.pages.WithLabelValues("temperature")); got != 2 {
		t.Fatalf("expected 2 temperature pages, got %f", got)
	}
	if got := testutil.ToFloat64(c.busyRetries.WithLabelValues("co2")); got != 1 {
		t.Fatalf("expected 1 co2 busy retry, got %f", got)
	}
	if got := testutil.ToFloat64(c.samples.WithLabelValues("humidity")); got != 250 {
		t.Fatalf("expected 250 humidity samples, got %f", got)
	}
	if got := testutil.ToFloat64(c.kindFailures.WithLabelValues("pressure")); got != 1 {
		t.Fatalf("expected 1 pressure failure, got %f", got)
	}
	if got := testutil.ToFloat64(c.rows); got != 248 {
		t.Fatalf("expected rows gauge 248, got %f", got)
	}
	if samples := testutil.CollectAndCount(c.fetchDuration); samples != 1 {
		t.Fatalf("expected fetch histogram to record 1 sample, got %d", samples)
	}
}

func TestCollectorSinks(t *testing.T) {
	c := NewCollector()

	c.RecordsArchived("csv", 10)
	c.RecordsArchived("csv", 5)
	c.SinkFailed("mqtt")
	c.ArchiveSucceeded(time.Unix(1738623579, 0))

	if got := testutil.ToFloat64(c.records.WithLabelValues("csv")); got != 15 {
		t.Fatalf("expected 15 csv records, got %f", got)
	}
	if got := testutil.ToFloat64(c.sinkFailures.WithLabelValues("mqtt")); got != 1 {
		t.Fatalf("expected 1 mqtt failure, got %f", got)
	}
	if got := testutil.ToFloat64(c.lastArchive); got != 1738623579 {
		t.Fatalf("expected last archive 1738623579, got %f", got)
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.BusyRetry(models.CO2)

	if got := testutil.ToFloat64(b.busyRetries.WithLabelValues("co2")); got != 0 {
		t.Fatalf("expected separate registries, got %f", got)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.RecordsArchived("sqlite", 3)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `aranet_archive_records_total{sink="sqlite"} 3`) {
		t.Fatalf("metrics output missing sqlite counter:\n%s", body)
	}
}
